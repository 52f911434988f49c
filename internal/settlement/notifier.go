package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
)

// RetryConfig bounds the webhook delivery loop. Delay doubles per attempt
// and is capped by MaxDelay.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// Notifier delivers settlement records to the downstream ledger with
// at-least-once semantics. Every record is persisted before the first
// attempt so an exhausted delivery can be retried out-of-band.
type Notifier struct {
	endpoint string
	client   *http.Client
	retry    RetryConfig
	store    *Store
	log      *zap.Logger
}

func NewNotifier(endpoint string, retry RetryConfig, store *Store, log *zap.Logger) *Notifier {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetry
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = DefaultRetry.MaxDelay
	}
	return &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    retry,
		store:    store,
		log:      log,
	}
}

// Deliver posts the record to the ledger endpoint, retrying on any
// non-2xx response or network failure. The returned attempt count covers
// this invocation only. On exhaustion the error carries the record id so
// the ledger write can be redriven later; the on-chain trade outcome is
// unaffected either way.
func (n *Notifier) Deliver(ctx context.Context, record model.SettlementRecord) (int, error) {
	if err := n.store.Save(record); err != nil {
		return 0, err
	}
	attempts, err := n.attemptLoop(ctx, record, 0)
	if err != nil {
		if markErr := n.store.MarkExhausted(record.ID, attempts); markErr != nil {
			n.log.Error("mark settlement exhausted", zap.String("record_id", record.ID), zap.Error(markErr))
		}
		return attempts, err
	}
	if markErr := n.store.MarkDelivered(record.ID, attempts); markErr != nil {
		n.log.Error("mark settlement delivered", zap.String("record_id", record.ID), zap.Error(markErr))
	}
	return attempts, nil
}

// Redeliver retries a previously stored record by id. Already-delivered
// records are a no-op.
func (n *Notifier) Redeliver(ctx context.Context, recordID string) error {
	stored, err := n.store.Get(recordID)
	if err != nil {
		return err
	}
	if stored.DeliveryStatus == DeliveryDelivered {
		n.log.Info("settlement already delivered", zap.String("record_id", recordID))
		return nil
	}
	attempts, err := n.attemptLoop(ctx, stored.Record, stored.Attempts)
	if err != nil {
		if markErr := n.store.MarkExhausted(recordID, attempts); markErr != nil {
			n.log.Error("mark settlement exhausted", zap.String("record_id", recordID), zap.Error(markErr))
		}
		return err
	}
	return n.store.MarkDelivered(recordID, attempts)
}

func (n *Notifier) attemptLoop(ctx context.Context, record model.SettlementRecord, priorAttempts int) (int, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return priorAttempts, piperr.Wrap(piperr.CodeInternal, "encode settlement record", err)
	}

	var lastErr error
	delay := n.retry.BaseDelay
	total := priorAttempts

	for attempt := 1; attempt <= n.retry.MaxAttempts; attempt++ {
		total++
		lastErr = n.post(ctx, body)
		if lastErr == nil {
			return total, nil
		}
		n.log.Warn("settlement delivery attempt failed",
			zap.String("record_id", record.ID),
			zap.Int("attempt", total),
			zap.Error(lastErr))

		if attempt == n.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return total, piperr.Wrap(piperr.CodeInternal, "settlement delivery canceled", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > n.retry.MaxDelay {
			delay = n.retry.MaxDelay
		}
	}

	return total, piperr.Wrap(piperr.CodeDeliveryExhausted,
		fmt.Sprintf("settlement %s not delivered after %d attempts; retry out-of-band with the record id", record.ID, total),
		lastErr)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("ledger responded %d: %s", resp.StatusCode, string(snippet))
}
