package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
)

// Delivery lifecycle of a stored record. Pending and exhausted records can be
// redelivered out-of-band; delivered is terminal.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryExhausted = "exhausted"
)

// StoredRecord is a settlement record plus its delivery bookkeeping.
type StoredRecord struct {
	Record         model.SettlementRecord
	DeliveryStatus string
	Attempts       int
}

// Store persists settlement records in sqlite with a flock guarding writes
// across processes.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "create settlement store directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "create settlement lock directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "open settlement sqlite", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS settlements (
			record_id TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			blockchain TEXT NOT NULL,
			delivery_status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_settlements_status_updated ON settlements(delivery_status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, piperr.Wrap(piperr.CodeInternal, "init settlement schema", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return piperr.Wrap(piperr.CodeInternal, "lock settlement store", err)
	}
	if !locked {
		return piperr.New(piperr.CodeInternal, "lock settlement store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// Save inserts a record as pending delivery. Re-saving the same record id
// refreshes the payload but never resurrects a delivered record.
func (s *Store) Save(record model.SettlementRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return piperr.New(piperr.CodeValidation, "save settlement: missing record id")
	}
	return s.withLock(func() error {
		payload, err := json.Marshal(record)
		if err != nil {
			return piperr.Wrap(piperr.CodeInternal, "marshal settlement record", err)
		}
		now := time.Now().UTC().Unix()
		_, err = s.db.Exec(`
			INSERT INTO settlements (record_id, wallet_address, blockchain, delivery_status, attempts, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				payload=excluded.payload,
				updated_at=excluded.updated_at
		`, record.ID, record.WalletAddress, record.Blockchain, DeliveryPending, now, now, payload)
		if err != nil {
			return piperr.Wrap(piperr.CodeInternal, "save settlement record", err)
		}
		return nil
	})
}

func (s *Store) markDelivery(recordID, status string, attempts int) error {
	return s.withLock(func() error {
		res, err := s.db.Exec(`
			UPDATE settlements SET delivery_status = ?, attempts = ?, updated_at = ?
			WHERE record_id = ?
		`, status, attempts, time.Now().UTC().Unix(), recordID)
		if err != nil {
			return piperr.Wrap(piperr.CodeInternal, "update settlement delivery", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return piperr.New(piperr.CodeValidation, "settlement record not found: "+recordID)
		}
		return nil
	})
}

func (s *Store) MarkDelivered(recordID string, attempts int) error {
	return s.markDelivery(recordID, DeliveryDelivered, attempts)
}

func (s *Store) MarkExhausted(recordID string, attempts int) error {
	return s.markDelivery(recordID, DeliveryExhausted, attempts)
}

func (s *Store) Get(recordID string) (StoredRecord, error) {
	var (
		payload  []byte
		status   string
		attempts int
	)
	err := s.db.QueryRow(
		"SELECT payload, delivery_status, attempts FROM settlements WHERE record_id = ?",
		recordID,
	).Scan(&payload, &status, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredRecord{}, piperr.New(piperr.CodeValidation, "settlement record not found: "+recordID)
		}
		return StoredRecord{}, piperr.Wrap(piperr.CodeInternal, "read settlement record", err)
	}
	var record model.SettlementRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return StoredRecord{}, piperr.Wrap(piperr.CodeInternal, "decode settlement payload", err)
	}
	return StoredRecord{Record: record, DeliveryStatus: status, Attempts: attempts}, nil
}

func (s *Store) List(status string, limit int) ([]StoredRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query(
			"SELECT payload, delivery_status, attempts FROM settlements ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(
			"SELECT payload, delivery_status, attempts FROM settlements WHERE delivery_status = ? ORDER BY updated_at DESC LIMIT ?",
			status, limit)
	}
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "list settlement records", err)
	}
	defer rows.Close()

	records := make([]StoredRecord, 0)
	for rows.Next() {
		var (
			payload  []byte
			st       string
			attempts int
		)
		if err := rows.Scan(&payload, &st, &attempts); err != nil {
			return nil, piperr.Wrap(piperr.CodeInternal, "scan settlement row", err)
		}
		var record model.SettlementRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, piperr.Wrap(piperr.CodeInternal, "decode settlement row", err)
		}
		records = append(records, StoredRecord{Record: record, DeliveryStatus: st, Attempts: attempts})
	}
	if err := rows.Err(); err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "iterate settlement rows", err)
	}
	return records, nil
}
