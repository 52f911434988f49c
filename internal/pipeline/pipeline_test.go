package pipeline

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/aggregator"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/allowance"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/chain"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/httpx"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/quote"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/settlement"
)

const (
	testSigner = "0x1111111111111111111111111111111111111111"
	testRouter = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
)

type fakeReader struct {
	balance   *big.Int
	allowance *big.Int
}

func (f *fakeReader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeReader) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeReader) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeReader) BaseFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeReader) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// aggregatorStub serves both the quote and build endpoints.
func aggregatorStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/quote"):
			_, _ = w.Write([]byte(`{
				"fromAmount": "100000000",
				"toAmount": "4000000000000000000",
				"toAmountMin": "3980000000000000000",
				"estimatedGas": "210000",
				"routerAddress": "` + testRouter + `"
			}`))
		case strings.HasPrefix(r.URL.Path, "/v1/build"):
			_, _ = w.Write([]byte(`{
				"transaction": {"to": "` + testRouter + `", "data": "0xfeed", "value": "0", "gas": "210000"},
				"toAmount": "4000000000000000000"
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, reader chain.Reader, ledgerURL string) *Pipeline {
	t.Helper()
	srv := aggregatorStub(t)
	agg := aggregator.New(httpx.New(2*time.Second, 0), srv.URL)

	dir := t.TempDir()
	store, err := settlement.OpenStore(filepath.Join(dir, "settlements.db"), filepath.Join(dir, "settlements.lock"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	notifier := settlement.NewNotifier(ledgerURL,
		settlement.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		store, zap.NewNop())

	return New(Config{
		Aggregator:     agg,
		Readers:        func(ctx context.Context, chainID int64) (chain.Reader, error) { return reader, nil },
		ApprovalPolicy: allowance.PolicyExactMargin,
		MarginPercent:  20,
		Notifier:       notifier,
		Log:            zap.NewNop(),
	})
}

func TestBuildSwapWithSufficientAllowance(t *testing.T) {
	reader := &fakeReader{
		balance:   big.NewInt(500_000_000),
		allowance: big.NewInt(500_000_000),
	}
	p := newTestPipeline(t, reader, "http://127.0.0.1:0")

	plan, err := p.BuildSwap(context.Background(), SwapRequest{
		ChainID:     43114,
		FromToken:   "USDC",
		ToToken:     "WAVAX",
		AmountBase:  "100000000",
		SlippageBps: 50,
		Signer:      testSigner,
	})
	if err != nil {
		t.Fatalf("BuildSwap: %v", err)
	}
	if plan.Transaction == nil || plan.Transaction.Data != "0xfeed" {
		t.Fatalf("plan.Transaction = %+v", plan.Transaction)
	}
	if plan.Allowance == nil || !plan.Allowance.IsApproved {
		t.Fatalf("plan.Allowance = %+v, want approved", plan.Allowance)
	}
	if plan.Approval != nil {
		t.Error("approved flow should not attach an approval transaction")
	}
	if plan.Quote.ToAmountBase != "4000000000000000000" {
		t.Errorf("quote output = %s", plan.Quote.ToAmountBase)
	}
	if plan.GasProfile == nil || plan.GasProfile.OperationClass != "standard_swap" {
		t.Errorf("gas profile = %+v", plan.GasProfile)
	}
}

func TestBuildSwapShortAllowanceAttachesApproval(t *testing.T) {
	reader := &fakeReader{
		balance:   big.NewInt(500_000_000),
		allowance: big.NewInt(0),
	}
	p := newTestPipeline(t, reader, "http://127.0.0.1:0")

	plan, err := p.BuildSwap(context.Background(), SwapRequest{
		ChainID:     43114,
		FromToken:   "USDC",
		ToToken:     "WAVAX",
		AmountBase:  "100000000",
		SlippageBps: 50,
		Signer:      testSigner,
	})
	if !piperr.Is(err, piperr.CodeInsufficientAllowance) {
		t.Fatalf("BuildSwap = %v, want insufficient_allowance", err)
	}
	if plan.Approval == nil || !strings.HasPrefix(plan.Approval.Data, "0x095ea7b3") {
		t.Fatalf("plan.Approval = %+v, want approve calldata", plan.Approval)
	}
	if plan.Transaction != nil {
		t.Error("short allowance must not produce a swap transaction")
	}
	if plan.GasProfile == nil || plan.GasProfile.OperationClass != "approval" {
		t.Errorf("gas profile = %+v, want approval class", plan.GasProfile)
	}
}

func TestBuildSwapNativeSourceSkipsAllowance(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), allowance: big.NewInt(0)}
	p := newTestPipeline(t, reader, "http://127.0.0.1:0")

	plan, err := p.BuildSwap(context.Background(), SwapRequest{
		ChainID:     43114,
		FromToken:   "AVAX",
		ToToken:     "USDC",
		AmountBase:  "1000000000000000000",
		SlippageBps: 50,
		Signer:      testSigner,
	})
	if err != nil {
		t.Fatalf("BuildSwap: %v", err)
	}
	if plan.Allowance != nil || plan.Approval != nil {
		t.Errorf("native source produced allowance artifacts: %+v / %+v", plan.Allowance, plan.Approval)
	}
	if plan.Transaction == nil {
		t.Fatal("expected a swap transaction")
	}
}

func TestConfirmSwapDelivers(t *testing.T) {
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ledger.Close()

	p := newTestPipeline(t, &fakeReader{balance: big.NewInt(0), allowance: big.NewInt(0)}, ledger.URL)

	res, err := p.ConfirmSwap(context.Background(), ConfirmRequest{
		ChainID:       43114,
		Wallet:        testSigner,
		FromToken:     "USDC",
		ToToken:       "WAVAX",
		AmountInBase:  "100000000",
		AmountOutBase: "4000000000000000000",
		TxHash:        "0xabc123",
	})
	if err != nil {
		t.Fatalf("ConfirmSwap: %v", err)
	}
	if !res.Delivered || res.Attempts != 1 || res.RecordID == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestConfirmSwapExhaustionPreservesTradeSuccess(t *testing.T) {
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ledger.Close()

	p := newTestPipeline(t, &fakeReader{balance: big.NewInt(0), allowance: big.NewInt(0)}, ledger.URL)

	res, err := p.ConfirmSwap(context.Background(), ConfirmRequest{
		ChainID:       43114,
		Wallet:        testSigner,
		FromToken:     "USDC",
		ToToken:       "WAVAX",
		AmountInBase:  "100000000",
		AmountOutBase: "4000000000000000000",
		TxHash:        "0xabc123",
	})
	if err != nil {
		t.Fatalf("ConfirmSwap should not fail the trade on delivery exhaustion: %v", err)
	}
	if res.Delivered {
		t.Error("Delivered = true after exhausted retries")
	}
	if res.Warning == "" || !strings.Contains(res.Warning, res.RecordID) {
		t.Errorf("warning %q should name record %s for out-of-band retry", res.Warning, res.RecordID)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestQuoteDelegation(t *testing.T) {
	p := newTestPipeline(t, &fakeReader{balance: big.NewInt(0), allowance: big.NewInt(0)}, "http://127.0.0.1:0")

	q, err := p.Quote(context.Background(), quote.Request{
		ChainID:     43114,
		FromToken:   "USDC",
		ToToken:     "WAVAX",
		AmountBase:  "100000000",
		SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.RouterAddress != testRouter {
		t.Errorf("RouterAddress = %s", q.RouterAddress)
	}
}
