package server

import (
	"context"
	"encoding/json"
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
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/cache"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/chain"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/httpx"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/pipeline"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/ratelimit"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/settlement"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/tools"
)

const (
	testSigner = "0x1111111111111111111111111111111111111111"
	testRouter = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
)

type fakeReader struct{}

func (fakeReader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (fakeReader) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (fakeReader) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (fakeReader) BaseFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (fakeReader) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func newTestServer(t *testing.T, limit int) (*Server, *int) {
	t.Helper()
	aggCalls := 0
	agg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/v1/quote") {
			aggCalls++
			_, _ = w.Write([]byte(`{
				"fromAmount": "100000000",
				"toAmount": "4000000000000000000",
				"estimatedGas": "210000",
				"routerAddress": "` + testRouter + `"
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"transaction": {"to": "` + testRouter + `", "data": "0xfeed", "value": "0", "gas": "210000"},
			"toAmount": "4000000000000000000"
		}`))
	}))
	t.Cleanup(agg.Close)

	dir := t.TempDir()
	store, err := settlement.OpenStore(filepath.Join(dir, "settlements.db"), filepath.Join(dir, "settlements.lock"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	quoteCache, err := cache.Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), 64)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { _ = quoteCache.Close() })

	pipe := pipeline.New(pipeline.Config{
		Aggregator:     aggregator.New(httpx.New(2*time.Second, 0), agg.URL),
		Readers:        func(ctx context.Context, chainID int64) (chain.Reader, error) { return fakeReader{}, nil },
		ApprovalPolicy: allowance.PolicyExactMargin,
		MarginPercent:  20,
		Notifier: settlement.NewNotifier("http://127.0.0.1:0",
			settlement.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
			store, zap.NewNop()),
		Log: zap.NewNop(),
	})

	srv := New(Options{
		Addr:       ":0",
		Dispatcher: tools.NewDispatcher(pipe, zap.NewNop()),
		Pipeline:   pipe,
		QuoteCache: quoteCache,
		Limiter:    ratelimit.NewMemoryLimiter(limit, time.Minute),
		Log:        zap.NewNop(),
	})
	return srv, &aggCalls
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestToolEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	payload := `{"args":{"from_token":"USDC","to_token":"WAVAX","amount_base":"100000000"},"wallet_context":{"address":"` + testSigner + `","chain_id":43114}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/get_swap_quote", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result model.ToolResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.Meta.Tool != "get_swap_quote" {
		t.Errorf("result = %+v", result)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestToolEndpointErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	payload := `{"args":{"from_token":"USDC","to_token":"USDC","amount_base":"100000000"},"wallet_context":{"address":"` + testSigner + `","chain_id":43114}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/get_swap_quote", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for identical pair", rec.Code)
	}
	var result model.ToolResult
	_ = json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Success || result.Error == nil || result.Error.Type != "validation" {
		t.Errorf("result = %+v", result)
	}
}

func TestRateLimitReturns429WithHeaders(t *testing.T) {
	srv, _ := newTestServer(t, 2)

	do := func() *httptest.ResponseRecorder {
		payload := `{"args":{"from_token":"USDC","to_token":"WAVAX","amount_base":"100000000"},"wallet_context":{"address":"` + testSigner + `","chain_id":43114}}`
		req := httptest.NewRequest(http.MethodPost, "/v1/tools/get_swap_quote", strings.NewReader(payload))
		req.RemoteAddr = "10.0.0.7:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	do()
	do()
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	var result model.ToolResult
	_ = json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Error == nil || result.Error.Type != "rate_limited" {
		t.Errorf("error = %+v", result.Error)
	}

	// Health stays reachable regardless of the budget.
	health := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	health.RemoteAddr = "10.0.0.7:1234"
	healthRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(healthRec, health)
	if healthRec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", healthRec.Code)
	}
}

func TestDisplayQuoteCaches(t *testing.T) {
	srv, aggCalls := newTestServer(t, 100)

	url := "/v1/quotes/display?chain_id=43114&from=USDC&to=WAVAX&amount_base=100000000"
	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, url, nil))
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "miss" {
		t.Fatalf("first = %d %s", first.Code, first.Header().Get("X-Cache"))
	}

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, url, nil))
	if second.Code != http.StatusOK || second.Header().Get("X-Cache") != "hit" {
		t.Fatalf("second = %d %s", second.Code, second.Header().Get("X-Cache"))
	}
	if *aggCalls != 1 {
		t.Errorf("aggregator calls = %d, want 1", *aggCalls)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("cached body differs from original")
	}

	var quoted model.Quote
	if err := json.Unmarshal(second.Body.Bytes(), &quoted); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quoted.ToAmountBase != "4000000000000000000" {
		t.Errorf("ToAmountBase = %s", quoted.ToAmountBase)
	}
}
