package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/httpx"
)

func TestFetchQuoteSendsPercentSlippage(t *testing.T) {
	var gotSlippage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSlippage = r.URL.Query().Get("slippage")
		_, _ = w.Write([]byte(`{"toAmount":"100","toAmountMin":"99"}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL)
	payload, err := c.FetchQuote(context.Background(), QuoteRequest{
		ChainID:          43114,
		FromTokenAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		ToTokenAddress:   "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
		AmountBase:       "1000000",
		SlippageBps:      50,
	})
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if gotSlippage != "0.5" {
		t.Fatalf("expected slippage 0.5 percent, got %q", gotSlippage)
	}
	if payload.ToAmountBase != "100" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestBuildTransactionPostsSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"tx":{"to":"0x6131B5fae19EA4f9D964eAc0408E4408b66337b5","data":"0xab","value":"0","gasLimit":"200000"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL)
	payload, err := c.BuildTransaction(context.Background(), BuildRequest{
		QuoteRequest: QuoteRequest{
			ChainID:          43114,
			FromTokenAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			ToTokenAddress:   "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
			AmountBase:       "1000000",
			SlippageBps:      50,
		},
		SignerAddress: "0x00000000000000000000000000000000000000AA",
	})
	if err != nil {
		t.Fatalf("BuildTransaction failed: %v", err)
	}
	if payload.GasLimit != "200000" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
