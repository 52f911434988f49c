package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/httpx"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// Client talks to the swap aggregator's quote and build endpoints. It is
// injected wherever a quote is needed; nothing holds it as a process-wide
// singleton, so tests substitute a fake by pointing BaseURL at httptest.
type Client struct {
	http    *httpx.Client
	baseURL string
	now     func() time.Time
}

// New builds an aggregator client. The httpx client should be configured
// with zero retries: quote and build responses go stale, and a stale quote
// must never be silently reused.
func New(httpClient *httpx.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = registry.AggregatorBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL, now: time.Now}
}

type QuoteRequest struct {
	ChainID          int64
	FromTokenAddress string
	ToTokenAddress   string
	AmountBase       string
	SlippageBps      int64
}

type BuildRequest struct {
	QuoteRequest
	SignerAddress string
}

// FetchQuote calls the aggregator quote endpoint and normalizes whichever
// response shape the provider returns into the canonical payload.
func (c *Client) FetchQuote(ctx context.Context, req QuoteRequest) (QuotePayload, error) {
	vals := url.Values{}
	vals.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	vals.Set("fromToken", req.FromTokenAddress)
	vals.Set("toToken", req.ToTokenAddress)
	vals.Set("amount", req.AmountBase)
	vals.Set("slippage", formatSlippagePercent(req.SlippageBps))

	reqURL := c.baseURL + "/v1/quote?" + vals.Encode()
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return QuotePayload{}, piperr.Wrap(piperr.CodeInternal, "build aggregator quote request", err)
	}
	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return QuotePayload{}, err
	}
	return NormalizeQuote(raw)
}

// BuildTransaction calls the aggregator transaction-build endpoint.
func (c *Client) BuildTransaction(ctx context.Context, req BuildRequest) (BuildPayload, error) {
	body, err := json.Marshal(map[string]any{
		"chainId":   req.ChainID,
		"fromToken": req.FromTokenAddress,
		"toToken":   req.ToTokenAddress,
		"amount":    req.AmountBase,
		"slippage":  formatSlippagePercent(req.SlippageBps),
		"signer":    req.SignerAddress,
	})
	if err != nil {
		return BuildPayload{}, piperr.Wrap(piperr.CodeInternal, "encode aggregator build request", err)
	}
	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/v1/build", body, nil, &raw); err != nil {
		return BuildPayload{}, err
	}
	return NormalizeBuild(raw)
}

// The aggregator takes slippage as a percentage ("0.5" meaning 0.5%); the
// API boundary takes basis points so the unit is never inferred.
func formatSlippagePercent(bps int64) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}
