package quote

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/aggregator"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/amount"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// Resolver turns a swap intent into a canonical Quote. A quote is fetched
// fresh per request and never mutated or reused.
type Resolver struct {
	agg *aggregator.Client
	log *zap.Logger
	now func() time.Time
}

func NewResolver(agg *aggregator.Client, log *zap.Logger) *Resolver {
	return &Resolver{agg: agg, log: log, now: time.Now}
}

type Request struct {
	ChainID     int64
	FromToken   string
	ToToken     string
	AmountBase  string
	SlippageBps int64
}

// NormalizeSlippage converts a legacy slippage value of ambiguous unit into
// basis points: values above 1 are read as percentages, values at or below 1
// as fractions. New callers should pass basis points directly; this exists
// only for older tool arguments that predate the explicit unit.
func NormalizeSlippage(value float64) int64 {
	if value > 1 {
		return int64(value * 100)
	}
	return int64(value * 10_000)
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (model.Quote, error) {
	fromToken, toToken, err := resolvePair(req.ChainID, req.FromToken, req.ToToken)
	if err != nil {
		return model.Quote{}, err
	}
	if _, err := amount.ParseBase(req.AmountBase); err != nil {
		return model.Quote{}, err
	}
	if req.SlippageBps <= 0 || req.SlippageBps >= 10_000 {
		return model.Quote{}, piperr.New(piperr.CodeValidation, "slippage must be between 1 and 9999 basis points")
	}

	payload, err := r.agg.FetchQuote(ctx, aggregator.QuoteRequest{
		ChainID:          req.ChainID,
		FromTokenAddress: fromToken.Address,
		ToTokenAddress:   toToken.Address,
		AmountBase:       req.AmountBase,
		SlippageBps:      req.SlippageBps,
	})
	if err != nil {
		return model.Quote{}, err
	}
	return r.toQuote(fromToken, toToken, req.AmountBase, payload), nil
}

func (r *Resolver) toQuote(fromToken, toToken registry.Token, amountBase string, payload aggregator.QuotePayload) model.Quote {
	fromDecimals := fromToken.Decimals
	if payload.FromDecimals >= 0 {
		fromDecimals = uint8(payload.FromDecimals)
	}
	toDecimals := toToken.Decimals
	if payload.ToDecimals >= 0 {
		toDecimals = uint8(payload.ToDecimals)
	}
	fromAmount := payload.FromAmountBase
	if fromAmount == "" {
		fromAmount = amountBase
	}

	q := model.Quote{
		FromToken:       fromToken,
		ToToken:         toToken,
		FromAmountBase:  fromAmount,
		ToAmountBase:    payload.ToAmountBase,
		ToAmountMinBase: payload.ToAmountMinBase,
		EstimatedGas:    payload.EstimatedGas,
		RouterAddress:   payload.RouterAddress,
		FetchedAt:       r.now().UTC().Format(time.RFC3339),
	}
	if impact, err := decimal.NewFromString(strings.TrimSpace(payload.PriceImpactPct)); err == nil {
		q.PriceImpactPercent = impact
	}
	q.ExchangeRate = resolveExchangeRate(payload.ExchangeRate, fromAmount, payload.ToAmountBase, fromDecimals, toDecimals)
	if q.ExchangeRate == nil {
		r.log.Warn("exchange rate unavailable for quote",
			zap.String("from", fromToken.Symbol),
			zap.String("to", toToken.Symbol))
	}
	return q
}

// resolveExchangeRate prefers the provider's reported rate and otherwise
// derives (toAmount/10^toDec)/(fromAmount/10^fromDec). A zero denominator
// or zero result yields nil: "rate unavailable", never zero or infinity.
func resolveExchangeRate(reported, fromBase, toBase string, fromDecimals, toDecimals uint8) *decimal.Decimal {
	if rate, err := decimal.NewFromString(strings.TrimSpace(reported)); err == nil && !rate.IsZero() {
		return &rate
	}
	from, err := decimal.NewFromString(fromBase)
	if err != nil {
		return nil
	}
	to, err := decimal.NewFromString(toBase)
	if err != nil {
		return nil
	}
	fromHuman := from.Shift(-int32(fromDecimals))
	toHuman := to.Shift(-int32(toDecimals))
	if fromHuman.IsZero() || toHuman.IsZero() {
		return nil
	}
	rate := toHuman.DivRound(fromHuman, 18)
	return &rate
}

func resolvePair(chainID int64, from, to string) (registry.Token, registry.Token, error) {
	if _, err := registry.ChainByID(chainID); err != nil {
		return registry.Token{}, registry.Token{}, err
	}
	fromToken, err := resolveToken(chainID, from)
	if err != nil {
		return registry.Token{}, registry.Token{}, err
	}
	toToken, err := resolveToken(chainID, to)
	if err != nil {
		return registry.Token{}, registry.Token{}, err
	}
	if strings.EqualFold(fromToken.Address, toToken.Address) {
		return registry.Token{}, registry.Token{}, piperr.New(piperr.CodeValidation, "from and to tokens must differ")
	}
	return fromToken, toToken, nil
}

func resolveToken(chainID int64, ref string) (registry.Token, error) {
	clean := strings.TrimSpace(ref)
	if clean == "" {
		return registry.Token{}, piperr.New(piperr.CodeValidation, "token is required")
	}
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return registry.TokenByAddress(chainID, clean)
	}
	return registry.TokenBySymbol(chainID, clean)
}

// ResolvePair is the exported token-pair resolution used by the other
// pipeline stages.
func ResolvePair(chainID int64, from, to string) (registry.Token, registry.Token, error) {
	return resolvePair(chainID, from, to)
}

// ResolveToken resolves a single token reference, by 0x-address or symbol.
func ResolveToken(chainID int64, ref string) (registry.Token, error) {
	if _, err := registry.ChainByID(chainID); err != nil {
		return registry.Token{}, err
	}
	return resolveToken(chainID, ref)
}
