package gas

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/chain"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// OperationClass is the coarse complexity bucket used to size gas-limit
// margins. It is derived from the token pair, never stored.
type OperationClass string

const (
	ClassApproval     OperationClass = "approval"
	ClassSimpleSwap   OperationClass = "simple_swap"
	ClassStandardSwap OperationClass = "standard_swap"
	ClassComplexSwap  OperationClass = "complex_swap"
)

// Margin multipliers in basis points over the reported estimate. Kept as
// integers so limit math stays on big.Int.
var marginBpsByClass = map[OperationClass]int64{
	ClassApproval:     11_500,
	ClassSimpleSwap:   12_500,
	ClassStandardSwap: 13_500,
	ClassComplexSwap:  15_000,
}

// Hardcoded limits used when the aggregator reports no estimate.
var fallbackLimitByClass = map[OperationClass]int64{
	ClassApproval:     60_000,
	ClassSimpleSwap:   250_000,
	ClassStandardSwap: 350_000,
	ClassComplexSwap:  550_000,
}

const (
	CongestionLow    = "low"
	CongestionNormal = "normal"
	CongestionHigh   = "high"
)

// Priority-fee tiers in wei per gas, selected by congestion band.
var priorityByCongestion = map[string]int64{
	CongestionLow:    1_000_000_000,
	CongestionNormal: 2_000_000_000,
	CongestionHigh:   3_000_000_000,
}

// ClassifySwap buckets a swap by its token pair. The complex denylist wins
// over the native shortcut regardless of argument order.
func ClassifySwap(chainID int64, from, to registry.Token) OperationClass {
	if registry.IsComplexToken(chainID, from.Symbol) || registry.IsComplexToken(chainID, to.Symbol) {
		return ClassComplexSwap
	}
	if from.IsNative || to.IsNative {
		return ClassSimpleSwap
	}
	return ClassStandardSwap
}

// Policy produces gas profiles. The limit margin and the fee price are two
// independent layers: an under-estimated limit makes the transaction fail
// and burn its fee, an over-priced fee only affects cost and speed.
type Policy struct {
	reader     chain.Reader
	thresholds registry.CongestionThresholds
	log        *zap.Logger
}

func NewPolicy(reader chain.Reader, chainID int64, log *zap.Logger) *Policy {
	return &Policy{
		reader:     reader,
		thresholds: registry.CongestionThresholdsFor(chainID),
		log:        log,
	}
}

// Profile computes the full gas profile for one operation. estimatedGas is
// the aggregator-reported estimate and may be empty.
func (p *Policy) Profile(ctx context.Context, class OperationClass, estimatedGas string) (model.GasProfile, error) {
	marginBps, ok := marginBpsByClass[class]
	if !ok {
		return model.GasProfile{}, piperr.New(piperr.CodeValidation, "unknown operation class")
	}

	limit := ApplyMargin(class, estimatedGas)

	baseFee, err := p.reader.BaseFee(ctx)
	if err != nil {
		return model.GasProfile{}, err
	}
	congestion := p.Congestion(baseFee)
	priority := big.NewInt(priorityByCongestion[congestion])
	// The congestion tier is a floor, not a ceiling: when the node suggests
	// a higher tip the transaction would otherwise lag the mempool.
	if suggested, err := p.reader.SuggestPriorityFee(ctx); err != nil {
		p.log.Warn("priority fee suggestion unavailable, using congestion tier", zap.Error(err))
	} else if suggested != nil && suggested.Cmp(priority) > 0 {
		priority = new(big.Int).Set(suggested)
	}
	maxFee := new(big.Int).Add(baseFee, priority)

	return model.GasProfile{
		OperationClass:       string(class),
		MarginMultiplier:     decimal.New(marginBps, -4),
		GasLimit:             limit.String(),
		MaxFeePerGas:         maxFee.String(),
		MaxPriorityFeePerGas: priority.String(),
		Congestion:           congestion,
	}, nil
}

// ApplyMargin returns the margined gas limit for the class, falling back to
// the per-class hardcoded limit when no usable estimate is available.
func ApplyMargin(class OperationClass, estimatedGas string) *big.Int {
	marginBps := marginBpsByClass[class]
	estimate, ok := new(big.Int).SetString(estimatedGas, 10)
	if !ok || estimate.Sign() <= 0 {
		return big.NewInt(fallbackLimitByClass[class])
	}
	limit := new(big.Int).Mul(estimate, big.NewInt(marginBps))
	return limit.Div(limit, big.NewInt(10_000))
}

// Congestion classifies the current base fee against the chain's bands.
func (p *Policy) Congestion(baseFee *big.Int) string {
	if baseFee.Cmp(big.NewInt(p.thresholds.LowBelow)) < 0 {
		return CongestionLow
	}
	if baseFee.Cmp(big.NewInt(p.thresholds.HighAbove)) > 0 {
		return CongestionHigh
	}
	return CongestionNormal
}
