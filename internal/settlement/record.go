package settlement

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/amount"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// RecordInput carries everything known about a confirmed swap at the moment
// the chain reports success. Amounts are base units.
type RecordInput struct {
	WalletAddress string
	ChainID       int64
	TokenIn       registry.Token
	TokenOut      registry.Token
	AmountInBase  string
	AmountOutBase string
	TxHash        string
	ExtraInfo     map[string]any
}

// RecordBuilder mints immutable settlement records. ID and clock are injected
// so tests get deterministic output.
type RecordBuilder struct {
	now   func() time.Time
	newID func() string
}

func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{now: time.Now, newID: uuid.NewString}
}

func (b *RecordBuilder) Build(in RecordInput) (model.SettlementRecord, error) {
	if !common.IsHexAddress(strings.TrimSpace(in.WalletAddress)) {
		return model.SettlementRecord{}, piperr.New(piperr.CodeValidation, "wallet must be a valid EVM address")
	}
	if strings.TrimSpace(in.TxHash) == "" {
		return model.SettlementRecord{}, piperr.New(piperr.CodeValidation, "transaction hash is required")
	}
	chain, err := registry.ChainByID(in.ChainID)
	if err != nil {
		return model.SettlementRecord{}, err
	}
	amountIn, err := amount.FromBaseUnits(in.AmountInBase, in.TokenIn.Decimals)
	if err != nil {
		return model.SettlementRecord{}, piperr.Wrap(piperr.CodeValidation, "settlement input amount", err)
	}
	amountOut, err := amount.FromBaseUnits(in.AmountOutBase, in.TokenOut.Decimals)
	if err != nil {
		return model.SettlementRecord{}, piperr.Wrap(piperr.CodeValidation, "settlement output amount", err)
	}

	priceOut, costBasis := usdAttribution(in.TokenIn, in.TokenOut, amountIn, amountOut)

	return model.SettlementRecord{
		ID:            b.newID(),
		WalletAddress: in.WalletAddress,
		TokenIn:       in.TokenIn.Symbol,
		TokenOut:      in.TokenOut.Symbol,
		AmountIn:      amountIn,
		AmountOut:     amountOut,
		PriceOutUSD:   priceOut,
		CostBasisUSD:  costBasis,
		TxHash:        in.TxHash,
		Blockchain:    chain.Slug,
		Timestamp:     b.now().UTC(),
		Status:        model.SettlementStatusSuccess,
		ExtraInfo:     in.ExtraInfo,
	}, nil
}

// usdAttribution prices the record only when one side of the pair is a
// recognized stable reference asset. Anything else stays null rather than a
// guessed value.
func usdAttribution(tokenIn, tokenOut registry.Token, amountIn, amountOut string) (priceOut, costBasis *decimal.Decimal) {
	in, errIn := decimal.NewFromString(amountIn)
	out, errOut := decimal.NewFromString(amountOut)
	if errIn != nil || errOut != nil {
		return nil, nil
	}

	switch {
	case registry.IsStableReference(tokenOut.Symbol):
		one := decimal.NewFromInt(1)
		return &one, &out
	case registry.IsStableReference(tokenIn.Symbol):
		if out.IsZero() {
			return nil, nil
		}
		price := in.DivRound(out, 18)
		return &price, &in
	default:
		return nil, nil
	}
}
