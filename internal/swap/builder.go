package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/aggregator"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/amount"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/chain"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/gas"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// Builder assembles the final signable swap transaction from the
// aggregator's build endpoint plus the gas policy.
type Builder struct {
	agg    *aggregator.Client
	reader chain.Reader
	policy *gas.Policy
	log    *zap.Logger
}

func NewBuilder(agg *aggregator.Client, reader chain.Reader, policy *gas.Policy, log *zap.Logger) *Builder {
	return &Builder{agg: agg, reader: reader, policy: policy, log: log}
}

type Request struct {
	ChainID       int64
	FromToken     registry.Token
	ToToken       registry.Token
	AmountBase    string
	SlippageBps   int64
	SignerAddress string
	// Spender for the advisory allowance pre-check; empty skips that check.
	SpenderAddress string
}

type Result struct {
	Transaction model.Transaction
	GasProfile  model.GasProfile
	Warnings    []string
}

// Build calls the aggregator's build endpoint and applies the gas policy to
// the returned limit. Aggregator failures surface verbatim: a transaction is
// never fabricated from partial data.
func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	if !common.IsHexAddress(strings.TrimSpace(req.SignerAddress)) {
		return Result{}, piperr.New(piperr.CodeValidation, "signer must be a valid EVM address")
	}
	required, err := amount.ParseBase(req.AmountBase)
	if err != nil {
		return Result{}, err
	}

	warnings := b.advisoryChecks(ctx, req, required)

	payload, err := b.agg.BuildTransaction(ctx, aggregator.BuildRequest{
		QuoteRequest: aggregator.QuoteRequest{
			ChainID:          req.ChainID,
			FromTokenAddress: req.FromToken.Address,
			ToTokenAddress:   req.ToToken.Address,
			AmountBase:       req.AmountBase,
			SlippageBps:      req.SlippageBps,
		},
		SignerAddress: req.SignerAddress,
	})
	if err != nil {
		return Result{}, err
	}

	class := gas.ClassifySwap(req.ChainID, req.FromToken, req.ToToken)
	profile, err := b.policy.Profile(ctx, class, payload.GasLimit)
	if err != nil {
		return Result{}, err
	}

	tx := model.Transaction{
		To:       common.HexToAddress(payload.To).Hex(),
		Data:     payload.Data,
		Value:    payload.Value,
		GasLimit: profile.GasLimit,
	}
	return Result{Transaction: tx, GasProfile: profile, Warnings: warnings}, nil
}

// advisoryChecks runs best-effort balance and allowance reads for the source
// token. Failures and shortfalls become warnings, never hard errors: the
// signer and the chain will reject an invalid transaction anyway. Native
// sources skip the allowance check; nothing needs approving.
func (b *Builder) advisoryChecks(ctx context.Context, req Request, required *big.Int) []string {
	if req.FromToken.IsNative {
		balance, err := b.reader.NativeBalance(ctx, req.SignerAddress)
		if err != nil {
			b.log.Warn("advisory native balance check failed",
				zap.String("token", req.FromToken.Symbol), zap.Error(err))
			return nil
		}
		if balance.Cmp(required) < 0 {
			return []string{fmt.Sprintf("wallet native balance %s is below the swap amount %s",
				balance.String(), required.String())}
		}
		return nil
	}
	var warnings []string

	balance, err := b.reader.BalanceOf(ctx, req.FromToken.Address, req.SignerAddress)
	if err != nil {
		b.log.Warn("advisory balance check failed",
			zap.String("token", req.FromToken.Symbol), zap.Error(err))
	} else if balance.Cmp(required) < 0 {
		warnings = append(warnings, fmt.Sprintf("wallet %s balance %s is below the swap amount %s",
			req.FromToken.Symbol, balance.String(), required.String()))
	}

	if strings.TrimSpace(req.SpenderAddress) != "" {
		current, err := b.reader.Allowance(ctx, req.FromToken.Address, req.SignerAddress, req.SpenderAddress)
		if err != nil {
			b.log.Warn("advisory allowance check failed",
				zap.String("token", req.FromToken.Symbol), zap.Error(err))
		} else if current.Cmp(required) < 0 {
			warnings = append(warnings, fmt.Sprintf("current allowance %s is below the swap amount %s; the router may reject the swap",
				current.String(), required.String()))
		}
	}
	return warnings
}
