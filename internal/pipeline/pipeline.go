package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/aggregator"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/allowance"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/chain"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/gas"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/quote"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/settlement"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/swap"
)

// ReaderFactory hands out a chain reader for a chain id. The default
// implementation dials the configured RPC endpoint once per chain and
// reuses the connection.
type ReaderFactory func(ctx context.Context, chainID int64) (chain.Reader, error)

// NewRPCReaderFactory builds the production factory. rpcOverrides maps chain
// ids to RPC URLs; chains without an override use the registry default.
func NewRPCReaderFactory(rpcOverrides map[int64]string, callTimeout time.Duration) ReaderFactory {
	var mu sync.Mutex
	readers := make(map[int64]chain.Reader)

	return func(ctx context.Context, chainID int64) (chain.Reader, error) {
		mu.Lock()
		defer mu.Unlock()
		if reader, ok := readers[chainID]; ok {
			return reader, nil
		}
		rpcURL, err := registry.ResolveRPCURL(rpcOverrides[chainID], chainID)
		if err != nil {
			return nil, err
		}
		reader, err := chain.Dial(ctx, rpcURL, callTimeout)
		if err != nil {
			return nil, err
		}
		readers[chainID] = reader
		return reader, nil
	}
}

// Pipeline orchestrates the quote-to-settlement flow. Every stage runs to
// completion inside the caller's request; there are no background workers,
// so one user's failed swap never touches another's.
type Pipeline struct {
	resolver      *quote.Resolver
	agg           *aggregator.Client
	readers       ReaderFactory
	policy        allowance.Policy
	marginPercent int64
	notifier      *settlement.Notifier
	records       *settlement.RecordBuilder
	log           *zap.Logger
}

type Config struct {
	Aggregator     *aggregator.Client
	Readers        ReaderFactory
	ApprovalPolicy allowance.Policy
	MarginPercent  int64
	Notifier       *settlement.Notifier
	Log            *zap.Logger
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		resolver:      quote.NewResolver(cfg.Aggregator, cfg.Log),
		agg:           cfg.Aggregator,
		readers:       cfg.Readers,
		policy:        cfg.ApprovalPolicy,
		marginPercent: cfg.MarginPercent,
		notifier:      cfg.Notifier,
		records:       settlement.NewRecordBuilder(),
		log:           cfg.Log,
	}
}

// Quote resolves a swap quote without touching the chain.
func (p *Pipeline) Quote(ctx context.Context, req quote.Request) (model.Quote, error) {
	return p.resolver.Resolve(ctx, req)
}

type AllowanceRequest struct {
	ChainID      int64
	Token        string
	Owner        string
	RequiredBase string
	QuoteRouter  string
}

func (p *Pipeline) manager(ctx context.Context, chainID int64) (*allowance.Manager, chain.Reader, error) {
	reader, err := p.readers(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := allowance.NewManager(reader, p.policy, p.marginPercent, p.log)
	if err != nil {
		return nil, nil, err
	}
	return mgr, reader, nil
}

// CheckAllowance reports the live allowance status for a token and owner.
func (p *Pipeline) CheckAllowance(ctx context.Context, req AllowanceRequest) (model.AllowanceStatus, error) {
	token, err := quote.ResolveToken(req.ChainID, req.Token)
	if err != nil {
		return model.AllowanceStatus{}, err
	}
	mgr, _, err := p.manager(ctx, req.ChainID)
	if err != nil {
		return model.AllowanceStatus{}, err
	}
	return mgr.Check(ctx, allowance.Request{
		ChainID:      req.ChainID,
		Token:        token,
		Owner:        req.Owner,
		RequiredBase: req.RequiredBase,
		QuoteRouter:  req.QuoteRouter,
	})
}

// BuildApproval returns the allowance status plus, when short, the unsigned
// approval transaction with its gas profile.
func (p *Pipeline) BuildApproval(ctx context.Context, req AllowanceRequest) (model.SwapPlan, error) {
	token, err := quote.ResolveToken(req.ChainID, req.Token)
	if err != nil {
		return model.SwapPlan{}, err
	}
	mgr, reader, err := p.manager(ctx, req.ChainID)
	if err != nil {
		return model.SwapPlan{}, err
	}
	status, approval, err := mgr.BuildApproval(ctx, allowance.Request{
		ChainID:      req.ChainID,
		Token:        token,
		Owner:        req.Owner,
		RequiredBase: req.RequiredBase,
		QuoteRouter:  req.QuoteRouter,
	})
	if err != nil {
		return model.SwapPlan{}, err
	}
	plan := model.SwapPlan{Allowance: &status}
	if approval != nil {
		profile, err := gas.NewPolicy(reader, req.ChainID, p.log).Profile(ctx, gas.ClassApproval, approval.GasLimit)
		if err != nil {
			return model.SwapPlan{}, err
		}
		approval.GasLimit = profile.GasLimit
		plan.Approval = approval
		plan.GasProfile = &profile
	}
	return plan, nil
}

type SwapRequest struct {
	ChainID     int64
	FromToken   string
	ToToken     string
	AmountBase  string
	SlippageBps int64
	Signer      string
}

// BuildSwap runs the full planning flow: quote, allowance, then the signable
// transaction. A short allowance is informational, not fatal: the plan comes
// back with the approval transaction attached and no swap transaction, so
// the caller can run the approval sub-flow and retry.
func (p *Pipeline) BuildSwap(ctx context.Context, req SwapRequest) (model.SwapPlan, error) {
	fromToken, toToken, err := quote.ResolvePair(req.ChainID, req.FromToken, req.ToToken)
	if err != nil {
		return model.SwapPlan{}, err
	}
	quoted, err := p.resolver.Resolve(ctx, quote.Request{
		ChainID:     req.ChainID,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		AmountBase:  req.AmountBase,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return model.SwapPlan{}, err
	}
	plan := model.SwapPlan{Quote: quoted}

	mgr, reader, err := p.manager(ctx, req.ChainID)
	if err != nil {
		return plan, err
	}
	if !fromToken.IsNative {
		status, approval, err := mgr.BuildApproval(ctx, allowance.Request{
			ChainID:      req.ChainID,
			Token:        fromToken,
			Owner:        req.Signer,
			RequiredBase: req.AmountBase,
			QuoteRouter:  quoted.RouterAddress,
		})
		if err != nil {
			return plan, err
		}
		plan.Allowance = &status
		if !status.IsApproved {
			profile, err := gas.NewPolicy(reader, req.ChainID, p.log).Profile(ctx, gas.ClassApproval, approval.GasLimit)
			if err != nil {
				return plan, err
			}
			approval.GasLimit = profile.GasLimit
			plan.Approval = approval
			plan.GasProfile = &profile
			return plan, piperr.New(piperr.CodeInsufficientAllowance,
				"allowance is below the swap amount; sign the attached approval first")
		}
	}

	builder := swap.NewBuilder(p.agg, reader, gas.NewPolicy(reader, req.ChainID, p.log), p.log)
	built, err := builder.Build(ctx, swap.Request{
		ChainID:        req.ChainID,
		FromToken:      fromToken,
		ToToken:        toToken,
		AmountBase:     req.AmountBase,
		SlippageBps:    req.SlippageBps,
		SignerAddress:  req.Signer,
		SpenderAddress: quoted.RouterAddress,
	})
	if err != nil {
		return plan, err
	}
	plan.Transaction = &built.Transaction
	plan.GasProfile = &built.GasProfile
	for _, warning := range built.Warnings {
		p.log.Warn("swap pre-check warning", zap.String("detail", warning))
	}
	return plan, nil
}

type ConfirmRequest struct {
	ChainID       int64
	Wallet        string
	FromToken     string
	ToToken       string
	AmountInBase  string
	AmountOutBase string
	TxHash        string
	ExtraInfo     map[string]any
}

// ConfirmResult reports the settlement outcome of a confirmed swap. The
// trade itself already succeeded on-chain; Delivered=false only means the
// ledger write must be redriven with RecordID.
type ConfirmResult struct {
	RecordID  string `json:"record_id"`
	Delivered bool   `json:"delivered"`
	Attempts  int    `json:"attempts"`
	Warning   string `json:"warning,omitempty"`
}

// ConfirmSwap builds the settlement record for a confirmed transaction and
// delivers it to the ledger with at-least-once semantics.
func (p *Pipeline) ConfirmSwap(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	fromToken, toToken, err := quote.ResolvePair(req.ChainID, req.FromToken, req.ToToken)
	if err != nil {
		return ConfirmResult{}, err
	}
	record, err := p.records.Build(settlement.RecordInput{
		WalletAddress: req.Wallet,
		ChainID:       req.ChainID,
		TokenIn:       fromToken,
		TokenOut:      toToken,
		AmountInBase:  req.AmountInBase,
		AmountOutBase: req.AmountOutBase,
		TxHash:        strings.TrimSpace(req.TxHash),
		ExtraInfo:     req.ExtraInfo,
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	attempts, err := p.notifier.Deliver(ctx, record)
	if err != nil {
		if piperr.Is(err, piperr.CodeDeliveryExhausted) {
			return ConfirmResult{
				RecordID: record.ID,
				Attempts: attempts,
				Warning:  err.Error(),
			}, nil
		}
		return ConfirmResult{RecordID: record.ID, Attempts: attempts}, err
	}
	return ConfirmResult{RecordID: record.ID, Delivered: true, Attempts: attempts}, nil
}
