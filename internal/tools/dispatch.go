package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/amount"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/pipeline"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/quote"
)

const defaultSlippageBps = 50

// Dispatcher maps intent-router tool calls onto pipeline operations and
// wraps every outcome in the versioned result envelope.
type Dispatcher struct {
	pipe  *pipeline.Pipeline
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewDispatcher(pipe *pipeline.Pipeline, log *zap.Logger) *Dispatcher {
	return &Dispatcher{pipe: pipe, log: log, now: time.Now, newID: uuid.NewString}
}

type handler func(ctx context.Context, call model.ToolCall) (any, []string, error)

func (d *Dispatcher) handlers() map[string]handler {
	return map[string]handler{
		"get_swap_quote":  d.getSwapQuote,
		"check_allowance": d.checkAllowance,
		"build_approval":  d.buildApproval,
		"build_swap":      d.buildSwap,
		"confirm_swap":    d.confirmSwap,
	}
}

// Tools lists the dispatchable tool names.
func (d *Dispatcher) Tools() []string {
	names := make([]string, 0, len(d.handlers()))
	for name := range d.handlers() {
		names = append(names, name)
	}
	return names
}

// Dispatch runs one tool call. Errors never escape: every failure is folded
// into the envelope with its stable code and wire type, so the intent router
// can always show the user the precise reason.
func (d *Dispatcher) Dispatch(ctx context.Context, call model.ToolCall) model.ToolResult {
	meta := model.ResultMeta{
		RequestID: d.newID(),
		Timestamp: d.now().UTC(),
		Tool:      call.Name,
	}

	fn, ok := d.handlers()[call.Name]
	if !ok {
		return d.failure(meta, nil, piperr.New(piperr.CodeValidation, "unknown tool: "+call.Name))
	}

	data, warnings, err := fn(ctx, call)
	if err != nil {
		d.log.Warn("tool call failed",
			zap.String("tool", call.Name),
			zap.String("request_id", meta.RequestID),
			zap.String("type", piperr.TypeOf(err)),
			zap.Error(err))
		return d.failure(meta, data, err)
	}
	return model.ToolResult{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     meta,
	}
}

func (d *Dispatcher) failure(meta model.ResultMeta, data any, err error) model.ToolResult {
	typed, ok := piperr.As(err)
	if !ok {
		typed = piperr.Wrap(piperr.CodeInternal, "internal error", err)
	}
	return model.ToolResult{
		Version: model.EnvelopeVersion,
		Success: false,
		// A short allowance still carries the plan so the caller can run
		// the approval sub-flow without a second round trip.
		Data: data,
		Error: &model.ErrorBody{
			Code:    int(typed.Code),
			Type:    piperr.TypeOf(typed),
			Message: typed.Message,
		},
		Meta: meta,
	}
}

func (d *Dispatcher) getSwapQuote(ctx context.Context, call model.ToolCall) (any, []string, error) {
	chainID := chainIDFor(call)
	from := argString(call.Args, "from_token")
	to := argString(call.Args, "to_token")
	amountBase, err := resolveAmountBase(call.Args, chainID, from, "amount", "amount_base")
	if err != nil {
		return nil, nil, err
	}
	quoted, err := d.pipe.Quote(ctx, quote.Request{
		ChainID:     chainID,
		FromToken:   from,
		ToToken:     to,
		AmountBase:  amountBase,
		SlippageBps: slippageBps(call.Args),
	})
	if err != nil {
		return nil, nil, err
	}
	return quoted, nil, nil
}

func (d *Dispatcher) checkAllowance(ctx context.Context, call model.ToolCall) (any, []string, error) {
	chainID := chainIDFor(call)
	token := argString(call.Args, "token")
	requiredBase, err := resolveAmountBase(call.Args, chainID, token, "amount", "amount_base")
	if err != nil {
		return nil, nil, err
	}
	status, err := d.pipe.CheckAllowance(ctx, pipeline.AllowanceRequest{
		ChainID:      chainID,
		Token:        token,
		Owner:        call.WalletContext.Address,
		RequiredBase: requiredBase,
		QuoteRouter:  argString(call.Args, "router"),
	})
	if err != nil {
		return nil, nil, err
	}
	return status, nil, nil
}

func (d *Dispatcher) buildApproval(ctx context.Context, call model.ToolCall) (any, []string, error) {
	chainID := chainIDFor(call)
	token := argString(call.Args, "token")
	requiredBase, err := resolveAmountBase(call.Args, chainID, token, "amount", "amount_base")
	if err != nil {
		return nil, nil, err
	}
	plan, err := d.pipe.BuildApproval(ctx, pipeline.AllowanceRequest{
		ChainID:      chainID,
		Token:        token,
		Owner:        call.WalletContext.Address,
		RequiredBase: requiredBase,
		QuoteRouter:  argString(call.Args, "router"),
	})
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	if plan.Allowance != nil && plan.Allowance.IsApproved {
		warnings = append(warnings, "allowance already covers the requested amount; no transaction needed")
	}
	return plan, warnings, nil
}

func (d *Dispatcher) buildSwap(ctx context.Context, call model.ToolCall) (any, []string, error) {
	chainID := chainIDFor(call)
	from := argString(call.Args, "from_token")
	to := argString(call.Args, "to_token")
	amountBase, err := resolveAmountBase(call.Args, chainID, from, "amount", "amount_base")
	if err != nil {
		return nil, nil, err
	}
	plan, err := d.pipe.BuildSwap(ctx, pipeline.SwapRequest{
		ChainID:     chainID,
		FromToken:   from,
		ToToken:     to,
		AmountBase:  amountBase,
		SlippageBps: slippageBps(call.Args),
		Signer:      call.WalletContext.Address,
	})
	if err != nil {
		if piperr.Is(err, piperr.CodeInsufficientAllowance) {
			return plan, nil, err
		}
		return nil, nil, err
	}
	return plan, nil, nil
}

func (d *Dispatcher) confirmSwap(ctx context.Context, call model.ToolCall) (any, []string, error) {
	chainID := chainIDFor(call)
	res, err := d.pipe.ConfirmSwap(ctx, pipeline.ConfirmRequest{
		ChainID:       chainID,
		Wallet:        call.WalletContext.Address,
		FromToken:     argString(call.Args, "from_token"),
		ToToken:       argString(call.Args, "to_token"),
		AmountInBase:  argString(call.Args, "amount_in_base"),
		AmountOutBase: argString(call.Args, "amount_out_base"),
		TxHash:        argString(call.Args, "tx_hash"),
		ExtraInfo:     argObject(call.Args, "extra_info"),
	})
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	if res.Warning != "" {
		warnings = append(warnings, res.Warning)
	}
	return res, warnings, nil
}

func chainIDFor(call model.ToolCall) int64 {
	if v, ok := argInt64(call.Args, "chain_id"); ok {
		return v
	}
	return call.WalletContext.ChainID
}

// resolveAmountBase accepts either a base-unit integer string or a human
// decimal amount converted through the token's decimals. Amounts must arrive
// as strings: a JSON number would round-trip through float64 and corrupt
// anything past 2^53.
func resolveAmountBase(args map[string]any, chainID int64, tokenRef, humanKey, baseKey string) (string, error) {
	if base := argString(args, baseKey); base != "" {
		if _, err := amount.ParseBase(base); err != nil {
			return "", err
		}
		return base, nil
	}
	human := argString(args, humanKey)
	if human == "" {
		return "", piperr.New(piperr.CodeValidation, fmt.Sprintf("either %s or %s is required", humanKey, baseKey))
	}
	token, err := quote.ResolveToken(chainID, tokenRef)
	if err != nil {
		return "", err
	}
	return amount.ToBaseUnits(human, token.Decimals)
}

func slippageBps(args map[string]any) int64 {
	if v, ok := argInt64(args, "slippage_bps"); ok {
		return v
	}
	// Legacy argument of ambiguous unit.
	if raw, ok := args["slippage"]; ok {
		if f, ok := raw.(float64); ok {
			return quote.NormalizeSlippage(f)
		}
		if s, ok := raw.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return quote.NormalizeSlippage(f)
			}
		}
	}
	return defaultSlippageBps
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argInt64(args map[string]any, key string) (int64, bool) {
	if args == nil {
		return 0, false
	}
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func argObject(args map[string]any, key string) map[string]any {
	if args == nil {
		return nil
	}
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}
