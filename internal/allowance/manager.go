package allowance

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/amount"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/chain"
	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// Policy selects how much spend capacity an approval grants. It is a
// configuration choice fixed for the deployment: mixing policies across a
// session leaves users with confusing allowance states.
type Policy string

const (
	// PolicyUnlimited approves the maximum representable value once,
	// avoiding repeat approvals at the cost of exposing full future spend
	// capacity to the router.
	PolicyUnlimited Policy = "unlimited"
	// PolicyExactMargin approves requiredAmount*(1+margin%), bounding
	// exposure to the current operation plus headroom for quote drift.
	PolicyExactMargin Policy = "exact_margin"
)

const DefaultMarginPercent = 20

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Manager reads live ERC-20 allowance state and builds approval
// transactions. Allowance is always a fresh chain read; it can change
// between requests and is safety-critical, so it is never cached.
type Manager struct {
	reader        chain.Reader
	policy        Policy
	marginPercent int64
	log           *zap.Logger
}

func NewManager(reader chain.Reader, policy Policy, marginPercent int64, log *zap.Logger) (*Manager, error) {
	switch policy {
	case PolicyUnlimited, PolicyExactMargin:
	default:
		return nil, piperr.New(piperr.CodeValidation, "approval policy must be unlimited or exact_margin")
	}
	if marginPercent < 0 {
		return nil, piperr.New(piperr.CodeValidation, "approval margin must be non-negative")
	}
	if marginPercent == 0 {
		marginPercent = DefaultMarginPercent
	}
	return &Manager{reader: reader, policy: policy, marginPercent: marginPercent, log: log}, nil
}

type Request struct {
	ChainID      int64
	Token        registry.Token
	Owner        string
	RequiredBase string
	// QuoteRouter optionally refines the statically configured spender with
	// the router a just-fetched quote reported.
	QuoteRouter string
}

// Check returns the live allowance status for the request. Native assets
// have no allowance concept and are always approved.
func (m *Manager) Check(ctx context.Context, req Request) (model.AllowanceStatus, error) {
	if req.Token.IsNative {
		return model.AllowanceStatus{
			IsApproved:            true,
			CurrentAllowanceBase:  "0",
			RequiredAllowanceBase: req.RequiredBase,
		}, nil
	}
	required, err := amount.ParseBase(req.RequiredBase)
	if err != nil {
		return model.AllowanceStatus{}, err
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Owner)) {
		return model.AllowanceStatus{}, piperr.New(piperr.CodeValidation, "owner must be a valid EVM address")
	}
	spender, err := m.resolveSpender(req)
	if err != nil {
		return model.AllowanceStatus{}, err
	}

	current, err := m.reader.Allowance(ctx, req.Token.Address, req.Owner, spender)
	if err != nil {
		return model.AllowanceStatus{}, err
	}
	return model.AllowanceStatus{
		IsApproved:            current.Cmp(required) >= 0,
		CurrentAllowanceBase:  current.String(),
		RequiredAllowanceBase: required.String(),
		SpenderAddress:        spender,
	}, nil
}

// BuildApproval checks the allowance and, when short, builds the approval
// transaction under the configured policy. Calling it again once approved
// returns the approved status with no transaction: the flow is idempotent.
func (m *Manager) BuildApproval(ctx context.Context, req Request) (model.AllowanceStatus, *model.Transaction, error) {
	status, err := m.Check(ctx, req)
	if err != nil {
		return model.AllowanceStatus{}, nil, err
	}
	if status.IsApproved {
		return status, nil, nil
	}

	required, err := amount.ParseBase(status.RequiredAllowanceBase)
	if err != nil {
		return model.AllowanceStatus{}, nil, err
	}
	grant := m.grantAmount(required)
	data, err := erc20ABI.Pack("approve", common.HexToAddress(status.SpenderAddress), grant)
	if err != nil {
		return model.AllowanceStatus{}, nil, piperr.Wrap(piperr.CodeInternal, "pack approve calldata", err)
	}
	tx := &model.Transaction{
		To:    common.HexToAddress(req.Token.Address).Hex(),
		Data:  "0x" + common.Bytes2Hex(data),
		Value: "0",
	}
	return status, tx, nil
}

func (m *Manager) grantAmount(required *big.Int) *big.Int {
	if m.policy == PolicyUnlimited {
		return new(big.Int).Set(maxUint256)
	}
	grant := new(big.Int).Mul(required, big.NewInt(100+m.marginPercent))
	return grant.Div(grant, big.NewInt(100))
}

// resolveSpender prefers the static aggregator router; a router reported by
// the quote refines it when valid, and refinement failures fall back rather
// than block the flow.
func (m *Manager) resolveSpender(req Request) (string, error) {
	static, err := registry.AggregatorRouter(req.ChainID)
	if err != nil {
		return "", err
	}
	refined := strings.TrimSpace(req.QuoteRouter)
	if refined == "" {
		return static, nil
	}
	if !common.IsHexAddress(refined) || strings.EqualFold(refined, registry.ZeroAddress) {
		m.log.Warn("ignoring invalid router from quote, using static spender",
			zap.String("quote_router", refined),
			zap.String("static", static))
		return static, nil
	}
	return common.HexToAddress(refined).Hex(), nil
}
