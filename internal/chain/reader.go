package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

// Reader is the chain read surface the pipeline depends on. Allowance reads
// are always fresh; nothing here caches.
type Reader interface {
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
	NativeBalance(ctx context.Context, owner string) (*big.Int, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	SuggestPriorityFee(ctx context.Context) (*big.Int, error)
}

type RPCReader struct {
	client      *ethclient.Client
	callTimeout time.Duration
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func Dial(ctx context.Context, rpcURL string, callTimeout time.Duration) (*RPCReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "connect chain rpc", err)
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &RPCReader{client: client, callTimeout: callTimeout}, nil
}

func (r *RPCReader) Close() {
	if r != nil && r.client != nil {
		r.client.Close()
	}
}

func (r *RPCReader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	return r.viewUint256(ctx, token, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
}

func (r *RPCReader) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	return r.viewUint256(ctx, token, "balanceOf", common.HexToAddress(owner))
}

func (r *RPCReader) viewUint256(ctx context.Context, token, method string, args ...any) (*big.Int, error) {
	if !common.IsHexAddress(token) {
		return nil, piperr.New(piperr.CodeValidation, "token must be a valid EVM address")
	}
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "pack "+method+" call", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	tokenAddr := common.HexToAddress(token)
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "read "+method, err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "decode "+method, err)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, piperr.New(piperr.CodeUpstreamUnavailable, "invalid "+method+" response type")
	}
	return value, nil
}

func (r *RPCReader) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	if !common.IsHexAddress(owner) {
		return nil, piperr.New(piperr.CodeValidation, "owner must be a valid EVM address")
	}
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	balance, err := r.client.BalanceAt(ctx, common.HexToAddress(owner), nil)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "read native balance", err)
	}
	return balance, nil
}

// BaseFee reads the pending block's base fee, falling back to the latest
// header when the node rejects the pending tag.
func (r *RPCReader) BaseFee(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := r.client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", "pending", false); err != nil {
		header, headerErr := r.client.HeaderByNumber(ctx, nil)
		if headerErr != nil {
			return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "fetch latest header", err)
		}
		if header.BaseFee == nil {
			return big.NewInt(1_000_000_000), nil
		}
		return new(big.Int).Set(header.BaseFee), nil
	}
	if block.BaseFeePerGas == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
}

func (r *RPCReader) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	tip, err := r.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "suggest priority fee", err)
	}
	return tip, nil
}
