package registry

import (
	"fmt"
	"strings"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
)

// Chain describes a supported EVM network.
type Chain struct {
	Name           string
	Slug           string
	ChainID        int64
	NativeSymbol   string
	NativeDecimals uint8
}

var chainByID = map[int64]Chain{
	1:     {Name: "Ethereum", Slug: "ethereum", ChainID: 1, NativeSymbol: "ETH", NativeDecimals: 18},
	8453:  {Name: "Base", Slug: "base", ChainID: 8453, NativeSymbol: "ETH", NativeDecimals: 18},
	42161: {Name: "Arbitrum", Slug: "arbitrum", ChainID: 42161, NativeSymbol: "ETH", NativeDecimals: 18},
	43114: {Name: "Avalanche", Slug: "avalanche", ChainID: 43114, NativeSymbol: "AVAX", NativeDecimals: 18},
}

func ChainByID(chainID int64) (Chain, error) {
	chain, ok := chainByID[chainID]
	if !ok {
		return Chain{}, piperr.New(piperr.CodeUnsupportedChain, fmt.Sprintf("chain id %d is not supported", chainID))
	}
	return chain, nil
}

// Canonical default EVM RPC endpoints by chain ID, used whenever the
// configuration does not override them.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	43114: "https://api.avax.network/ext/bc/C/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", piperr.New(piperr.CodeUnsupportedChain, fmt.Sprintf("no default rpc configured for chain id %d", chainID))
}

// CongestionThresholds bound the base-fee bands used by the gas fee policy.
// Values are in wei per gas.
type CongestionThresholds struct {
	LowBelow  int64
	HighAbove int64
}

var congestionByChainID = map[int64]CongestionThresholds{
	1:     {LowBelow: 10_000_000_000, HighAbove: 40_000_000_000},
	8453:  {LowBelow: 50_000_000, HighAbove: 500_000_000},
	42161: {LowBelow: 20_000_000, HighAbove: 200_000_000},
	43114: {LowBelow: 25_000_000_000, HighAbove: 50_000_000_000},
}

// Congestion thresholds fall back to the Ethereum bands for chains with no
// tuned entry.
func CongestionThresholdsFor(chainID int64) CongestionThresholds {
	if t, ok := congestionByChainID[chainID]; ok {
		return t
	}
	return congestionByChainID[1]
}
