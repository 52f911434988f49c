package registry

import (
	"fmt"
	"strings"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
)

// NativeTokenAddress is the reserved sentinel aggregators use for the chain's
// native asset. It is deliberately distinct from the real zero address.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Token is an immutable entry in the static per-chain token registry.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	IsNative bool   `json:"is_native"`
}

func IsNativeAddress(addr string) bool {
	return strings.EqualFold(strings.TrimSpace(addr), NativeTokenAddress)
}

var tokensByChainID = map[int64][]Token{
	1: {
		{Address: NativeTokenAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
		{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
		{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
		{Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6},
		{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Decimals: 18},
		{Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "WBTC", Decimals: 8},
	},
	8453: {
		{Address: NativeTokenAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
		{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18},
		{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
	},
	42161: {
		{Address: NativeTokenAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
		{Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Symbol: "WETH", Decimals: 18},
		{Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6},
		{Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Symbol: "USDT", Decimals: 6},
	},
	43114: {
		{Address: NativeTokenAddress, Symbol: "AVAX", Decimals: 18, IsNative: true},
		{Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Symbol: "WAVAX", Decimals: 18},
		{Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Symbol: "USDC", Decimals: 6},
		{Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Symbol: "USDT", Decimals: 6},
		{Address: "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70", Symbol: "DAI.e", Decimals: 18},
		{Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Symbol: "WETH.e", Decimals: 18},
		{Address: "0x6e84a6216eA6dACC71eE8E6b0a5B7322EEbC0fDd", Symbol: "JOE", Decimals: 18},
		{Address: "0xB3C6D9CB61E24e6Df80B092A1bFeBc6E78B9F482", Symbol: "SIERRA", Decimals: 18},
	},
}

// TokenBySymbol resolves a token from the static registry. Symbol matching is
// case-insensitive.
func TokenBySymbol(chainID int64, symbol string) (Token, error) {
	clean := strings.TrimSpace(symbol)
	for _, token := range tokensByChainID[chainID] {
		if strings.EqualFold(token.Symbol, clean) {
			return token, nil
		}
	}
	return Token{}, piperr.New(piperr.CodeValidation, fmt.Sprintf("unknown token %q on chain %d", symbol, chainID))
}

func TokenByAddress(chainID int64, address string) (Token, error) {
	clean := strings.TrimSpace(address)
	for _, token := range tokensByChainID[chainID] {
		if strings.EqualFold(token.Address, clean) {
			return token, nil
		}
	}
	return Token{}, piperr.New(piperr.CodeValidation, fmt.Sprintf("unknown token address %q on chain %d", address, chainID))
}

// Tokens whose liquidity routing is known to be unpredictable; swaps touching
// them get the widest gas margin.
var complexTokensByChainID = map[int64][]string{
	43114: {"SIERRA"},
}

func IsComplexToken(chainID int64, symbol string) bool {
	for _, s := range complexTokensByChainID[chainID] {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Stable reference assets: USD pricing of a settlement is only computed when
// one side of the pair is on this list, never guessed.
var stableReferenceSymbols = map[string]struct{}{
	"USDC":   {},
	"USDC.E": {},
	"USDT":   {},
	"USDT.E": {},
	"DAI":    {},
	"DAI.E":  {},
}

func IsStableReference(symbol string) bool {
	_, ok := stableReferenceSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}
