package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
)

// The aggregator has shipped two wire shapes over its lifetime: a flat
// object (variant A) and an array whose first element is the route (variant
// B). Field names for the same concept also differ between versions. The
// variant is detected once here, at the boundary; everything past this file
// sees only the canonical payloads.

type Variant int

const (
	VariantFlat Variant = iota
	VariantArray
)

// QuotePayload is the canonical quote shape. Amount fields are base-unit
// integer strings; optional fields are empty when the provider omitted them.
type QuotePayload struct {
	Variant         Variant
	FromAmountBase  string
	ToAmountBase    string
	ToAmountMinBase string
	FromDecimals    int
	ToDecimals      int
	ExchangeRate    string
	PriceImpactPct  string
	EstimatedGas    string
	RouterAddress   string
}

// BuildPayload is the canonical build-endpoint shape.
type BuildPayload struct {
	Variant  Variant
	To       string
	Data     string
	Value    string
	GasLimit string
	Quote    QuotePayload
}

// Ordered candidate field names per logical field; the first present,
// non-null value wins.
var (
	fromAmountKeys  = []string{"fromAmount", "srcAmount", "inAmount", "fromTokenAmount"}
	toAmountKeys    = []string{"toAmount", "dstAmount", "outAmount", "toTokenAmount"}
	toAmountMinKeys = []string{"toAmountMin", "minOutAmount", "minimumReceived", "dstAmountMin"}
	rateKeys        = []string{"exchangeRate", "rate", "price"}
	impactKeys      = []string{"priceImpactPercent", "priceImpact", "priceImpactPct"}
	gasKeys         = []string{"estimatedGas", "gasEstimate", "gas"}
	routerKeys      = []string{"routerAddress", "router", "approvalAddress", "allowanceTarget", "spender"}
	decimalsKeys    = []string{"decimals", "tokenDecimals"}
	fromTokenKeys   = []string{"fromToken", "srcToken", "tokenIn"}
	toTokenKeys     = []string{"toToken", "dstToken", "tokenOut"}
	txKeys          = []string{"transaction", "tx", "txData"}
	toKeys          = []string{"to", "target"}
	dataKeys        = []string{"data", "calldata", "input"}
	valueKeys       = []string{"value", "ethValue"}
	gasLimitKeys    = []string{"gasLimit", "gas", "gasEstimate"}
	errorKeys       = []string{"error", "errorCode", "message"}
)

func NormalizeQuote(raw json.RawMessage) (QuotePayload, error) {
	obj, variant, err := selectObject(raw)
	if err != nil {
		return QuotePayload{}, err
	}
	if msg := firstString(obj, errorKeys); msg != "" {
		return QuotePayload{}, piperr.New(piperr.CodeNoQuoteAvailable, "aggregator returned no route: "+msg)
	}

	payload := QuotePayload{
		Variant:         variant,
		FromAmountBase:  firstInteger(obj, fromAmountKeys),
		ToAmountBase:    firstInteger(obj, toAmountKeys),
		ToAmountMinBase: firstInteger(obj, toAmountMinKeys),
		ExchangeRate:    firstString(obj, rateKeys),
		PriceImpactPct:  firstString(obj, impactKeys),
		EstimatedGas:    firstGasInteger(obj, gasKeys),
		RouterAddress:   firstString(obj, routerKeys),
		FromDecimals:    -1,
		ToDecimals:      -1,
	}
	if tokenObj, ok := firstObject(obj, fromTokenKeys); ok {
		payload.FromDecimals = firstInt(tokenObj, decimalsKeys, -1)
	}
	if tokenObj, ok := firstObject(obj, toTokenKeys); ok {
		payload.ToDecimals = firstInt(tokenObj, decimalsKeys, -1)
	}

	if payload.ToAmountBase == "" {
		return QuotePayload{}, piperr.New(piperr.CodeNoQuoteAvailable, "aggregator quote missing output amount")
	}
	if payload.ToAmountMinBase == "" {
		payload.ToAmountMinBase = payload.ToAmountBase
	}
	if cmpIntegerStrings(payload.ToAmountMinBase, payload.ToAmountBase) > 0 {
		return QuotePayload{}, piperr.New(piperr.CodeUpstreamUnavailable, "aggregator quote minimum exceeds quoted amount")
	}
	return payload, nil
}

func NormalizeBuild(raw json.RawMessage) (BuildPayload, error) {
	obj, variant, err := selectObject(raw)
	if err != nil {
		return BuildPayload{}, err
	}
	if msg := firstString(obj, errorKeys); msg != "" {
		return BuildPayload{}, piperr.New(piperr.CodeNoQuoteAvailable, "aggregator build failed: "+msg)
	}

	txObj, ok := firstObject(obj, txKeys)
	if !ok {
		// Some versions inline the transaction at the top level.
		txObj = obj
	}
	payload := BuildPayload{
		Variant:  variant,
		To:       firstString(txObj, toKeys),
		Data:     firstString(txObj, dataKeys),
		Value:    firstString(txObj, valueKeys),
		GasLimit: firstGasInteger(txObj, gasLimitKeys),
	}
	if strings.TrimSpace(payload.To) == "" || strings.TrimSpace(payload.Data) == "" {
		return BuildPayload{}, piperr.New(piperr.CodeUpstreamUnavailable, "aggregator build missing transaction payload")
	}
	value, err := normalizeValue(payload.Value)
	if err != nil {
		return BuildPayload{}, piperr.Wrap(piperr.CodeUpstreamUnavailable, "parse transaction value", err)
	}
	payload.Value = value
	payload.Data = ensureHexPrefix(payload.Data)

	quote, quoteErr := NormalizeQuote(raw)
	if quoteErr == nil {
		payload.Quote = quote
	}
	return payload, nil
}

// selectObject detects the response variant and returns the object carrying
// the route fields.
func selectObject(raw json.RawMessage) (map[string]json.RawMessage, Variant, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, VariantFlat, piperr.New(piperr.CodeUpstreamUnavailable, "aggregator returned empty response")
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, VariantArray, piperr.Wrap(piperr.CodeUpstreamUnavailable, "decode aggregator array response", err)
		}
		if len(items) == 0 {
			return nil, VariantArray, piperr.New(piperr.CodeNoQuoteAvailable, "aggregator returned no routes")
		}
		obj, err := decodeObject(items[0])
		return obj, VariantArray, err
	}
	obj, err := decodeObject(trimmed)
	return obj, VariantFlat, err
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, piperr.Wrap(piperr.CodeUpstreamUnavailable, "decode aggregator response", err)
	}
	return obj, nil
}

// firstString returns the first present, non-null candidate as a string.
// Numeric values are accepted and formatted without precision loss for
// integers.
func firstString(obj map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// firstInteger is firstString restricted to base-10 integers. Amount fields
// may exceed 2^53, so anything with a fractional or exponent part is
// rejected outright rather than routed through float math.
func firstInteger(obj map[string]json.RawMessage, keys []string) string {
	v := firstString(obj, keys)
	if v == "" {
		return ""
	}
	if _, ok := new(big.Int).SetString(v, 10); !ok {
		return ""
	}
	return v
}

// firstGasInteger is firstInteger for gas fields only. Gas estimates
// occasionally arrive as JSON floats; their magnitude stays far below the
// float-safe range, so flooring is lossless here and nowhere else.
func firstGasInteger(obj map[string]json.RawMessage, keys []string) string {
	v := firstString(obj, keys)
	if v == "" {
		return ""
	}
	if strings.IndexAny(v, ".eE") >= 0 {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f >= 1<<53 {
			return ""
		}
		return strconv.FormatInt(int64(f), 10)
	}
	if _, ok := new(big.Int).SetString(v, 10); !ok {
		return ""
	}
	return v
}

func firstInt(obj map[string]json.RawMessage, keys []string, fallback int) int {
	v := firstInteger(obj, keys)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func firstObject(obj map[string]json.RawMessage, keys []string) (map[string]json.RawMessage, bool) {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok || isNull(raw) {
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			return nested, true
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func cmpIntegerStrings(a, b string) int {
	ai, aok := new(big.Int).SetString(a, 10)
	bi, bok := new(big.Int).SetString(b, 10)
	if !aok || !bok {
		return 0
	}
	return ai.Cmp(bi)
}

// normalizeValue accepts decimal or 0x-hex wei values and returns decimal.
func normalizeValue(v string) (string, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "0", nil
	}
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		n := new(big.Int)
		if _, ok := n.SetString(clean[2:], 16); !ok {
			return "", fmt.Errorf("invalid hex value %q", v)
		}
		return n.String(), nil
	}
	n := new(big.Int)
	if _, ok := n.SetString(clean, 10); !ok {
		return "", fmt.Errorf("invalid value %q", v)
	}
	return n.String(), nil
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}
