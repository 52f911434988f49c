package amount

import (
	"math/big"
	"regexp"
	"strings"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ToBaseUnits converts a human-readable decimal amount into the token's
// smallest-unit integer representation. Fractional digits beyond the token's
// decimals are dropped (floor toward zero), never rounded up, so the pipeline
// can never authorize more than the user typed.
func ToBaseUnits(human string, decimals uint8) (string, error) {
	clean := strings.TrimSpace(human)
	if !decimalPattern.MatchString(clean) {
		return "", piperr.New(piperr.CodeValidation, "amount must be a non-negative decimal like 1.23")
	}

	parts := strings.SplitN(clean, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > int(decimals) {
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", int(decimals)-len(fracPart))

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", piperr.New(piperr.CodeValidation, "invalid decimal amount")
	}
	return combined, nil
}

// FromBaseUnits converts a base-unit integer string into its human-readable
// decimal form with trailing zeros stripped.
func FromBaseUnits(base string, decimals uint8) (string, error) {
	clean := strings.TrimSpace(base)
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return "", piperr.New(piperr.CodeValidation, "base amount must be an integer string")
	}
	if n.Sign() < 0 {
		return "", piperr.New(piperr.CodeValidation, "base amount must be non-negative")
	}
	return formatBase(n, decimals), nil
}

// MustFromBaseUnits is FromBaseUnits for already-validated integers, used
// when reformatting amounts that came out of our own math.
func MustFromBaseUnits(n *big.Int, decimals uint8) string {
	return formatBase(new(big.Int).Abs(n), decimals)
}

func formatBase(n *big.Int, decimals uint8) string {
	s := n.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= int(decimals) {
		s = strings.Repeat("0", int(decimals)-len(s)+1) + s
	}
	intPart := s[:len(s)-int(decimals)]
	fracPart := strings.TrimRight(s[len(s)-int(decimals):], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// ParseBase parses a base-unit integer string, rejecting negatives.
func ParseBase(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, piperr.New(piperr.CodeValidation, "amount must be an integer base-unit value")
	}
	if n.Sign() < 0 {
		return nil, piperr.New(piperr.CodeValidation, "amount must be non-negative")
	}
	return n, nil
}
