// Package money provides fixed-point decimal parsing and formatting for the
// tokens the broker core understands. Amounts are stored as big.Int in the
// token's smallest unit; the token adapter at the transport boundary is
// responsible for any further display-unit scaling.
package money

import (
	"fmt"
	"math/big"
	"strings"
)

// Token is a closed set of the tokens the core accepts (spec §3/§4.4).
type Token string

const (
	PrimaryNative Token = "primary-native"
	ERC20Stable   Token = "erc20-stable"
)

// Decimals returns the number of fractional digits for a token's smallest
// unit representation. PrimaryNative follows the 18-decimal convention of a
// native chain asset; ERC20Stable follows the 6-decimal convention common to
// USDC-style stablecoins.
func Decimals(t Token) int {
	switch t {
	case ERC20Stable:
		return 6
	case PrimaryNative:
		return 18
	default:
		return 18
	}
}

// IsSupported reports whether t is one of the tokens the core accepts.
func IsSupported(t Token) bool {
	switch t {
	case PrimaryNative, ERC20Stable:
		return true
	default:
		return false
	}
}

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation for the given token. Returns (nil, false) on
// invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to the token's decimal count
func Parse(s string, t Token) (*big.Int, bool) {
	decimals := Decimals(t)
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}

	for len(frac) < decimals {
		frac += "0"
	}
	frac = frac[:decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly the token's decimal count.
func Format(amount *big.Int, t Token) string {
	decimals := Decimals(t)
	if amount == nil {
		return zeroString(decimals)
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < decimals+1 {
		s = "0" + s
	}
	point := len(s) - decimals
	result := s[:point] + "." + s[point:]
	if neg {
		result = "-" + result
	}
	return result
}

func zeroString(decimals int) string {
	return fmt.Sprintf("0.%s", strings.Repeat("0", decimals))
}

// IsPositive reports whether amount represents a positive, finite value.
// big.Int is always finite; "finite" here just guards against a nil pointer.
func IsPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
