package domain

import (
	"errors"
	"math/big"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a provider value: a decimal string ("5", "0.25",
// "1e-6") or a 0x-prefixed hex integer. Negative values, signed hex and
// fractions ("1/3") are rejected.
func ParseAmount(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidAmount
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" || digits[0] == '-' || digits[0] == '+' {
			return nil, ErrInvalidAmount
		}
		i, ok := new(big.Int).SetString(digits, 16)
		if !ok || i.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
		return new(big.Rat).SetInt(i), nil
	}

	if strings.ContainsRune(s, '/') {
		return nil, ErrInvalidAmount
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return r, nil
}

// FormatAmount renders r as a plain decimal string without trailing zeros.
// Terminating fractions are exact; anything else keeps 18 digits past the
// magnitude of its denominator.
func FormatAmount(r *big.Rat) string {
	if r == nil {
		return "0"
	}
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(fractionDigits(r.Denom()))
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// fractionDigits returns how many decimal places 1/d needs. For d = 2^a*5^b
// that is max(a, b).
func fractionDigits(d *big.Int) int {
	var (
		rest = new(big.Int).Set(d)
		two  = big.NewInt(2)
		five = big.NewInt(5)
		mod  = new(big.Int)
		a, b int
	)
	for {
		q, m := new(big.Int).QuoRem(rest, two, mod)
		if m.Sign() != 0 {
			break
		}
		rest, a = q, a+1
	}
	for {
		q, m := new(big.Int).QuoRem(rest, five, mod)
		if m.Sign() != 0 {
			break
		}
		rest, b = q, b+1
	}
	if rest.Cmp(big.NewInt(1)) != 0 {
		return len(d.String()) - 1 + 18
	}
	return max(a, b)
}

// NormalizeAmount parses s and re-renders it in canonical decimal form.
func NormalizeAmount(s string) (string, error) {
	r, err := ParseAmount(s)
	if err != nil {
		return "", err
	}
	return FormatAmount(r), nil
}

// FormatUnits converts a raw on-chain integer into a decimal string using the
// token's decimals (wei -> ETH for decimals=18).
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	if decimals <= 0 {
		return raw.String()
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return FormatAmount(new(big.Rat).SetFrac(raw, scale))
}
