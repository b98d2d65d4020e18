package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Mantissa values carry 18 fractional decimal digits: 1e18 represents 1.0.
const mantissaDecimals = 18

var (
	mantissaOne = uint256.NewInt(1_000_000_000_000_000_000)
	maxUint256  = new(uint256.Int).SetAllOne()
	bigOne      = new(big.Int).Exp(big.NewInt(10), big.NewInt(mantissaDecimals), nil)
)

func one() *uint256.Int { return new(uint256.Int).Set(mantissaOne) }

func zero() *uint256.Int { return new(uint256.Int) }

func u64(v uint64) *uint256.Int { return uint256.NewInt(v) }

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zero()
	}
	return new(uint256.Int).Set(v)
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// subFloor returns a-b, or zero when b exceeds a.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return zero()
	}
	return new(uint256.Int).Sub(a, b)
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// mulDiv computes x*y/d with a 512-bit intermediate, truncating toward zero.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// mulMantissa multiplies a value by a mantissa factor.
func mulMantissa(a, factor *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, factor, mantissaOne)
}

// divMantissa divides a value by a mantissa factor.
func divMantissa(a, factor *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, mantissaOne, factor)
}

// sqrtMantissa returns the mantissa square root of a mantissa value.
func sqrtMantissa(a *uint256.Int) (*uint256.Int, error) {
	scaled, err := mul(a, mantissaOne)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Sqrt(scaled), nil
}

func minOf(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return clone(a)
	}
	return clone(b)
}

func maxOf(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return clone(a)
	}
	return clone(b)
}

// ParseMantissa converts a decimal string such as "1.04" into its mantissa
// representation. Digits beyond the 18th fractional place are truncated.
func ParseMantissa(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("lending: empty decimal value")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("lending: invalid decimal %q", value)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("lending: negative decimal %q", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(bigOne))
	result := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	out, overflow := uint256.FromBig(result)
	if overflow {
		return nil, fmt.Errorf("lending: decimal %q: %w", value, ErrOverflow)
	}
	return out, nil
}

// MustParseMantissa is ParseMantissa for constants and tests.
func MustParseMantissa(value string) *uint256.Int {
	out, err := ParseMantissa(value)
	if err != nil {
		panic(err)
	}
	return out
}

// FormatMantissa renders a mantissa as a decimal string without trailing
// fractional zeros.
func FormatMantissa(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	whole, frac := new(uint256.Int).DivMod(v, mantissaOne, new(uint256.Int))
	if frac.IsZero() {
		return whole.Dec()
	}
	fracDigits := frac.Dec()
	fracDigits = strings.Repeat("0", mantissaDecimals-len(fracDigits)) + fracDigits
	return whole.Dec() + "." + strings.TrimRight(fracDigits, "0")
}

// mantissaFloat approximates a mantissa as a float64 for metrics.
func mantissaFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), new(big.Float).SetInt(bigOne)).Float64()
	return f
}
