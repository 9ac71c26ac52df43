// Package amount converts between decimal deposit amounts and the pair of
// 128-bit words the registry contract takes for a 256-bit quantity.
package amount

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrEncoding is returned when an amount cannot be represented on chain.
var ErrEncoding = errors.New("amount encoding failed")

var (
	two128    = new(big.Int).Lsh(big.NewInt(1), 128)
	mask128   = new(big.Int).Sub(two128, big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
)

// Pair is a 256-bit magnitude split into its low and high 128-bit halves,
// each half reinterpreted as a signed two's complement integer.
type Pair struct {
	Low  *big.Int
	High *big.Int
}

// maxExponent is the largest power of ten below 2^256.
const maxExponent = 77

// ToOnchainPair encodes a non-negative amount. Any fractional part is
// truncated toward zero; amounts are expected in the token's base units.
func ToOnchainPair(d decimal.Decimal) (Pair, error) {
	if d.Sign() < 0 {
		return Pair{}, fmt.Errorf("%w: negative amount", ErrEncoding)
	}

	n, err := Truncate(d)
	if err != nil {
		return Pair{}, err
	}
	if n.BitLen() > 256 {
		return Pair{}, fmt.Errorf("%w: amount exceeds 256 bits", ErrEncoding)
	}

	low := new(big.Int).And(n, mask128)
	high := new(big.Int).Rsh(n, 128)

	return Pair{Low: toSigned128(low), High: toSigned128(high)}, nil
}

// OnchainValue is the amount the contract receives for d: the round trip
// through ToOnchainPair and FromOnchainPair.
func OnchainValue(d decimal.Decimal) (decimal.Decimal, error) {
	p, err := ToOnchainPair(d)
	if err != nil {
		return decimal.Zero, err
	}
	return FromOnchainPair(p)
}

// FromOnchainPair reverses ToOnchainPair.
func FromOnchainPair(p Pair) (decimal.Decimal, error) {
	if p.Low == nil || p.High == nil {
		return decimal.Zero, fmt.Errorf("%w: incomplete pair", ErrEncoding)
	}
	if !inSigned128(p.Low) || !inSigned128(p.High) {
		return decimal.Zero, fmt.Errorf("%w: half out of int128 range", ErrEncoding)
	}
	return combine(toUnsigned128(p.Low), toUnsigned128(p.High)), nil
}

// FromU256Words combines two unsigned 128-bit words, as returned by a token's
// balance query, into one decimal.
func FromU256Words(low, high *big.Int) (decimal.Decimal, error) {
	if low == nil || high == nil {
		return decimal.Zero, fmt.Errorf("%w: missing word", ErrEncoding)
	}
	if !inUnsigned128(low) || !inUnsigned128(high) {
		return decimal.Zero, fmt.Errorf("%w: word out of uint128 range", ErrEncoding)
	}
	return combine(low, high), nil
}

// Truncate returns the integer part of d. The decimal value is
// coefficient * 10^exponent: a negative exponent divides, a positive one
// multiplies. Values that cannot fit in 256 bits are rejected before any
// power of ten is computed.
func Truncate(d decimal.Decimal) (*big.Int, error) {
	coef := d.Coefficient()
	exp := int64(d.Exponent())

	if coef.Sign() == 0 {
		return coef, nil
	}

	switch {
	case exp < 0:
		// A b-bit coefficient has at most b decimal digits.
		if -exp > int64(coef.BitLen()) {
			return new(big.Int), nil
		}
		return coef.Quo(coef, pow10(-exp)), nil
	case exp > 0:
		if exp > maxExponent || coef.BitLen() > 256 {
			return nil, fmt.Errorf("%w: amount exceeds 256 bits", ErrEncoding)
		}
		return coef.Mul(coef, pow10(exp)), nil
	default:
		return coef, nil
	}
}

func combine(low, high *big.Int) decimal.Decimal {
	n := new(big.Int).Lsh(high, 128)
	n.Or(n, low)
	return decimal.NewFromBigInt(n, 0)
}

func pow10(e int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(e), nil)
}

func toSigned128(u *big.Int) *big.Int {
	if u.Cmp(maxInt128) > 0 {
		return new(big.Int).Sub(u, two128)
	}
	return new(big.Int).Set(u)
}

func toUnsigned128(s *big.Int) *big.Int {
	if s.Sign() < 0 {
		return new(big.Int).Add(s, two128)
	}
	return new(big.Int).Set(s)
}

func inSigned128(v *big.Int) bool {
	return v.Cmp(minInt128) >= 0 && v.Cmp(maxInt128) <= 0
}

func inUnsigned128(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(mask128) <= 0
}
