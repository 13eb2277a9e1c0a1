// Package decimal implements a fixed-point signed decimal with a working
// scale of 18 fractional digits. Addition and subtraction are exact;
// multiplication and division are rounded half-up and renormalized to
// scale 18. Values compare with a total order.
package decimal

import (
	"database/sql/driver"
	"fmt"
	"math/big"
)

// Scale is the number of fractional digits every Decimal is stored at.
const Scale = 18

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)

// epsilon is the smallest representable unit at scale 18, used only by
// IsNonNegativeAfterEpsilon to absorb last-digit drift from chained
// mul/div, never in the matcher's own amount arithmetic.
var epsilon = big.NewInt(1)

// Decimal is an immutable fixed-point number: unscaled * 10^-18.
type Decimal struct {
	unscaled *big.Int
}

// Zero is the additive identity.
var Zero = Decimal{unscaled: big.NewInt(0)}

func fromUnscaled(u *big.Int) Decimal {
	return Decimal{unscaled: u}
}

// u returns d's backing big.Int, treating the zero Go value of Decimal
// (unscaled == nil) as zero rather than panicking, so a Decimal left
// unset in a struct literal behaves like an explicit Zero.
func (d Decimal) u() *big.Int {
	if d.unscaled == nil {
		return big.NewInt(0)
	}
	return d.unscaled
}

// NewFromInt64 builds a Decimal representing the integer value v.
func NewFromInt64(v int64) Decimal {
	return fromUnscaled(new(big.Int).Mul(big.NewInt(v), scaleFactor))
}

// NewFromString parses a base-10 decimal literal such as "123.456" into a
// Decimal at scale 18, rejecting more than 18 fractional digits.
func NewFromString(s string) (Decimal, error) {
	if s == "" {
		return Decimal{}, fmt.Errorf("decimal: empty string")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	} else if s[0] == '+' {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := indexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > Scale {
		return Decimal{}, fmt.Errorf("decimal: %q exceeds scale %d", s, Scale)
	}
	for len(fracPart) < Scale {
		fracPart += "0"
	}

	digits := intPart + fracPart
	u, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("decimal: invalid literal %q", s)
	}
	if neg {
		u.Neg(u)
	}
	return fromUnscaled(u), nil
}

// MustFromString is NewFromString that panics on a malformed literal; it
// is meant for constant-like call sites (tests, fixed fee defaults).
func MustFromString(s string) Decimal {
	d, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the Decimal as a base-10 literal with a trailing
// fractional part trimmed of insignificant zeros (but never past the
// decimal point).
func (d Decimal) String() string {
	if d.unscaled == nil {
		return "0"
	}
	neg := d.unscaled.Sign() < 0
	abs := new(big.Int).Abs(d.unscaled)

	digits := abs.String()
	for len(digits) <= Scale {
		digits = "0" + digits
	}
	intPart := digits[:len(digits)-Scale]
	fracPart := digits[len(digits)-Scale:]

	end := len(fracPart)
	for end > 0 && fracPart[end-1] == '0' {
		end--
	}

	out := intPart
	if end > 0 {
		out += "." + fracPart[:end]
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}

// Add returns d + o, exact.
func (d Decimal) Add(o Decimal) Decimal {
	return fromUnscaled(new(big.Int).Add(d.u(), o.u()))
}

// Sub returns d - o, exact.
func (d Decimal) Sub(o Decimal) Decimal {
	return fromUnscaled(new(big.Int).Sub(d.u(), o.u()))
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	return fromUnscaled(new(big.Int).Neg(d.u()))
}

// Mul returns d * o, rounded half-up and renormalized to scale 18.
func (d Decimal) Mul(o Decimal) Decimal {
	product := new(big.Int).Mul(d.u(), o.u())
	return fromUnscaled(divRoundHalfUp(product, scaleFactor))
}

// ErrDivisionByZero is returned by Div when the divisor is zero.
var ErrDivisionByZero = fmt.Errorf("decimal: division by zero")

// Div returns d / o rounded half-up to scale 18. It returns
// ErrDivisionByZero when o is zero.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.u().Sign() == 0 {
		return Decimal{}, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(d.u(), scaleFactor)
	return fromUnscaled(divRoundHalfUp(numerator, o.u())), nil
}

// DivFloor returns d / o truncated toward zero at scale 18, rather than
// rounded, so the result never exceeds the true quotient. Callers that
// treat the quotient as a budget cap (e.g. a quote-denominated amount
// divided by price) must use this instead of Div: rounding half-up can
// push the result a fraction above the true quotient, which compounds
// across fills into spending more than was ever available. Returns
// ErrDivisionByZero when o is zero.
func (d Decimal) DivFloor(o Decimal) (Decimal, error) {
	if o.u().Sign() == 0 {
		return Decimal{}, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(d.u(), scaleFactor)
	neg := (numerator.Sign() < 0) != (o.u().Sign() < 0)

	q := new(big.Int).Quo(new(big.Int).Abs(numerator), new(big.Int).Abs(o.u()))
	if neg {
		q.Neg(q)
	}
	return fromUnscaled(q), nil
}

// divRoundHalfUp computes round-half-up(num/den) preserving the sign of
// the mathematical quotient.
func divRoundHalfUp(num, den *big.Int) *big.Int {
	neg := (num.Sign() < 0) != (den.Sign() < 0)

	absNum := new(big.Int).Abs(num)
	absDen := new(big.Int).Abs(den)

	q, r := new(big.Int), new(big.Int)
	q.QuoRem(absNum, absDen, r)

	doubled := new(big.Int).Lsh(r, 1)
	if doubled.Cmp(absDen) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if neg {
		q.Neg(q)
	}
	return q
}

// Cmp returns -1, 0 or 1 as d is less than, equal to, or greater than o.
func (d Decimal) Cmp(o Decimal) int {
	return d.u().Cmp(o.u())
}

// Equal reports whether d and o represent the same value.
func (d Decimal) Equal(o Decimal) bool {
	return d.Cmp(o) == 0
}

// LessThan reports d < o.
func (d Decimal) LessThan(o Decimal) bool { return d.Cmp(o) < 0 }

// GreaterThan reports d > o.
func (d Decimal) GreaterThan(o Decimal) bool { return d.Cmp(o) > 0 }

// LessThanOrEqual reports d <= o.
func (d Decimal) LessThanOrEqual(o Decimal) bool { return d.Cmp(o) <= 0 }

// GreaterThanOrEqual reports d >= o.
func (d Decimal) GreaterThanOrEqual(o Decimal) bool { return d.Cmp(o) >= 0 }

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool {
	return d.unscaled == nil || d.unscaled.Sign() == 0
}

// IsPositive reports d > 0.
func (d Decimal) IsPositive() bool {
	return d.unscaled != nil && d.unscaled.Sign() > 0
}

// IsNegative reports d < 0.
func (d Decimal) IsNegative() bool {
	return d.unscaled != nil && d.unscaled.Sign() < 0
}

// Min returns the lesser of a and b.
func Min(a, b Decimal) Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the greater of a and b.
func Max(a, b Decimal) Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// IsNonNegativeAfterEpsilon returns true when a-b >= -10^-18. It exists
// solely to absorb last-digit representational noise accumulated across
// chained Mul/Div at the balance-sufficiency check; it must never be used
// inside matching-amount computations themselves.
func IsNonNegativeAfterEpsilon(a, b Decimal) bool {
	diff := a.Sub(b)
	return diff.unscaled.Cmp(new(big.Int).Neg(epsilon)) >= 0
}

// Value implements driver.Valuer so a Decimal column round-trips through
// database/sql (and gorm) as its decimal-string literal, never a binary
// float, matching the wire envelope's decimal-string convention.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner, accepting the string/[]byte/nil forms a
// driver may hand back for a numeric/varchar column.
func (d *Decimal) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Zero
		return nil
	case string:
		parsed, err := NewFromString(v)
		if err != nil {
			return fmt.Errorf("decimal: scan %q: %w", v, err)
		}
		*d = parsed
		return nil
	case []byte:
		parsed, err := NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("decimal: scan %q: %w", v, err)
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("decimal: unsupported scan type %T", src)
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
