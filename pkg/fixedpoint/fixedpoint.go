// Package fixedpoint implements 17.14 signed fixed-point arithmetic.
//
// A Fixed holds a real number scaled by 2^14 in an int32. Products and
// quotients of two Fixed values are widened to int64 before rescaling so
// intermediate results do not overflow. Results are bit-identical to the
// usual C macro implementation: Go's integer division truncates toward zero
// the same way.
package fixedpoint

import (
	"fmt"
	"strconv"
)

// FractionBits is the number of bits below the binary point.
const FractionBits = 14

// Scale is the fixed-point scale factor, 2^FractionBits.
const Scale = 1 << FractionBits

// Fixed is a 17.14 fixed-point real.
type Fixed int32

// Zero is the fixed-point representation of 0.
const Zero Fixed = 0

// One is the fixed-point representation of 1.
const One Fixed = Scale

// FromInt converts an integer to fixed point.
func FromInt(n int) Fixed {
	return Fixed(n * Scale)
}

// Frac returns num/den as a fixed-point value.
func Frac(num, den int) Fixed {
	return FromInt(num).DivInt(den)
}

// Add returns x + y.
func (x Fixed) Add(y Fixed) Fixed { return x + y }

// Sub returns x - y.
func (x Fixed) Sub(y Fixed) Fixed { return x - y }

// AddInt returns x + n.
func (x Fixed) AddInt(n int) Fixed { return x + FromInt(n) }

// SubInt returns x - n.
func (x Fixed) SubInt(n int) Fixed { return x - FromInt(n) }

// Mul returns x * y.
func (x Fixed) Mul(y Fixed) Fixed {
	return Fixed(int64(x) * int64(y) / Scale)
}

// MulInt returns x * n.
func (x Fixed) MulInt(n int) Fixed { return x * Fixed(n) }

// Div returns x / y. It panics if y is zero, like integer division.
func (x Fixed) Div(y Fixed) Fixed {
	return Fixed(int64(x) * Scale / int64(y))
}

// DivInt returns x / n.
func (x Fixed) DivInt(n int) Fixed { return x / Fixed(n) }

// Trunc converts x to an integer, rounding toward zero.
func (x Fixed) Trunc() int {
	return int(x / Scale)
}

// Round converts x to the nearest integer, rounding halves away from zero.
func (x Fixed) Round() int {
	if x >= 0 {
		return int((x + Scale/2) / Scale)
	}
	return int((x - Scale/2) / Scale)
}

// Float64 returns x as a float64. Used for display only.
func (x Fixed) Float64() float64 {
	return float64(x) / Scale
}

// String formats x with two decimal places.
func (x Fixed) String() string {
	return strconv.FormatFloat(x.Float64(), 'f', 2, 64)
}

// GoString shows the raw scaled value alongside the real value.
func (x Fixed) GoString() string {
	return fmt.Sprintf("fixedpoint.Fixed(%d /* %s */)", int32(x), x.String())
}
