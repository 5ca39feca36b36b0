// Package ad implements a forward-mode automatic differentiation scalar.
//
// A Dual carries a value together with its gradient with respect to a fixed
// set of parameters.  Dual values are immutable: every operation allocates a
// new gradient slice, so a Dual can be shared freely between goroutines.
package ad

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dual is a value with its gradient.  A nil gradient is treated as a vector
// of zeros of whatever length the other operand has.
type Dual struct {

	// The value
	V float64

	// The partial derivatives
	D []float64
}

// Const returns a Dual with the given value and no gradient.
func Const(v float64) Dual {
	return Dual{V: v}
}

// Zero returns the additive identity carrying a zero gradient of length nd.
func Zero(nd int) Dual {
	return Dual{D: make([]float64, nd)}
}

// Var returns the i'th of nd independent variables, with value v.
func Var(v float64, i, nd int) Dual {
	d := make([]float64, nd)
	d[i] = 1
	return Dual{V: v, D: d}
}

// NaN returns a Dual whose value is NaN.
func NaN() Dual {
	return Dual{V: math.NaN()}
}

// Value returns the value component.
func (x Dual) Value() float64 {
	return x.V
}

// Grad returns a copy of the gradient, padded with zeros to length nd.
func (x Dual) Grad(nd int) []float64 {
	g := make([]float64, nd)
	copy(g, x.D)
	return g
}

// IsNaN reports whether the value is NaN.  The gradient is not examined.
func (x Dual) IsNaN() bool {
	return math.IsNaN(x.V)
}

// String formats the value and gradient.
func (x Dual) String() string {
	if len(x.D) == 0 {
		return fmt.Sprintf("%g", x.V)
	}
	return fmt.Sprintf("%g%v", x.V, x.D)
}

// lin returns ca*a + cb*b, padding the shorter slice with zeros.
func lin(ca float64, a []float64, cb float64, b []float64) []float64 {
	n := max(len(a), len(b))
	if n == 0 {
		return nil
	}
	d := make([]float64, n)
	if len(a) > 0 && ca != 0 {
		floats.AddScaled(d[:len(a)], ca, a)
	}
	if len(b) > 0 && cb != 0 {
		floats.AddScaled(d[:len(b)], cb, b)
	}
	return d
}

// scaled returns c*a.
func scaled(c float64, a []float64) []float64 {
	if len(a) == 0 {
		return nil
	}
	d := make([]float64, len(a))
	floats.ScaleTo(d, c, a)
	return d
}

// Add returns x+y.
func (x Dual) Add(y Dual) Dual {
	return Dual{V: x.V + y.V, D: lin(1, x.D, 1, y.D)}
}

// Sub returns x-y.
func (x Dual) Sub(y Dual) Dual {
	return Dual{V: x.V - y.V, D: lin(1, x.D, -1, y.D)}
}

// Mul returns x*y.
func (x Dual) Mul(y Dual) Dual {
	return Dual{V: x.V * y.V, D: lin(y.V, x.D, x.V, y.D)}
}

// Div returns x/y.
func (x Dual) Div(y Dual) Dual {
	v := x.V / y.V
	return Dual{V: v, D: lin(1/y.V, x.D, -v/y.V, y.D)}
}

// Neg returns -x.
func (x Dual) Neg() Dual {
	return Dual{V: -x.V, D: scaled(-1, x.D)}
}

// Scale returns c*x.
func (x Dual) Scale(c float64) Dual {
	return Dual{V: c * x.V, D: scaled(c, x.D)}
}

// AddConst returns x+c.
func (x Dual) AddConst(c float64) Dual {
	return Dual{V: x.V + c, D: scaled(1, x.D)}
}

// Inv returns 1/x.
func (x Dual) Inv() Dual {
	v := 1 / x.V
	return Dual{V: v, D: scaled(-v*v, x.D)}
}

// Exp returns e^x.
func Exp(x Dual) Dual {
	v := math.Exp(x.V)
	return Dual{V: v, D: scaled(v, x.D)}
}

// Expm1 returns e^x - 1, accurate for small x.
func Expm1(x Dual) Dual {
	return Dual{V: math.Expm1(x.V), D: scaled(math.Exp(x.V), x.D)}
}

// Log returns the natural logarithm of x.
func Log(x Dual) Dual {
	return Dual{V: math.Log(x.V), D: scaled(1/x.V, x.D)}
}

// Sum returns the sum of the elements of x.
func Sum(x []Dual) Dual {
	var s Dual
	for _, v := range x {
		s = s.Add(v)
	}
	return s
}

// Less reports whether the value of x is less than the value of y.
func (x Dual) Less(y Dual) bool {
	return x.V < y.V
}

// Values returns the value components of x.
func Values(x []Dual) []float64 {
	v := make([]float64, len(x))
	for i := range x {
		v[i] = x[i].V
	}
	return v
}

// MaxValue returns the largest value in x, ignoring gradients.
func MaxValue(x []Dual) float64 {
	return floats.Max(Values(x))
}

// MinValue returns the smallest value in x, ignoring gradients.
func MinValue(x []Dual) float64 {
	return floats.Min(Values(x))
}

// AnyNaN reports whether any value in x is NaN.
func AnyNaN(x []Dual) bool {
	for i := range x {
		if x[i].IsNaN() {
			return true
		}
	}
	return false
}
