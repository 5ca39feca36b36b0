// Package demog represents piecewise-constant population size histories
// and the coalescence rate functions derived from them.
package demog

import (
	"errors"
	"fmt"
	"math"

	"github.com/kshedden/coalhmm/ad"
)

// ErrInvalidHistory is returned for malformed histories or hidden states.
var ErrInvalidHistory = errors.New("invalid demographic history")

// History is a piecewise-constant population size history, going backward
// in time from the present.  Piece k has relative size Sizes[k] and lasts
// Spans[k] time units; the last piece extends to infinity and its span is
// ignored.  A size of +Inf means no coalescence happens during the piece.
type History struct {
	Sizes []ad.Dual
	Spans []float64
}

// NewHistory returns a History with constant (non-differentiated) sizes.
func NewHistory(sizes, spans []float64) History {

	h := History{
		Sizes: make([]ad.Dual, len(sizes)),
		Spans: make([]float64, len(spans)),
	}
	for i, v := range sizes {
		h.Sizes[i] = ad.Const(v)
	}
	copy(h.Spans, spans)

	return h
}

// Constant returns a one-piece history with the given size.
func Constant(size float64) History {
	return NewHistory([]float64{size}, []float64{1})
}

// Variables returns a copy of h in which every finite size is an independent
// variable for differentiation, in order.  The second return value is the
// number of variables.
func (h History) Variables() (History, int) {

	var nd int
	for _, s := range h.Sizes {
		if !math.IsInf(s.V, 1) {
			nd++
		}
	}

	r := History{
		Sizes: make([]ad.Dual, len(h.Sizes)),
		Spans: make([]float64, len(h.Spans)),
	}
	copy(r.Spans, h.Spans)

	var j int
	for i, s := range h.Sizes {
		if math.IsInf(s.V, 1) {
			r.Sizes[i] = ad.Const(s.V)
			continue
		}
		r.Sizes[i] = ad.Var(s.V, j, nd)
		j++
	}

	return r, nd
}

// Validate checks that sizes are positive and spans are positive and finite.
func (h History) Validate() error {

	if len(h.Sizes) == 0 {
		return fmt.Errorf("%w: no pieces", ErrInvalidHistory)
	}
	if len(h.Spans) != len(h.Sizes) {
		return fmt.Errorf("%w: %d sizes but %d spans", ErrInvalidHistory, len(h.Sizes), len(h.Spans))
	}
	for k := range h.Sizes {
		if !(h.Sizes[k].V > 0) {
			return fmt.Errorf("%w: size %d is %g", ErrInvalidHistory, k, h.Sizes[k].V)
		}
		if k < len(h.Sizes)-1 && !(h.Spans[k] > 0 && !math.IsInf(h.Spans[k], 0)) {
			return fmt.Errorf("%w: span %d is %g", ErrInvalidHistory, k, h.Spans[k])
		}
	}
	if math.IsInf(h.Sizes[len(h.Sizes)-1].V, 1) {
		return fmt.Errorf("%w: the last piece must have finite size", ErrInvalidHistory)
	}

	return nil
}

// nderiv returns the longest gradient length among the sizes.
func (h History) nderiv() int {
	var nd int
	for _, s := range h.Sizes {
		nd = max(nd, len(s.D))
	}
	return nd
}

// ValidateHiddenStates checks that hs is a valid hidden-state discretization:
// at least two boundaries, starting at a non-negative value, strictly
// increasing.  Only the last boundary may be infinite.
func ValidateHiddenStates(hs []float64) error {

	if len(hs) < 2 {
		return fmt.Errorf("%w: need at least 2 hidden state boundaries, got %d", ErrInvalidHistory, len(hs))
	}
	if hs[0] < 0 || math.IsNaN(hs[0]) {
		return fmt.Errorf("%w: first hidden state boundary is %g", ErrInvalidHistory, hs[0])
	}
	for i := 1; i < len(hs); i++ {
		if !(hs[i] > hs[i-1]) {
			return fmt.Errorf("%w: hidden states not strictly increasing at %d", ErrInvalidHistory, i)
		}
		if math.IsInf(hs[i], 1) && i != len(hs)-1 {
			return fmt.Errorf("%w: only the last hidden state boundary may be infinite", ErrInvalidHistory)
		}
	}

	return nil
}

// ExpQuantiles returns M+1 hidden-state boundaries placed at the quantiles
// of an exponential distribution truncated at hM.  The first boundary is 0
// and the last is hM.
func ExpQuantiles(M int, hM float64) []float64 {

	hs := make([]float64, M+1)
	for i := 1; i < M; i++ {
		p := float64(i) / float64(M)
		hs[i] = -math.Log(1 - p*(1-math.Exp(-hM)))
	}
	hs[M] = hM

	return hs
}
