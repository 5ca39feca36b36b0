package demog

import (
	"math"

	"github.com/kshedden/coalhmm/ad"
)

// RateFunction is the coalescence rate of two lineages under a History,
// together with quantities derived from it on a hidden-state grid.
type RateFunction struct {

	// Piece boundaries: 0, Spans[0], Spans[0]+Spans[1], ..., +Inf
	ts []float64

	// Coalescence rate (1/size) in each piece
	rates []ad.Dual

	// Cumulative rate at the start of each piece
	rcum []ad.Dual

	// The hidden-state boundaries
	hs []float64

	// Average coalescence time within each hidden-state interval
	avgct []ad.Dual

	// Length of all gradients
	nd int
}

// NewRateFunction returns the rate function of h on the hidden-state grid hs.
func NewRateFunction(h History, hs []float64) (*RateFunction, error) {

	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateHiddenStates(hs); err != nil {
		return nil, err
	}

	K := len(h.Sizes)
	nd := h.nderiv()
	rf := &RateFunction{
		ts:    make([]float64, K+1),
		rates: make([]ad.Dual, K),
		rcum:  make([]ad.Dual, K+1),
		hs:    append([]float64(nil), hs...),
		nd:    nd,
	}

	for k := 0; k < K; k++ {
		if k < K-1 {
			rf.ts[k+1] = rf.ts[k] + h.Spans[k]
		} else {
			rf.ts[k+1] = math.Inf(1)
		}
		if math.IsInf(h.Sizes[k].V, 1) {
			rf.rates[k] = ad.Zero(nd)
		} else {
			rf.rates[k] = h.Sizes[k].Inv()
		}
	}

	rf.rcum[0] = ad.Zero(nd)
	for k := 0; k < K-1; k++ {
		rf.rcum[k+1] = rf.rcum[k].Add(rf.rates[k].Scale(rf.ts[k+1] - rf.ts[k]))
	}

	rf.avgct = make([]ad.Dual, len(hs)-1)
	for m := range rf.avgct {
		rf.avgct[m] = rf.averageCoalTime(hs[m], hs[m+1])
	}

	return rf, nil
}

// piece returns the index of the piece containing t.
func (rf *RateFunction) piece(t float64) int {
	k := 0
	for k < len(rf.rates)-1 && t >= rf.ts[k+1] {
		k++
	}
	return k
}

// R returns the cumulative coalescence rate from 0 to t.  t must be finite.
func (rf *RateFunction) R(t float64) ad.Dual {
	k := rf.piece(t)
	return rf.rcum[k].Add(rf.rates[k].Scale(t - rf.ts[k]))
}

// RDual returns the cumulative rate at a differentiable time point.
func (rf *RateFunction) RDual(t ad.Dual) ad.Dual {
	k := rf.piece(t.V)
	return rf.rcum[k].Add(rf.rates[k].Mul(t.AddConst(-rf.ts[k])))
}

// Rinv returns the time t at which the cumulative rate equals x.  Pieces
// with zero rate are skipped, so the smallest such t is returned.
func (rf *RateFunction) Rinv(x ad.Dual) ad.Dual {

	K := len(rf.rates)
	for k := 0; k < K; k++ {
		if rf.rates[k].V == 0 {
			continue
		}
		if k == K-1 || x.V < rf.rcum[k+1].V {
			return x.Sub(rf.rcum[k]).Div(rf.rates[k]).AddConst(rf.ts[k])
		}
	}

	// All rates are zero
	return ad.Const(math.Inf(1))
}

// Survival returns exp(-R(t)), which is 0 for t = +Inf.
func (rf *RateFunction) Survival(t float64) ad.Dual {
	if math.IsInf(t, 1) {
		return ad.Zero(rf.nd)
	}
	return ad.Exp(rf.R(t).Neg())
}

// Zero returns the additive identity, with a gradient of the right length.
func (rf *RateFunction) Zero() ad.Dual {
	return ad.Zero(rf.nd)
}

// NumDeriv returns the gradient length of the values produced by rf.
func (rf *RateFunction) NumDeriv() int {
	return rf.nd
}

// HiddenStates returns the hidden-state boundaries.
func (rf *RateFunction) HiddenStates() []float64 {
	return rf.hs
}

// AverageCoalTimes returns, for each hidden-state interval, the expected
// coalescence time given that coalescence happens in the interval.  The
// value is NaN when coalescence within the interval is impossible.
func (rf *RateFunction) AverageCoalTimes() []ad.Dual {
	return rf.avgct
}

// averageCoalTime computes E[T | lo <= T < hi] piece by piece.  Within a
// piece of rate l starting at u0 with R(u0) = R0,
//
//	int_u0^u1 t l exp(-R0 - l(t-u0)) dt = exp(-R0) [(u0+1/l) - (u1+1/l) exp(-l(u1-u0))].
func (rf *RateFunction) averageCoalTime(lo, hi float64) ad.Dual {

	pr := rf.Survival(lo).Sub(rf.Survival(hi))
	if !(pr.V > 0) {
		return ad.NaN()
	}

	num := rf.Zero()
	for k := range rf.rates {
		u0 := math.Max(lo, rf.ts[k])
		u1 := math.Min(hi, rf.ts[k+1])
		if u0 >= u1 || rf.rates[k].V == 0 {
			continue
		}
		l := rf.rates[k]
		e0 := ad.Exp(rf.R(u0).Neg())
		inv := l.Inv()
		term := inv.AddConst(u0)
		if !math.IsInf(u1, 1) {
			decay := ad.Exp(l.Scale(u1 - u0).Neg())
			term = term.Sub(inv.AddConst(u1).Mul(decay))
		}
		num = num.Add(e0.Mul(term))
	}

	return num.Div(pr)
}
