package smclib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
)

const (
	// Gauss-Legendre nodes per integral in the transition matrix
	transitionNodes = 10

	// Width, on the cumulative-rate scale, used for an unbounded last
	// hidden state
	rateTail = 30
)

// computeTransition returns the sequentially Markov transition matrix for
// recombination rate rho.  Row i is the distribution of the hidden state at
// the next site given coalescence time t in interval i: with probability
// exp(-rho t) there is no recombination and the state is kept; otherwise a
// recombination happens at a uniform time u in [0, t] and the detached
// lineage coalesces again above u.
func computeTransition(rf *demog.RateFunction, rho float64) ([][]ad.Dual, error) {

	hs := rf.HiddenStates()
	M := len(hs) - 1

	x := make([]float64, transitionNodes)
	w := make([]float64, transitionNodes)
	quad.Legendre{}.FixedLocations(x, w, 0, 1)

	// Cumulative rates at the boundaries
	rb := make([]ad.Dual, M+1)
	for m := 0; m <= M; m++ {
		if math.IsInf(hs[m], 1) {
			rb[m] = rb[m-1].AddConst(rateTail)
			continue
		}
		rb[m] = rf.R(hs[m])
	}

	// recoal returns the probability that a lineage detached at time u
	// coalesces again in interval j.
	recoal := func(u ad.Dual, j int) ad.Dual {
		if !(hs[j+1] > u.V) {
			return rf.Zero()
		}
		ru := rf.RDual(u)
		ra := rf.R(hs[j])
		if u.V > hs[j] {
			ra = ru
		}
		p := ad.Exp(ra.Sub(ru).Neg())
		if !math.IsInf(hs[j+1], 1) {
			p = p.Sub(ad.Exp(rf.R(hs[j+1]).Sub(ru).Neg()))
		}
		return p
	}

	T := make([][]ad.Dual, M)
	for i := 0; i < M; i++ {
		T[i] = make([]ad.Dual, M)
		for j := range T[i] {
			T[i][j] = rf.Zero()
		}

		width := rb[i+1].Sub(rb[i])
		if rho == 0 || !(width.V > 0) {
			T[i][i] = rf.Zero().AddConst(1)
			continue
		}

		for q := range x {
			// Coalescence time, integrated on the cumulative-rate scale
			xr := rb[i].Add(width.Scale(x[q]))
			t := rf.Rinv(xr)
			dens := ad.Exp(xr.Neg()).Mul(width).Scale(w[q])

			stay := ad.Exp(t.Scale(-rho))
			T[i][i] = T[i][i].Add(dens.Mul(stay))

			move := dens.Mul(stay.Neg().AddConst(1))
			for r := range x {
				u := t.Scale(x[r])
				for j := 0; j < M; j++ {
					pj := recoal(u, j)
					if pj.V == 0 {
						continue
					}
					T[i][j] = T[i][j].Add(move.Mul(pj).Scale(w[r]))
				}
			}
		}

		s := ad.Sum(T[i])
		if !(s.V > 0) {
			return nil, fmt.Errorf("%w: transition row %d has mass %g", ErrNumerical, i, s.V)
		}
		for j := range T[i] {
			T[i][j] = T[i][j].Div(s)
		}
	}

	for i := range T {
		if ad.AnyNaN(T[i]) {
			return nil, fmt.Errorf("%w: transition row %d contains NaN", ErrNumerical, i)
		}
	}

	return T, nil
}
