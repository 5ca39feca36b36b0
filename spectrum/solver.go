package spectrum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
)

// Solver produces one spectrum tensor per hidden-state interval of a rate
// function.
type Solver interface {

	// Compute returns the tensors, in hidden-state order.
	Compute(rf *demog.RateFunction) ([]Tensor, error)

	// Dims returns the tensor shape.
	Dims() []int
}

// Precomputer is implemented by solvers that need per-population histories
// and a split time in addition to the rate function of the distinguished
// lineages.
type Precomputer interface {
	Precompute(h1, h2 demog.History, split float64) error
}

// Number of Gauss-Legendre nodes used on each integral.
const numNodes = 8

// Floor applied to propagator probabilities.
const tiny = 1e-20

// unitNodes returns Gauss-Legendre nodes and weights on [0, 1].
func unitNodes() ([]float64, []float64) {
	x := make([]float64, numNodes)
	w := make([]float64, numNodes)
	quad.Legendre{}.FixedLocations(x, w, 0, 1)
	return x, w
}

// propagate returns the distribution of the Moran chain after running for
// time x from the state with one derived copy.  Values are floored at tiny
// so that roundoff never produces a non-positive probability.
func propagate(es *MoranEigensystem, x ad.Dual) []ad.Dual {

	ns := es.N + 1
	ex := make([]ad.Dual, ns)
	for k := 0; k < ns; k++ {
		ex[k] = ad.Exp(x.Scale(es.Df[k])).Scale(es.Uf[1][k])
	}

	p := make([]ad.Dual, ns)
	for j := 0; j < ns; j++ {
		var s ad.Dual
		for k := 0; k < ns; k++ {
			if es.Uinvf[k][j] != 0 {
				s = s.Add(ex[k].Scale(es.Uinvf[k][j]))
			}
		}
		if s.V < tiny {
			s = ad.Const(tiny)
		}
		p[j] = s
	}

	return p
}

// representative returns the time used for the coalescence of the
// distinguished pair in interval m.  Where the average coalescence time is
// undefined the interval midpoint is used.
func representative(rf *demog.RateFunction, m int) ad.Dual {

	act := rf.AverageCoalTimes()
	if !act[m].IsNaN() {
		return act[m]
	}

	hs := rf.HiddenStates()
	lo, hi := hs[m], hs[m+1]
	if math.IsInf(hi, 1) {
		hi = lo + 1
	}

	return ad.Const((lo + hi) / 2)
}

// harmonic returns 1 + 1/2 + ... + 1/n.
func harmonic(n int) float64 {
	var h float64
	for k := 1; k <= n; k++ {
		h += 1 / float64(k)
	}
	return h
}

// normalizeTo rescales v in place so that it sums to mass.
func normalizeTo(v []ad.Dual, mass ad.Dual) error {
	s := ad.Sum(v)
	if !(s.V > 0) {
		return fmt.Errorf("%w: branch distribution has mass %g", ErrInvalidSolver, s.V)
	}
	for i := range v {
		v[i] = v[i].Div(s).Mul(mass)
	}
	return nil
}

// clock maps a time to elapsed Moran time.
type clock func(u ad.Dual) ad.Dual

// branchSpectrum computes the three per-branch-class distributions over the
// number of derived undistinguished lineages b = 0..n, for a sample with n
// undistinguished lineages evolving under a Moran chain on n+1 genes.  The
// classes are indexed by the number of derived distinguished lineages: 0
// (mutation only on undistinguished branches), 1 (below the coalescence of
// the distinguished pair at tau) and 2 (above it).
func branchSpectrum(es *MoranEigensystem, n int, tau, size ad.Dual, clk clock) ([3][]ad.Dual, error) {

	N := float64(n + 1)
	x, w := unitNodes()

	var out [3][]ad.Dual
	for a := range out {
		out[a] = make([]ad.Dual, n+1)
	}

	for i := range x {
		below := propagate(es, clk(tau.Scale(x[i])))
		above := propagate(es, clk(tau.Add(size.Scale(x[i]))))
		for b := 0; b <= n; b++ {
			f := float64(b+1) / N
			out[1][b] = out[1][b].Add(below[b+1].Scale(w[i] * f))
			out[2][b] = out[2][b].Add(above[b+1].Scale(w[i] * f))
			if b > 0 {
				out[0][b] = out[0][b].Add(below[b].Scale(w[i] * (1 - float64(b)/N)))
			}
		}
	}

	// a = 0, b = 0 carries no mutation
	out[0][0] = tau.Scale(0)

	masses := [3]ad.Dual{
		size.Scale(2 * harmonic(n)),
		tau.Scale(2),
		size.Scale(2),
	}
	for a := range out {
		lo := 0
		if a == 0 {
			lo = 1
		}
		if lo > n {
			continue
		}
		if err := normalizeTo(out[a][lo:], masses[a]); err != nil {
			return out, err
		}
	}

	return out, nil
}

// effectiveSize returns tau / R(tau), the harmonic mean population size up
// to tau, or 1 when no coalescence can have happened by tau.
func effectiveSize(r ad.Dual, tau ad.Dual) ad.Dual {
	if !(r.V > 0) {
		return ad.Const(1)
	}
	return tau.Div(r)
}

// OnePop computes the conditioned spectrum of one population with two
// distinguished lineages and n undistinguished lineages.
type OnePop struct {
	n     int
	cache *EigenCache
}

// OnePopSolver returns a solver for n undistinguished lineages using the
// given eigensystem cache.
func OnePopSolver(n int, cache *EigenCache) *OnePop {
	return &OnePop{n: n, cache: cache}
}

// Dims returns {3, n+1}.
func (s *OnePop) Dims() []int {
	return []int{3, s.n + 1}
}

// Compute implements Solver.
func (s *OnePop) Compute(rf *demog.RateFunction) ([]Tensor, error) {

	if s.n < 0 {
		return nil, fmt.Errorf("%w: n=%d", ErrInvalidSolver, s.n)
	}

	es, err := s.cache.Get(s.n + 1)
	if err != nil {
		return nil, err
	}

	M := len(rf.HiddenStates()) - 1
	out := make([]Tensor, M)
	for m := 0; m < M; m++ {
		tau := representative(rf, m)
		size := effectiveSize(rf.RDual(tau), tau)
		cls, err := branchSpectrum(es, s.n, tau, size, rf.RDual)
		if err != nil {
			return nil, fmt.Errorf("interval %d: %w", m, err)
		}
		t := NewTensor(s.Dims(), rf.Zero())
		for a := 0; a < 3; a++ {
			for b := 0; b <= s.n; b++ {
				t.Set(cls[a][b], a, b)
			}
		}
		if err := t.CheckNaN(); err != nil {
			return nil, fmt.Errorf("interval %d: %w", m, err)
		}
		out[m] = t
	}

	return out, nil
}
