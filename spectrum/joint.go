package spectrum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
)

// Joint computes the conditioned spectrum of two populations that merge at
// a split time.  The two distinguished lineages are allocated a1 to the
// first population and a2 to the second.
type Joint struct {
	n1, n2 int
	a1, a2 int
	cache  *EigenCache

	// Set by Precompute
	h1, h2 demog.History
	split  float64
	ready  bool
}

// NewJointSolver returns a two-population solver.  Supported allocations of
// the distinguished lineages are (2, 0) and (1, 1).
func NewJointSolver(n1, n2, a1, a2 int, cache *EigenCache) (*Joint, error) {

	if n1 < 0 || n2 < 0 {
		return nil, fmt.Errorf("%w: sample sizes %d, %d", ErrInvalidSolver, n1, n2)
	}
	if a1+a2 != 2 || a1 < 0 || a2 < 0 || (a1 == 0 && a2 == 2) {
		return nil, fmt.Errorf("%w: distinguished allocation (%d, %d)", ErrInvalidSolver, a1, a2)
	}

	return &Joint{n1: n1, n2: n2, a1: a1, a2: a2, cache: cache}, nil
}

// Dims returns {a1+1, n1+1, a2+1, n2+1}.
func (j *Joint) Dims() []int {
	return []int{j.a1 + 1, j.n1 + 1, j.a2 + 1, j.n2 + 1}
}

// Precompute records the per-population histories and the split time used by
// the next call to Compute.  Invalid arguments leave the solver unchanged.
func (j *Joint) Precompute(h1, h2 demog.History, split float64) error {

	if !(split > 0) || math.IsInf(split, 0) {
		return fmt.Errorf("%w: split time %g", ErrInvalidSolver, split)
	}
	for _, h := range []demog.History{h1, h2} {
		if err := h.Validate(); err != nil {
			return err
		}
	}

	j.h1, j.h2, j.split = h1, h2, split
	j.ready = true

	return nil
}

// Compute implements Solver.
func (j *Joint) Compute(rf *demog.RateFunction) ([]Tensor, error) {

	if !j.ready {
		return nil, fmt.Errorf("%w: joint spectrum computed before Precompute", ErrInvalidSolver)
	}

	hs := rf.HiddenStates()
	r1, err := demog.NewRateFunction(j.h1, hs)
	if err != nil {
		return nil, err
	}
	r2, err := demog.NewRateFunction(j.h2, hs)
	if err != nil {
		return nil, err
	}

	// Before the split the Moran clock runs at the mean of the two
	// population rates; afterwards at the rate of the ancestral population,
	// which continues the first history.
	split := j.split
	base := r1.R(split).Add(r2.R(split)).Scale(0.5)
	clk := func(u ad.Dual) ad.Dual {
		if u.V <= split {
			return r1.RDual(u).Add(r2.RDual(u)).Scale(0.5)
		}
		return base.Add(r1.RDual(u).Sub(r1.R(split)))
	}

	n := j.n1 + j.n2
	es, err := j.cache.Get(n + 1)
	if err != nil {
		return nil, err
	}

	// Hypergeometric split of b derived lineages among the two samples.
	lc := combin.LogGeneralizedBinomial
	splitw := func(b, b1 int) float64 {
		b2 := b - b1
		if b1 < 0 || b1 > j.n1 || b2 < 0 || b2 > j.n2 {
			return 0
		}
		return math.Exp(lc(float64(j.n1), float64(b1)) + lc(float64(j.n2), float64(b2)) - lc(float64(n), float64(b)))
	}

	M := len(hs) - 1
	out := make([]Tensor, M)
	for m := 0; m < M; m++ {
		tau := representative(rf, m)
		size := effectiveSize(clk(tau), tau)
		cls, err := branchSpectrum(es, n, tau, size, clk)
		if err != nil {
			return nil, fmt.Errorf("interval %d: %w", m, err)
		}

		t := NewTensor(j.Dims(), rf.Zero())
		for a := 0; a < 3; a++ {
			for b := 0; b <= n; b++ {
				v := cls[a][b]
				for b1 := 0; b1 <= min(b, j.n1); b1++ {
					w := splitw(b, b1)
					if w == 0 {
						continue
					}
					for _, d := range j.allocate(a) {
						sub := []int{d.a1, b1, d.a2, b - b1}
						t.Set(t.At(sub...).Add(v.Scale(w*d.w)), sub...)
					}
				}
			}
		}
		if err := t.CheckNaN(); err != nil {
			return nil, fmt.Errorf("interval %d: %w", m, err)
		}
		out[m] = t
	}

	return out, nil
}

type allocation struct {
	a1, a2 int
	w      float64
}

// allocate distributes a derived distinguished lineages between the two
// populations according to the configuration.
func (j *Joint) allocate(a int) []allocation {
	switch {
	case j.a2 == 0:
		return []allocation{{a1: a, a2: 0, w: 1}}
	case a == 1:
		return []allocation{{a1: 1, a2: 0, w: 0.5}, {a1: 0, a2: 1, w: 0.5}}
	default:
		return []allocation{{a1: a / 2, a2: a / 2, w: 1}}
	}
}
