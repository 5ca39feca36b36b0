package smclib

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/coalhmm/ad"
)

// inferenceBundle holds the tables shared by every per-sequence HMM.  It is
// owned by the engine and only read by the HMMs.
type inferenceBundle struct {
	pi            []ad.Dual
	trans         [][]ad.Dual
	emissionProbs map[BlockKey][]ad.Dual
	tb            *transitionBundle
	saveGamma     bool
}

// hmm runs forward-backward on one observation sequence.
type hmm struct {

	// Position of the sequence in the data
	idx int

	obs ObsMatrix
	ib  *inferenceBundle

	// Number of hidden states
	M int

	// Scaled forward probabilities, one row per observation row
	alpha *mat.Dense

	// The log-likelihood of the last forward pass
	loglik float64

	// Posterior sums for span-1 rows, by key
	gammaSums map[BlockKey][]float64

	// Posterior sums for span > 1 rows, by target
	blockGammaSums map[Target][]float64

	// Posterior of the first row
	gamma0 []float64

	// Expected transition counts
	xisum *mat.Dense

	// Per-row posteriors, kept only if requested
	gamma *mat.Dense
}

func newHMM(idx int, obs ObsMatrix, ib *inferenceBundle, M int) *hmm {
	return &hmm{
		idx: idx,
		obs: obs,
		ib:  ib,
		M:   M,
	}
}

// rowMatrix returns the matrix that carries the forward probabilities into
// a row, and the log of its scale.
func (h *hmm) rowMatrix(span int, key BlockKey) (*mat.Dense, float64) {
	if span == 1 {
		return h.ib.tb.step[key], 0
	}
	pw := h.ib.tb.pow[Target{Span: span, Key: key}]
	return pw.full, pw.logFull
}

// forward runs the scaled forward recursion and sets loglik.
func (h *hmm) forward() error {

	L := h.obs.Rows()
	tb := h.ib.tb
	h.alpha = mat.NewDense(L, h.M, nil)

	row := make([]float64, h.M)
	var ll float64
	for i := 0; i < L; i++ {

		span, key := h.obs.Span(i), h.obs.Key(i)
		var lscale float64

		if i == 0 {
			e := tb.emit[key]
			for s := range row {
				row[s] = h.ib.pi[s].V * e[s]
			}
			if span > 1 {
				pw := tb.pow[Target{Span: span, Key: key}]
				row = vecMat(row, pw.tail)
				lscale = pw.logTail
			}
		} else {
			m, ls := h.rowMatrix(span, key)
			row = vecMat(h.alpha.RawRowView(i-1), m)
			lscale = ls
		}

		c := floats.Sum(row)
		if !(c > 0) || math.IsInf(c, 1) {
			return fmt.Errorf("%w: sequence %d row %d has forward mass %g", ErrNumerical, h.idx, i, c)
		}
		floats.Scale(1/c, row)
		h.alpha.SetRow(i, row)
		ll += math.Log(c) + lscale
	}

	h.loglik = ll

	return nil
}

// vecMat returns the row vector x times m.
func vecMat(x []float64, m *mat.Dense) []float64 {
	var v mat.VecDense
	v.MulVec(m.T(), mat.NewVecDense(len(x), slices.Clone(x)))
	return slices.Clone(v.RawVector().Data)
}

// matVec returns m times the column vector x.
func matVec(m *mat.Dense, x []float64) []float64 {
	var v mat.VecDense
	v.MulVec(m, mat.NewVecDense(len(x), slices.Clone(x)))
	return slices.Clone(v.RawVector().Data)
}

// normalizeSum scales x to sum to 1.  It reports false if x has no mass.
func normalizeSum(x []float64) bool {
	s := floats.Sum(x)
	if !(s > 0) {
		return false
	}
	floats.Scale(1/s, x)
	return true
}

// backward runs the backward recursion and accumulates the posterior
// statistics.  forward must have been run.
func (h *hmm) backward() error {

	L := h.obs.Rows()
	M := h.M
	tb := h.ib.tb

	beta := mat.NewDense(L, M, nil)
	ones := make([]float64, M)
	floats.AddConst(1, ones)
	beta.SetRow(L-1, ones)
	for i := L - 2; i >= 0; i-- {
		m, _ := h.rowMatrix(h.obs.Span(i+1), h.obs.Key(i+1))
		b := matVec(m, beta.RawRowView(i+1))
		mx := floats.Max(b)
		if !(mx > 0) {
			return fmt.Errorf("%w: sequence %d row %d has backward mass %g", ErrNumerical, h.idx, i, mx)
		}
		floats.Scale(1/mx, b)
		beta.SetRow(i, b)
	}

	h.gammaSums = make(map[BlockKey][]float64)
	h.blockGammaSums = make(map[Target][]float64)
	h.xisum = mat.NewDense(M, M, nil)
	if h.ib.saveGamma {
		h.gamma = mat.NewDense(L, M, nil)
	} else {
		h.gamma = nil
	}

	g := make([]float64, M)
	xi := mat.NewDense(M, M, nil)
	for i := 0; i < L; i++ {

		span, key := h.obs.Span(i), h.obs.Key(i)
		floats.MulTo(g, h.alpha.RawRowView(i), beta.RawRowView(i))
		if !normalizeSum(g) {
			return fmt.Errorf("%w: sequence %d row %d has no posterior mass", ErrNumerical, h.idx, i)
		}

		if i == 0 {
			h.gamma0 = slices.Clone(g)
		}
		if h.gamma != nil {
			h.gamma.SetRow(i, g)
		}

		if span == 1 {
			addTo(h.gammaSums, key, g)
		} else {
			addTo(h.blockGammaSums, Target{Span: span, Key: key}, g)

			// Transitions inside the block, with the state distribution at
			// every site approximated by the posterior of the row.
			h.accumXi(xi, g, tb.emit[key], nil, float64(span-1))
		}

		if i < L-1 {
			nspan, nkey := h.obs.Span(i+1), h.obs.Key(i+1)
			nb := beta.RawRowView(i + 1)
			if nspan > 1 {
				nb = matVec(tb.pow[Target{Span: nspan, Key: nkey}].tail, nb)
			}
			h.accumXi(xi, h.alpha.RawRowView(i), tb.emit[nkey], nb, 1)
		}
	}

	return nil
}

// accumXi adds w times the normalized joint distribution
// x(s) T(s,s') e(s') y(s') of consecutive states to xisum.  A nil y is
// treated as all ones.
func (h *hmm) accumXi(xi *mat.Dense, x, e, y []float64, w float64) {

	tm := h.ib.tb.trans
	xi.Apply(func(i, j int, v float64) float64 {
		r := x[i] * tm.At(i, j) * e[j]
		if y != nil {
			r *= y[j]
		}
		return r
	}, tm)

	s := mat.Sum(xi)
	if !(s > 0) {
		return
	}
	xi.Scale(w/s, xi)
	h.xisum.Add(h.xisum, xi)
}

func addTo[K comparable](m map[K][]float64, k K, g []float64) {
	v, ok := m[k]
	if !ok {
		v = make([]float64, len(g))
		m[k] = v
	}
	floats.Add(v, g)
}

// Estep runs the forward pass and, unless fbOnly is set, the backward pass
// and posterior accumulation.
func (h *hmm) Estep(fbOnly bool) error {
	if err := h.forward(); err != nil {
		return err
	}
	if fbOnly {
		return nil
	}
	return h.backward()
}

// Q returns the expected complete-data log-likelihood, split into the
// initial, span-1 emission, block emission and transition terms, using the
// posteriors of the last E-step.
func (h *hmm) Q() [4]ad.Dual {

	var q [4]ad.Dual

	for s, g := range h.gamma0 {
		if g > 0 {
			q[0] = q[0].Add(ad.Log(h.ib.pi[s]).Scale(g))
		}
	}

	for _, k := range slices.SortedFunc(maps.Keys(h.gammaSums), compareKeys) {
		e := h.ib.emissionProbs[k]
		for s, g := range h.gammaSums[k] {
			if g > 0 {
				q[1] = q[1].Add(ad.Log(e[s]).Scale(g))
			}
		}
	}

	for _, t := range sortedTargets(setOf(h.blockGammaSums)) {
		e := h.ib.emissionProbs[t.Key]
		for s, g := range h.blockGammaSums[t] {
			if g > 0 {
				q[2] = q[2].Add(ad.Log(e[s]).Scale(g * float64(t.Span)))
			}
		}
	}

	if h.xisum != nil {
		for i := 0; i < h.M; i++ {
			for j := 0; j < h.M; j++ {
				x := h.xisum.At(i, j)
				if x > 0 && h.ib.trans[i][j].V > 0 {
					q[3] = q[3].Add(ad.Log(h.ib.trans[i][j]).Scale(x))
				}
			}
		}
	}

	return q
}

func setOf[K comparable, V any](m map[K]V) map[K]struct{} {
	s := make(map[K]struct{}, len(m))
	for k := range m {
		s[k] = struct{}{}
	}
	return s
}
