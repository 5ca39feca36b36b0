package smclib

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/coalhmm/ad"
)

// powers holds the matrices that carry the forward probabilities across a
// block of span L sharing one key: tail = B^(L-1) and full = B^L, where
// B = T diag(e).  Each is stored scaled to a maximum of 1, with the log of
// the scale factor kept separately.
type powers struct {
	full, tail       *mat.Dense
	logFull, logTail float64
}

// transitionBundle holds float copies of the transition matrix and the
// emission vectors, together with the one-site and block matrices used by
// the per-sequence forward-backward recursions.
type transitionBundle struct {
	targets []Target

	trans *mat.Dense
	emit  map[BlockKey][]float64
	step  map[BlockKey]*mat.Dense
	pow   map[Target]powers
}

func newTransitionBundle(targets []Target) *transitionBundle {
	return &transitionBundle{targets: targets}
}

// stepMatrix returns trans diag(e).
func stepMatrix(trans *mat.Dense, e []float64) *mat.Dense {
	b := mat.DenseCopyOf(trans)
	r, c := b.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			b.Set(i, j, b.At(i, j)*e[j])
		}
	}
	return b
}

// rescale divides m by its largest element and returns the log of that
// element.
func rescale(m *mat.Dense) (float64, error) {
	s := mat.Max(m)
	if !(s > 0) || math.IsInf(s, 1) {
		return 0, fmt.Errorf("%w: matrix power has maximum %g", ErrNumerical, s)
	}
	m.Scale(1/s, m)
	return math.Log(s), nil
}

// matPow returns b^p by repeated squaring, scaled to a maximum of 1, and
// the log of the scale factor.
func matPow(b *mat.Dense, p int) (*mat.Dense, float64, error) {

	n, _ := b.Dims()
	res := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		res.Set(i, i, 1)
	}
	var lres float64

	base := mat.DenseCopyOf(b)
	var lbase float64

	for p > 0 {
		if p&1 == 1 {
			t := mat.NewDense(n, n, nil)
			t.Mul(res, base)
			ls, err := rescale(t)
			if err != nil {
				return nil, 0, err
			}
			res = t
			lres += lbase + ls
		}
		p >>= 1
		if p > 0 {
			sq := mat.NewDense(n, n, nil)
			sq.Mul(base, base)
			ls, err := rescale(sq)
			if err != nil {
				return nil, 0, err
			}
			base = sq
			lbase = 2*lbase + ls
		}
	}

	return res, lres, nil
}

// update rebuilds every matrix from the current transition matrix and
// emission table.
func (tb *transitionBundle) update(ctx context.Context, trans [][]ad.Dual, ep map[BlockKey][]ad.Dual) error {

	M := len(trans)
	tm := mat.NewDense(M, M, nil)
	for i := range trans {
		tm.SetRow(i, ad.Values(trans[i]))
	}

	keys := slices.SortedFunc(maps.Keys(ep), compareKeys)
	emit := make(map[BlockKey][]float64, len(keys))
	for _, k := range keys {
		emit[k] = ad.Values(ep[k])
	}

	steps, err := parallelMap(ctx, len(keys), func(i int) (*mat.Dense, error) {
		return stepMatrix(tm, emit[keys[i]]), nil
	})
	if err != nil {
		return err
	}
	step := make(map[BlockKey]*mat.Dense, len(keys))
	for i, k := range keys {
		step[k] = steps[i]
	}

	pws, err := parallelMap(ctx, len(tb.targets), func(i int) (powers, error) {
		t := tb.targets[i]
		b, ok := step[t.Key]
		if !ok {
			return powers{}, fmt.Errorf("%w: no emission vector for target key %v", ErrNumerical, t.Key)
		}
		tail, lt, err := matPow(b, t.Span-1)
		if err != nil {
			return powers{}, fmt.Errorf("span %d key %v: %w", t.Span, t.Key, err)
		}
		full := mat.NewDense(M, M, nil)
		full.Mul(b, tail)
		lf, err := rescale(full)
		if err != nil {
			return powers{}, fmt.Errorf("span %d key %v: %w", t.Span, t.Key, err)
		}
		return powers{full: full, tail: tail, logFull: lt + lf, logTail: lt}, nil
	})
	if err != nil {
		return err
	}
	pow := make(map[Target]powers, len(tb.targets))
	for i, t := range tb.targets {
		pow[t] = pws[i]
	}

	tb.trans, tb.emit, tb.step, tb.pow = tm, emit, step, pow

	return nil
}
