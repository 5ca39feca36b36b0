package smclib

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/spectrum"
)

// Floor used for emission probabilities that cannot be computed.
const smallProb = 1e-20

// weightEntry is one term of a weight map, resolved to a flat tensor index.
type weightEntry struct {
	key MapKey
	idx int
	w   float64
}

// resolveBins flattens each weight map into entries ordered by tensor index,
// so that emission sums are accumulated in a fixed order.
func (pc popConfig) resolveBins(bins map[BlockKey]WeightMap) map[BlockKey][]weightEntry {

	dims := pc.tensorDims()
	out := make(map[BlockKey][]weightEntry, len(bins))
	for k, wm := range bins {
		var ents []weightEntry
		for _, mk := range slices.SortedFunc(maps.Keys(wm), func(x, y MapKey) int {
			return slices.Compare(x[:], y[:])
		}) {
			ents = append(ents, weightEntry{key: mk, idx: combin.IdxFor(pc.sub(mk), dims), w: wm[mk]})
		}
		out[k] = ents
	}

	return out
}

// twoCategory returns, for each hidden state, the probabilities that a pair
// of lineages is or is not separated by a mutation.
func (e *engine) twoCategory() [][2]ad.Dual {

	act := e.rf.AverageCoalTimes()
	small := e.rf.Zero().AddConst(smallProb)

	e2 := make([][2]ad.Dual, e.M)
	for m := range e2 {
		if act[m].IsNaN() {
			// The pair cannot coalesce in this interval, for example before
			// a population split.
			e2[m] = [2]ad.Dual{small, small}
			continue
		}
		x := act[m].Scale(-e.alpha * e.theta)
		e2[m] = [2]ad.Dual{ad.Exp(x), ad.Expm1(x).Neg()}
	}

	return e2
}

// emissionVector assembles the emission probabilities of one block key.
func (e *engine) emissionVector(k BlockKey, e2 [][2]ad.Dual) ([]ad.Dual, error) {

	reduced, miss := true, true
	minA, sumA := 0, 0
	for p := 0; p < e.pc.npop(); p++ {
		a := k.A(p)
		reduced = reduced && k.NB(p) == 0
		if e.pc.na[p] > 0 {
			miss = miss && a == -1
		}
		minA = min(minA, a)
		sumA += a
	}

	v := make([]ad.Dual, e.M)
	switch {
	case reduced && miss:
		one := e.rf.Zero().AddConst(1)
		for m := range v {
			v[m] = one
		}
	case reduced && minA >= 0:
		for m := range v {
			v[m] = e2[m][sumA%2]
		}
	default:
		for m := range v {
			v[m] = e.rf.Zero()
			for _, we := range e.binEntries[k] {
				v[m] = v[m].Add(e.emission[m][we.idx].Scale(we.w))
			}
		}
	}

	for m, x := range v {
		if x.IsNaN() {
			return nil, fmt.Errorf("%w: emission for key %v is NaN in state %d", ErrNumerical, k, m)
		}
	}
	if ad.MaxValue(v) > 1 || ad.MinValue(v) <= 0 {
		return nil, fmt.Errorf("%w: key %v, weights %v, probabilities %v",
			ErrInvalidProbability, k, e.bins[k], ad.Values(v))
	}

	return v, nil
}

// recomputeEmissionProbs rebuilds the flattened emission matrix from the
// current spectrum and mutation rate, then the emission vector of every
// block key.  Vectors are computed concurrently and inserted afterward.
func (e *engine) recomputeEmissionProbs(ctx context.Context) error {

	sfss, err := spectrum.IncorporateTheta(e.sfss, e.theta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNumerical, err)
	}
	if len(sfss) != e.M {
		return fmt.Errorf("%w: solver returned %d spectra for %d hidden states", ErrNumerical, len(sfss), e.M)
	}

	e.emission = make([][]ad.Dual, e.M)
	for m, t := range sfss {
		e.emission[m] = t.Data
	}

	e2 := e.twoCategory()
	vecs, err := parallelMap(ctx, len(e.keys), func(i int) ([]ad.Dual, error) {
		return e.emissionVector(e.keys[i], e2)
	})
	if err != nil {
		return err
	}

	ep := make(map[BlockKey][]ad.Dual, len(e.keys))
	for i, k := range e.keys {
		ep[k] = vecs[i]
	}
	e.emissionProbs = ep

	return nil
}
