package smclib

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/combin"
)

// WeightMap gives the weight of each spectrum tensor entry contributing to
// the emission probability of one block key.
type WeightMap map[MapKey]float64

// binKey expands missing distinguished genotypes: a = -1 in population p
// becomes every a in 0..na(p).
func (pc popConfig) binKey(k BlockKey) []BlockKey {

	P := pc.npop()
	lens := make([]int, P)
	for p := 0; p < P; p++ {
		lens[p] = 1
		if k.A(p) == -1 {
			lens[p] = pc.na[p] + 1
		}
	}

	var out []BlockKey
	for _, c := range combin.Cartesian(lens) {
		r := k
		for p := 0; p < P; p++ {
			if k.A(p) == -1 {
				r[3*p] = c[p]
			}
		}
		out = append(out, r)
	}

	return out
}

// hypergeom returns the probability that a subsample of nb of n lineages,
// of which bt carry the derived allele, contains b derived lineages.
func hypergeom(n, bt, nb, b int) float64 {
	if b > bt || nb-b > n-bt {
		return 0
	}
	lc := combin.LogGeneralizedBinomial
	return math.Exp(lc(float64(bt), float64(b)) + lc(float64(n-bt), float64(nb-b)) - lc(float64(n), float64(nb)))
}

// marginalize spreads the undistinguished counts of k, observed on nb of
// the n(p) lineages, over the complete-sample counts consistent with it.
// The returned keys have nb = n(p) in every population.
func (pc popConfig) marginalize(k BlockKey) map[BlockKey]float64 {

	P := pc.npop()
	lens := make([]int, P)
	for p := 0; p < P; p++ {
		lens[p] = pc.n[p] + 1
	}

	out := make(map[BlockKey]float64)
	for _, bt := range combin.Cartesian(lens) {
		w := 1.0
		var r BlockKey
		for p := 0; p < P; p++ {
			w *= hypergeom(pc.n[p], bt[p], k.NB(p), k.B(p))
			r[3*p] = k.A(p)
			r[3*p+1] = bt[p]
			r[3*p+2] = pc.n[p]
		}
		if w > 0 {
			out[r] += w
		}
	}

	return out
}

// binOne computes the weight map of a single block key.
func (pc popConfig) binOne(k BlockKey, polErr float64) (WeightMap, error) {

	m := make(map[BlockKey]float64)
	for _, bk := range pc.binKey(k) {
		for mk, pr := range pc.marginalize(bk) {
			c := pc.convertMonomorphic(mk)
			m[c] += (1 - polErr) * pr
			m[pc.folded(c)] += polErr * pr
		}
	}

	var s float64
	for bk, v := range m {
		if v <= 0 || pc.isMonomorphic(bk) {
			delete(m, bk)
			continue
		}
		s += v
	}
	if s <= 0 {
		return nil, fmt.Errorf("%w: key %v", ErrDegenerateBin, k)
	}

	wm := make(WeightMap)
	for bk, v := range m {
		wm[pc.mapKey(bk)] += v / s
	}

	return wm, nil
}

// constructBins computes the weight map of every key.
func (pc popConfig) constructBins(ctx context.Context, keys []BlockKey, polErr float64) (map[BlockKey]WeightMap, error) {

	if !(polErr >= 0 && polErr <= 1) {
		return nil, fmt.Errorf("%w: polarization error %g not in [0, 1]", ErrUnsupportedConfig, polErr)
	}

	wms, err := parallelMap(ctx, len(keys), func(i int) (WeightMap, error) {
		return pc.binOne(keys[i], polErr)
	})
	if err != nil {
		return nil, err
	}

	bins := make(map[BlockKey]WeightMap, len(keys))
	for i, k := range keys {
		bins[k] = wms[i]
	}

	return bins, nil
}
