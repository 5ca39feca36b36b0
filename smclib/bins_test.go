package smclib

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-12)

func onePopConfig(n int) popConfig {
	return popConfig{n: []int{n}, na: []int{2}}
}

// allKeys enumerates every valid single-population key.
func allKeys(pc popConfig) []BlockKey {
	var keys []BlockKey
	for a := -1; a <= pc.na[0]; a++ {
		for nb := 0; nb <= pc.n[0]; nb++ {
			for b := 0; b <= nb; b++ {
				keys = append(keys, BlockKey{a, b, nb})
			}
		}
	}
	return keys
}

func TestWeightsSumToOne(t *testing.T) {

	pc := onePopConfig(4)
	for _, e := range []float64{0, 0.01, 0.5, 0.99} {
		for _, k := range allKeys(pc) {
			wm, err := pc.binOne(k, e)
			require.NoError(t, err, "key %v", k)
			var s float64
			for mk, w := range wm {
				assert.True(t, w > 0 && w <= 1+1e-12, "key %v entry %v weight %g", k, mk, w)
				s += w
			}
			assert.InDelta(t, 1, s, 1e-12, "key %v e=%g", k, e)
		}
	}
}

func TestFolding(t *testing.T) {

	pc := onePopConfig(2)
	k := BlockKey{0, 1, 2}

	wm, err := pc.binOne(k, 0)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(WeightMap{{0, 1}: 1}, wm, approx))

	wm, err = pc.binOne(k, 1)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(WeightMap{{2, 1}: 1}, wm, approx))

	wm, err = pc.binOne(k, 0.25)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(WeightMap{{0, 1}: 0.75, {2, 1}: 0.25}, wm, approx))
}

func TestMonomorphicCollapse(t *testing.T) {

	pc := onePopConfig(2)
	for _, e := range []float64{0, 0.1} {
		w1, err := pc.binOne(BlockKey{2, 2, 2}, e)
		require.NoError(t, err)
		w2, err := pc.binOne(BlockKey{0, 0, 2}, e)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(w1, w2, approx))
		assert.Empty(t, cmp.Diff(WeightMap{{0, 0}: 1}, w1, approx))
	}

	assert.Equal(t, BlockKey{0, 0, 2}, pc.convertMonomorphic(BlockKey{2, 2, 2}))
	assert.Equal(t, BlockKey{1, 2, 2}, pc.convertMonomorphic(BlockKey{1, 2, 2}))
}

func TestMissingDistinguished(t *testing.T) {

	pc := onePopConfig(2)
	wm, err := pc.binOne(BlockKey{-1, 1, 2}, 0)
	require.NoError(t, err)

	third := 1.0 / 3
	want := WeightMap{{0, 1}: third, {1, 1}: third, {2, 1}: third}
	assert.Empty(t, cmp.Diff(want, wm, approx))
}

func TestMarginalize(t *testing.T) {

	pc := onePopConfig(2)

	// One of the two undistinguished lineages was called, and it is derived.
	m := pc.marginalize(BlockKey{1, 1, 1})
	assert.Empty(t, cmp.Diff(map[BlockKey]float64{{1, 1, 2}: 0.5, {1, 2, 2}: 1}, m, approx))

	wm, err := pc.binOne(BlockKey{1, 1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(WeightMap{{1, 1}: 1.0 / 3, {1, 2}: 2.0 / 3}, wm, approx))
}

func TestTwoPopBins(t *testing.T) {

	pc := popConfig{n: []int{1, 2}, na: []int{1, 1}}
	assert.Equal(t, []int{2, 2, 2, 3}, pc.tensorDims())

	k := BlockKey{-1, 0, 1, 1, 1, 2}
	wm, err := pc.binOne(k, 0)
	require.NoError(t, err)
	want := WeightMap{{0, 0, 1, 1}: 0.5, {1, 0, 1, 1}: 0.5}
	assert.Empty(t, cmp.Diff(want, wm, approx))

	assert.Equal(t, BlockKey{0, 1, 1, 0, 2, 2}, pc.folded(BlockKey{1, 0, 1, 1, 0, 2}))
}

func TestDegenerateBin(t *testing.T) {

	pc := popConfig{n: []int{0}, na: []int{0}}
	_, err := pc.binOne(BlockKey{0, 0, 0}, 0)
	assert.True(t, errors.Is(err, ErrDegenerateBin))

	// Fully polarization-swapped invariant sites have only the monomorphic
	// interpretation.
	_, err = onePopConfig(4).binOne(BlockKey{0, 0, 4}, 1)
	assert.True(t, errors.Is(err, ErrDegenerateBin))

	_, err = pc.constructBins(context.Background(), []BlockKey{{0, 0, 0}}, 0)
	assert.True(t, errors.Is(err, ErrDegenerateBin))

	_, err = onePopConfig(2).constructBins(context.Background(), nil, 1.5)
	assert.True(t, errors.Is(err, ErrUnsupportedConfig))
}
