package smclib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
)

func TestTransitionRows(t *testing.T) {

	h, nd := demog.NewHistory([]float64{1, 0.3, 2}, []float64{0.5, 1, 1}).Variables()
	rf, err := demog.NewRateFunction(h, []float64{0, 0.2, 0.6, 1.5, math.Inf(1)})
	require.NoError(t, err)

	for _, rho := range []float64{1e-3, 0.1, 2} {
		T, err := computeTransition(rf, rho)
		require.NoError(t, err)
		require.Len(t, T, 4)
		for i := range T {
			s := ad.Sum(T[i])
			assert.InDelta(t, 1, s.V, 1e-12)
			for j := range T[i] {
				assert.True(t, T[i][j].V >= 0, "rho=%g T[%d][%d]=%g", rho, i, j, T[i][j].V)
			}
			// Gradients of a row sum to zero.
			for _, d := range s.Grad(nd) {
				assert.InDelta(t, 0, d, 1e-10)
			}
		}
	}

	// More recombination means less mass on the diagonal.
	lo, err := computeTransition(rf, 1e-3)
	require.NoError(t, err)
	hi, err := computeTransition(rf, 1)
	require.NoError(t, err)
	for i := range lo {
		assert.True(t, lo[i][i].V > hi[i][i].V)
		assert.True(t, lo[i][i].V > 0.99)
	}
}

func TestTransitionNoRecombination(t *testing.T) {

	rf, err := demog.NewRateFunction(demog.Constant(1), []float64{0, 0.5, 1, math.Inf(1)})
	require.NoError(t, err)

	T, err := computeTransition(rf, 0)
	require.NoError(t, err)
	for i := range T {
		for j := range T[i] {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.Equal(t, want, T[i][j].V)
		}
	}
}

func TestTransitionZeroRateInterval(t *testing.T) {

	h := demog.NewHistory([]float64{math.Inf(1), 1}, []float64{0.5, 1})
	rf, err := demog.NewRateFunction(h, []float64{0, 0.5, 1, math.Inf(1)})
	require.NoError(t, err)

	T, err := computeTransition(rf, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, T[0][0].V)
	for j := 1; j < 3; j++ {
		assert.Equal(t, 0.0, T[0][j].V)
	}

	// Lineages never coalesce again before the split.
	for i := 1; i < 3; i++ {
		assert.Equal(t, 0.0, T[i][0].V)
		assert.InDelta(t, 1, ad.Sum(T[i]).V, 1e-12)
	}
}

func TestMatPow(t *testing.T) {

	b := mat.NewDense(2, 2, []float64{0.5, 0.2, 0.1, 0.3})
	for _, p := range []int{0, 1, 2, 5, 16} {
		got, ls, err := matPow(b, p)
		require.NoError(t, err)

		want := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
		for k := 0; k < p; k++ {
			var w mat.Dense
			w.Mul(want, b)
			want = &w
		}

		var g mat.Dense
		g.Scale(math.Exp(ls), got)
		assert.True(t, mat.EqualApprox(want, &g, 1e-14), "p=%d", p)
		assert.InDelta(t, 1, mat.Max(got), 1e-15)
	}
}
