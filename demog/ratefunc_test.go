package demog

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/coalhmm/ad"
)

func TestCumulativeRate(t *testing.T) {

	h := NewHistory([]float64{1, 2, 0.5}, []float64{1, 1, 1})
	rf, err := NewRateFunction(h, []float64{0, 1, math.Inf(1)})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, rf.R(0.5).V, 1e-15)
	assert.InDelta(t, 1.0, rf.R(1).V, 1e-15)
	assert.InDelta(t, 1.25, rf.R(1.5).V, 1e-15)
	assert.InDelta(t, 1.5+2*1, rf.R(3).V, 1e-15)

	for _, x := range []float64{0.1, 0.9, 1.2, 1.6, 3.7} {
		tt := rf.Rinv(ad.Const(x))
		assert.InDelta(t, x, rf.R(tt.V).V, 1e-12)
	}
}

func TestAverageCoalTimeConstant(t *testing.T) {

	// Exponential(1): E[T | T < 1] and E[T | T >= 1] = 2.
	rf, err := NewRateFunction(Constant(1), []float64{0, 1, math.Inf(1)})
	require.NoError(t, err)

	act := rf.AverageCoalTimes()
	require.Len(t, act, 2)
	e := math.Exp(-1)
	assert.InDelta(t, (1-2*e)/(1-e), act[0].V, 1e-12)
	assert.InDelta(t, 2.0, act[1].V, 1e-12)
	for _, v := range act {
		assert.True(t, v.V > 0)
	}
}

func TestAverageCoalTimeUndefinedBeforeSplit(t *testing.T) {

	h := NewHistory([]float64{math.Inf(1), 1}, []float64{0.5, 1})
	rf, err := NewRateFunction(h, []float64{0, 0.25, 0.5, math.Inf(1)})
	require.NoError(t, err)

	act := rf.AverageCoalTimes()
	assert.True(t, act[0].IsNaN())
	assert.True(t, act[1].IsNaN())
	assert.InDelta(t, 1.5, act[2].V, 1e-12)
}

func TestGradientOfRate(t *testing.T) {

	h, nd := NewHistory([]float64{2, 4}, []float64{1, 1}).Variables()
	require.Equal(t, 2, nd)
	rf, err := NewRateFunction(h, []float64{0, 1, math.Inf(1)})
	require.NoError(t, err)

	// R(t) = 1/a0 + (t-1)/a1 for t > 1
	r := rf.R(3)
	assert.InDelta(t, 0.5+0.5, r.V, 1e-15)
	assert.InDelta(t, -1.0/4, r.D[0], 1e-15)
	assert.InDelta(t, -2.0/16, r.D[1], 1e-15)
	assert.Len(t, rf.Zero().D, 2)
}

func TestValidation(t *testing.T) {

	_, err := NewRateFunction(Constant(1), []float64{0})
	assert.True(t, errors.Is(err, ErrInvalidHistory))

	_, err = NewRateFunction(Constant(1), []float64{0, 2, 1})
	assert.True(t, errors.Is(err, ErrInvalidHistory))

	_, err = NewRateFunction(NewHistory([]float64{-1}, []float64{1}), []float64{0, 1})
	assert.True(t, errors.Is(err, ErrInvalidHistory))

	_, err = NewRateFunction(NewHistory([]float64{1, math.Inf(1)}, []float64{1, 1}), []float64{0, 1})
	assert.True(t, errors.Is(err, ErrInvalidHistory))

	hs := ExpQuantiles(8, 3)
	require.NoError(t, ValidateHiddenStates(hs))
	assert.Equal(t, 0.0, hs[0])
	assert.Equal(t, 3.0, hs[8])
}
