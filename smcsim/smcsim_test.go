package smcsim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/kshedden/coalhmm/demog"
	"github.com/kshedden/coalhmm/smclib"
)

var states = []float64{0, 0.3, 0.8, 1.6, math.Inf(1)}

func newModel(t *testing.T, n int) *Model {

	h := demog.NewHistory([]float64{1, 0.5}, []float64{0.5, 1})
	m, err := NewModel(n, h, states, 1e-2, 1e-2, 1)
	require.NoError(t, err)

	return m
}

func TestModel(t *testing.T) {

	m := newModel(t, 3)
	assert.Len(t, m.Pi, 4)
	assert.InDelta(t, 1, floats.Sum(m.Pi), 1e-10)
	for i := range m.Trans {
		assert.InDelta(t, 1, floats.Sum(m.Trans[i]), 1e-10)
		assert.Len(t, m.Emission[i], 12)
	}

	bad := *m
	bad.Emission = bad.Emission[1:]
	assert.Error(t, bad.Validate())
}

func TestGenSequence(t *testing.T) {

	n := 3
	m := newModel(t, n)
	sim, err := NewSimulator(m, 1)
	require.NoError(t, err)
	sim.Missing = 0.05

	L := 5000
	rows, st := sim.GenSequence(L)
	require.Equal(t, 0, len(rows)%4)
	require.Equal(t, len(rows)/4, len(st))

	var total int
	for i := 0; i < len(rows); i += 4 {
		span, a, b, nb := rows[i], rows[i+1], rows[i+2], rows[i+3]
		require.True(t, span >= 1)
		total += span
		if a == -1 {
			assert.Equal(t, 0, nb)
			continue
		}
		assert.Equal(t, n, nb)
		assert.True(t, a >= 0 && a <= 2)
		assert.True(t, b >= 0 && b <= n)
		assert.False(t, a == 2 && b == n)
	}
	assert.Equal(t, L, total)

	for _, s := range st {
		assert.True(t, s >= 0 && s < len(m.Pi))
	}

	// Consecutive rows never repeat a key.
	for i := 4; i < len(rows); i += 4 {
		assert.NotEqual(t, rows[i-3:i], rows[i+1:i+4])
	}
}

func TestSeedReproducible(t *testing.T) {

	m := newModel(t, 2)
	s1, err := NewSimulator(m, 7)
	require.NoError(t, err)
	s2, err := NewSimulator(m, 7)
	require.NoError(t, err)

	r1, _ := s1.GenSequence(500)
	r2, _ := s2.GenSequence(500)
	assert.Equal(t, r1, r2)
}

func TestGenDataset(t *testing.T) {

	n := 2
	m := newModel(t, n)
	sim, err := NewSimulator(m, 3)
	require.NoError(t, err)
	sim.Missing = 0.1

	ds := sim.GenDataset(3, 2000)
	require.Len(t, ds.Data, 3)
	for i := range ds.Data {
		assert.Equal(t, 4*ds.Lengths[i], len(ds.Data[i]))
		assert.Len(t, ds.States[i], ds.Lengths[i])
	}

	op, err := smclib.NewOnePop(n, ds.Data, ds.Lengths, states, 0.01)
	require.NoError(t, err)
	require.NoError(t, op.SetParams(demog.NewHistory([]float64{1, 0.5}, []float64{0.5, 1})))
	op.SetTheta(1e-2)
	op.SetRho(1e-2)
	require.NoError(t, op.Estep(false))

	ll, err := op.Loglik()
	require.NoError(t, err)
	require.Len(t, ll, 3)
	for _, v := range ll {
		assert.False(t, math.IsNaN(v))
		assert.True(t, v < 0)
	}
}
