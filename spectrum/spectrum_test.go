package spectrum

import (
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
)

func TestMoranEigensystemExact(t *testing.T) {

	for _, N := range []int{1, 2, 3, 5, 8} {
		es, err := computeMoranEigensystem(N)
		require.NoError(t, err)

		q := moranGenerator(N)
		ns := N + 1
		tmp := new(big.Rat)
		for i := 0; i < ns; i++ {
			for k := 0; k < ns; k++ {
				// (Q U)[i][k] == U[i][k] D[k]
				lhs := new(big.Rat)
				for j := 0; j < ns; j++ {
					tmp.Mul(q[i][j], es.U[j][k])
					lhs.Add(lhs, tmp)
				}
				rhs := new(big.Rat).Mul(es.U[i][k], es.D[k])
				assert.Equal(t, 0, lhs.Cmp(rhs), "N=%d i=%d k=%d", N, i, k)

				// (U Uinv)[i][k] == delta
				id := new(big.Rat)
				for j := 0; j < ns; j++ {
					tmp.Mul(es.U[i][j], es.Uinv[j][k])
					id.Add(id, tmp)
				}
				want := new(big.Rat)
				if i == k {
					want.SetInt64(1)
				}
				assert.Equal(t, 0, id.Cmp(want))
			}
		}
	}

	_, err := computeMoranEigensystem(0)
	assert.True(t, errors.Is(err, ErrInvalidSolver))
}

func TestEigenCacheConcurrent(t *testing.T) {

	c := NewEigenCache()
	res := make([]*MoranEigensystem, 16)

	var wg sync.WaitGroup
	for i := range res {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			es, err := c.Get(6)
			if err == nil {
				res[i] = es
			}
		}(i)
	}
	wg.Wait()

	for i := range res {
		require.NotNil(t, res[i])
		assert.Same(t, res[0], res[i])
	}
}

func TestPropagateIsDistribution(t *testing.T) {

	es, err := NewEigenCache().Get(5)
	require.NoError(t, err)

	for _, x := range []float64{0.01, 0.3, 2, 10} {
		p := propagate(es, ad.Const(x))
		var s float64
		for _, v := range p {
			assert.True(t, v.V > 0)
			s += v.V
		}
		assert.InDelta(t, 1, s, 1e-9)
	}
}

func TestIncorporateTheta(t *testing.T) {

	tn := NewTensor([]int{3, 3}, ad.Zero(1))
	for i := range tn.Data {
		tn.Data[i] = ad.Var(float64(i+1), 0, 1)
	}

	out, err := IncorporateTheta([]Tensor{tn}, 0.01)
	require.NoError(t, err)

	r := out[0]
	assert.Equal(t, 0.0, r.At(2, 2).V)
	assert.InDelta(t, 0.02, r.At(0, 1).V, 1e-15)
	assert.InDelta(t, 1, ad.Sum(r.Data).V, 1e-12)

	// Source tensor is unchanged
	assert.Equal(t, 1.0, tn.At(0, 0).V)

	tn.Data[3] = ad.NaN()
	_, err = IncorporateTheta([]Tensor{tn}, 0.01)
	assert.True(t, errors.Is(err, ErrNaN))
}

func checkPositive(t *testing.T, tensors []Tensor, theta float64) {

	out, err := IncorporateTheta(tensors, theta)
	require.NoError(t, err)
	for _, tn := range out {
		for i, v := range tn.Data {
			if i == len(tn.Data)-1 {
				assert.Equal(t, 0.0, v.V)
				continue
			}
			assert.True(t, v.V > 0 && v.V <= 1, "entry %d is %g", i, v.V)
		}
	}
}

func TestOnePopSolver(t *testing.T) {

	hs := demog.ExpQuantiles(4, 3)
	h, nd := demog.NewHistory([]float64{1, 0.5, 2}, []float64{0.2, 1, 1}).Variables()
	rf, err := demog.NewRateFunction(h, hs)
	require.NoError(t, err)

	s := OnePopSolver(4, NewEigenCache())
	assert.Equal(t, []int{3, 5}, s.Dims())

	tensors, err := s.Compute(rf)
	require.NoError(t, err)
	require.Len(t, tensors, 4)

	for m, tn := range tensors {
		assert.Equal(t, []int{3, 5}, tn.Dims)

		// Branch masses: 2*tau below the distinguished coalescence.
		var below float64
		for b := 0; b <= 4; b++ {
			below += tn.At(1, b).V
		}
		tau := rf.AverageCoalTimes()[m]
		assert.InDelta(t, 2*tau.V, below, 1e-10)
		assert.Len(t, tn.At(1, 2).D, nd)
	}

	checkPositive(t, tensors, 1e-3)
}

func TestOnePopSolverInfiniteLastState(t *testing.T) {

	rf, err := demog.NewRateFunction(demog.Constant(1), []float64{0, 1, math.Inf(1)})
	require.NoError(t, err)

	tensors, err := OnePopSolver(2, NewEigenCache()).Compute(rf)
	require.NoError(t, err)
	checkPositive(t, tensors, 1e-4)
}

func TestJointSolver(t *testing.T) {

	c := NewEigenCache()
	hs := []float64{0, 0.5, 1, 2}

	_, err := NewJointSolver(2, 2, 0, 2, c)
	assert.True(t, errors.Is(err, ErrInvalidSolver))
	_, err = NewJointSolver(2, 2, 1, 0, c)
	assert.True(t, errors.Is(err, ErrInvalidSolver))

	for _, cfg := range [][2]int{{2, 0}, {1, 1}} {
		j, err := NewJointSolver(2, 3, cfg[0], cfg[1], c)
		require.NoError(t, err)
		assert.Equal(t, []int{cfg[0] + 1, 3, cfg[1] + 1, 4}, j.Dims())

		// The distinguished pair cannot coalesce before the split when it
		// spans both populations.
		dist := demog.Constant(1)
		if cfg[1] == 1 {
			dist = demog.NewHistory([]float64{math.Inf(1), 1}, []float64{0.75, 1})
		}
		rf, err := demog.NewRateFunction(dist, hs)
		require.NoError(t, err)

		_, err = j.Compute(rf)
		assert.True(t, errors.Is(err, ErrInvalidSolver))

		require.NoError(t, j.Precompute(demog.Constant(1), demog.Constant(0.5), 0.75))
		tensors, err := j.Compute(rf)
		require.NoError(t, err)
		require.Len(t, tensors, 3)
		checkPositive(t, tensors, 1e-3)
	}
}
