package spectrum

import (
	"fmt"
	"math/big"
	"sync"
)

// MoranEigensystem is the exact eigendecomposition Q = U D Uinv of the
// generator of the neutral Moran model on N genes.  The state is the number
// of derived copies, 0..N; each state i moves to i-1 and to i+1 at rate
// i(N-i)/2.
type MoranEigensystem struct {

	// Number of genes
	N int

	// Exact decomposition
	U, Uinv [][]*big.Rat
	D       []*big.Rat

	// Float copies, used by the solvers
	Uf, Uinvf [][]float64
	Df        []float64
}

// EigenCache memoizes Moran eigensystems by N.  Hits are served from a
// sync.Map without locking; the first computation for a given N holds mu so
// that concurrent callers never duplicate the work.
type EigenCache struct {
	mu sync.Mutex
	m  sync.Map
}

// NewEigenCache returns an empty cache.
func NewEigenCache() *EigenCache {
	return &EigenCache{}
}

// Get returns the eigensystem for N genes, computing it on first use.
func (c *EigenCache) Get(N int) (*MoranEigensystem, error) {

	if v, ok := c.m.Load(N); ok {
		return v.(*MoranEigensystem), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.m.Load(N); ok {
		return v.(*MoranEigensystem), nil
	}

	es, err := computeMoranEigensystem(N)
	if err != nil {
		return nil, err
	}
	c.m.Store(N, es)

	return es, nil
}

// moranGenerator returns the (N+1) x (N+1) rate matrix.
func moranGenerator(N int) [][]*big.Rat {

	q := newRatMatrix(N+1, N+1)
	for i := 1; i < N; i++ {
		r := big.NewRat(int64(i*(N-i)), 2)
		q[i][i-1].Set(r)
		q[i][i+1].Set(r)
		q[i][i].Neg(new(big.Rat).Add(r, r))
	}

	return q
}

// moranEigenvalues returns the eigenvalues with multiplicity: 0 twice (the
// absorbing states) and -k(k-1)/2 for k = 2..N.
func moranEigenvalues(N int) []*big.Rat {
	ev := []*big.Rat{new(big.Rat), new(big.Rat)}
	for k := 2; k <= N; k++ {
		ev = append(ev, big.NewRat(-int64(k*(k-1)), 2))
	}
	return ev
}

func computeMoranEigensystem(N int) (*MoranEigensystem, error) {

	if N < 1 {
		return nil, fmt.Errorf("%w: Moran model needs at least one gene, got %d", ErrInvalidSolver, N)
	}

	q := moranGenerator(N)
	ns := N + 1

	// Distinct eigenvalues; 0 appears first with multiplicity 2.
	evs := moranEigenvalues(N)
	distinct := append([]*big.Rat{evs[0]}, evs[2:]...)

	var cols [][]*big.Rat
	var diag []*big.Rat
	for _, lam := range distinct {
		a := newRatMatrix(ns, ns)
		for i := 0; i < ns; i++ {
			for j := 0; j < ns; j++ {
				a[i][j].Set(q[i][j])
			}
			a[i][i].Sub(a[i][i], lam)
		}
		for _, v := range nullSpace(a) {
			cols = append(cols, v)
			diag = append(diag, new(big.Rat).Set(lam))
		}
	}

	if len(cols) != ns {
		return nil, fmt.Errorf("%w: found %d eigenvectors for N=%d", ErrInvalidSolver, len(cols), N)
	}

	u := newRatMatrix(ns, ns)
	for k, v := range cols {
		for i := 0; i < ns; i++ {
			u[i][k].Set(v[i])
		}
	}

	uinv, err := invert(u)
	if err != nil {
		return nil, err
	}

	es := &MoranEigensystem{
		N:     N,
		U:     u,
		Uinv:  uinv,
		D:     diag,
		Uf:    ratToFloat(u),
		Uinvf: ratToFloat(uinv),
		Df:    make([]float64, ns),
	}
	for k, d := range diag {
		es.Df[k], _ = d.Float64()
	}

	return es, nil
}

func newRatMatrix(r, c int) [][]*big.Rat {
	m := make([][]*big.Rat, r)
	for i := range m {
		m[i] = make([]*big.Rat, c)
		for j := range m[i] {
			m[i][j] = new(big.Rat)
		}
	}
	return m
}

func ratToFloat(m [][]*big.Rat) [][]float64 {
	f := make([][]float64, len(m))
	for i := range m {
		f[i] = make([]float64, len(m[i]))
		for j := range m[i] {
			f[i][j], _ = m[i][j].Float64()
		}
	}
	return f
}

// rref reduces a in place to reduced row echelon form and returns the pivot
// column of each nonzero row.
func rref(a [][]*big.Rat) []int {

	nr := len(a)
	nc := len(a[0])
	var pivots []int
	tmp := new(big.Rat)

	r := 0
	for c := 0; c < nc && r < nr; c++ {
		p := -1
		for i := r; i < nr; i++ {
			if a[i][c].Sign() != 0 {
				p = i
				break
			}
		}
		if p < 0 {
			continue
		}
		a[r], a[p] = a[p], a[r]

		inv := new(big.Rat).Inv(a[r][c])
		for j := c; j < nc; j++ {
			a[r][j].Mul(a[r][j], inv)
		}

		for i := 0; i < nr; i++ {
			if i == r || a[i][c].Sign() == 0 {
				continue
			}
			f := new(big.Rat).Set(a[i][c])
			for j := c; j < nc; j++ {
				tmp.Mul(f, a[r][j])
				a[i][j].Sub(a[i][j], tmp)
			}
		}

		pivots = append(pivots, c)
		r++
	}

	return pivots
}

// nullSpace returns a basis of the null space of a, destroying a.
func nullSpace(a [][]*big.Rat) [][]*big.Rat {

	nc := len(a[0])
	pivots := rref(a)

	isPivot := make([]bool, nc)
	for _, c := range pivots {
		isPivot[c] = true
	}

	var basis [][]*big.Rat
	for f := 0; f < nc; f++ {
		if isPivot[f] {
			continue
		}
		v := make([]*big.Rat, nc)
		for j := range v {
			v[j] = new(big.Rat)
		}
		v[f].SetInt64(1)
		for r, c := range pivots {
			v[c].Neg(a[r][f])
		}
		basis = append(basis, v)
	}

	return basis
}

// invert returns the inverse of the square matrix m by Gauss-Jordan
// elimination on [m | I].
func invert(m [][]*big.Rat) ([][]*big.Rat, error) {

	n := len(m)
	aug := newRatMatrix(n, 2*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug[i][j].Set(m[i][j])
		}
		aug[i][n+i].SetInt64(1)
	}

	pivots := rref(aug)
	if len(pivots) < n || pivots[n-1] != n-1 {
		return nil, fmt.Errorf("%w: singular eigenvector matrix", ErrInvalidSolver)
	}

	inv := newRatMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			inv[i][j].Set(aug[i][n+j])
		}
	}

	return inv, nil
}
