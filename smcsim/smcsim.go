// Package smcsim simulates observation sequences from a single-population
// coalescent HMM.
package smcsim

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
	"github.com/kshedden/coalhmm/smclib"
)

// Model holds the tables of a fitted single-population model as plain
// floats.
type Model struct {

	// Number of undistinguished lineages
	N int

	// Initial state distribution
	Pi []float64

	// Transition matrix, one row per state
	Trans [][]float64

	// Per-site emission distribution over tensor entries (a, b), one row
	// per state, flattened row-major with b varying fastest
	Emission [][]float64
}

// FromOnePop extracts the current tables of op.
func FromOnePop(op *smclib.OnePop, n int) (*Model, error) {

	if err := op.Update(); err != nil {
		return nil, err
	}

	m := &Model{
		N:  n,
		Pi: ad.Values(op.Pi()),
	}
	for _, row := range op.Transition() {
		m.Trans = append(m.Trans, ad.Values(row))
	}
	for _, row := range op.Emission() {
		m.Emission = append(m.Emission, ad.Values(row))
	}

	return m, m.Validate()
}

// NewModel builds the tables for n undistinguished lineages under history h.
func NewModel(n int, h demog.History, hiddenStates []float64, theta, rho, alpha float64) (*Model, error) {

	// The engine needs one observation to ingest; it does not affect the
	// tables.
	data := [][]int{{1, 0, 0, n}}
	op, err := smclib.NewOnePop(n, data, []int{1}, hiddenStates, 0)
	if err != nil {
		return nil, err
	}
	if err := op.SetParams(h); err != nil {
		return nil, err
	}
	op.SetTheta(theta)
	op.SetRho(rho)
	op.SetAlpha(alpha)

	return FromOnePop(op, n)
}

// Validate checks the shapes of the tables.
func (m *Model) Validate() error {
	M := len(m.Pi)
	if M == 0 || len(m.Trans) != M || len(m.Emission) != M {
		return fmt.Errorf("model has %d initial, %d transition and %d emission rows", M, len(m.Trans), len(m.Emission))
	}
	for i := 0; i < M; i++ {
		if len(m.Trans[i]) != M {
			return fmt.Errorf("transition row %d has length %d", i, len(m.Trans[i]))
		}
		if len(m.Emission[i]) != 3*(m.N+1) {
			return fmt.Errorf("emission row %d has length %d, expected %d", i, len(m.Emission[i]), 3*(m.N+1))
		}
	}
	return nil
}

// Simulator draws hidden states and observations from a Model.
type Simulator struct {
	model *Model
	rng   *rand.Rand

	init  distuv.Categorical
	trans []distuv.Categorical
	emit  []distuv.Categorical

	// Probability that a site is uncalled
	Missing float64
}

// NewSimulator returns a simulator seeded with seed.
func NewSimulator(m *Model, seed uint64) (*Simulator, error) {

	if err := m.Validate(); err != nil {
		return nil, err
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	s := &Simulator{
		model: m,
		rng:   rand.New(src),
		init:  distuv.NewCategorical(m.Pi, src),
	}
	for i := range m.Pi {
		s.trans = append(s.trans, distuv.NewCategorical(m.Trans[i], src))
		s.emit = append(s.emit, distuv.NewCategorical(clampNonNeg(m.Emission[i]), src))
	}

	return s, nil
}

// clampNonNeg returns a copy of x with negative values set to zero.
func clampNonNeg(x []float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for i := range y {
		y[i] = max(y[i], 0)
	}
	return y
}

// GenStates generates a hidden state sequence of length L.
func (s *Simulator) GenStates(L int) []int {

	st := make([]int, L)
	if L == 0 {
		return st
	}

	st[0] = int(s.init.Rand())
	for t := 1; t < L; t++ {
		st[t] = int(s.trans[st[t-1]].Rand())
	}

	return st
}

// genKey draws the block key of one site in state st.
func (s *Simulator) genKey(st int) smclib.BlockKey {

	u := s.rng.Float64()
	if u < s.Missing {
		return smclib.BlockKey{-1, 0, 0}
	}

	j := int(s.emit[st].Rand())
	n := s.model.N
	return smclib.BlockKey{j / (n + 1), j % (n + 1), n}
}

// GenSequence generates L sites and returns them run-length encoded as rows
// of (span, a, b, nb), along with the hidden state at the last site of
// each row.
func (s *Simulator) GenSequence(L int) ([]int, []int) {

	var rows, states []int
	var prev smclib.BlockKey
	span := 0

	for t, st := range s.GenStates(L) {
		k := s.genKey(st)
		if t > 0 && k == prev {
			span++
			rows[len(rows)-4] = span
			states[len(states)-1] = st
			continue
		}
		span = 1
		rows = append(rows, 1, k[0], k[1], k[2])
		states = append(states, st)
		prev = k
	}

	return rows, states
}

// GenDataset generates nseq sequences of L sites each.
func (s *Simulator) GenDataset(nseq, L int) *smclib.Dataset {

	ds := &smclib.Dataset{
		NPop: 1,
		N:    []int{s.model.N},
		NA:   []int{2},
	}
	for i := 0; i < nseq; i++ {
		rows, states := s.GenSequence(L)
		ds.Data = append(ds.Data, rows)
		ds.Lengths = append(ds.Lengths, len(states))
		ds.States = append(ds.States, states)
	}

	return ds
}
