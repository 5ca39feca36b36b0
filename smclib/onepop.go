package smclib

import (
	"fmt"

	"github.com/kshedden/coalhmm/demog"
	"github.com/kshedden/coalhmm/spectrum"
)

// OnePop is the model for a single population with two distinguished
// lineages.
type OnePop struct {
	*engine
}

// NewOnePop returns a single-population model.  n is the number of
// undistinguished lineages.  Each data[i] holds lengths[i] rows of
// (span, a, b, nb) in row-major order; the slices are retained, not copied.
func NewOnePop(n int, data [][]int, lengths []int, hiddenStates []float64, polErr float64, opts ...Option) (*OnePop, error) {

	if n < 0 {
		return nil, fmt.Errorf("%w: sample size %d", ErrUnsupportedConfig, n)
	}

	cfg := engineConfig{
		pc:           popConfig{n: []int{n}, na: []int{2}},
		sfsDim:       n + 1,
		data:         data,
		lengths:      lengths,
		hiddenStates: hiddenStates,
		polErr:       polErr,
	}
	cfg.apply(opts)
	cfg.solver = spectrum.OnePopSolver(n, cfg.cache)

	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	return &OnePop{engine: e}, nil
}

// SetParams sets the demographic history.
func (op *OnePop) SetParams(h demog.History) error {
	return op.setHistory(h)
}

// OnePopSpectrum returns the conditioned spectrum of n undistinguished
// lineages given that the distinguished pair coalesces in [t1, t2).
func OnePopSpectrum(n int, h demog.History, t1, t2 float64) (spectrum.Tensor, error) {

	rf, err := demog.NewRateFunction(h, []float64{t1, t2})
	if err != nil {
		return spectrum.Tensor{}, err
	}

	v, err := spectrum.OnePopSolver(n, spectrum.NewEigenCache()).Compute(rf)
	if err != nil {
		return spectrum.Tensor{}, err
	}

	return v[0], nil
}
