package smclib

import (
	"fmt"

	"github.com/kshedden/coalhmm/demog"
	"github.com/kshedden/coalhmm/spectrum"
)

// TwoPop is the model for two populations that merge at a split time.  The
// two distinguished lineages are allocated a1 to the first population and a2
// to the second.
type TwoPop struct {
	*engine

	joint  spectrum.Precomputer
	a1, a2 int
}

// NewTwoPop returns a two-population model.  n1 and n2 are the numbers of
// undistinguished lineages.  Each data[i] holds lengths[i] rows of
// (span, a1, b1, nb1, a2, b2, nb2).  Only a1+a2 = 2 is supported, and the
// allocation (0, 2) is not.
func NewTwoPop(n1, n2, a1, a2 int, data [][]int, lengths []int, hiddenStates []float64, polErr float64, opts ...Option) (*TwoPop, error) {

	if a1+a2 != 2 || a1 < 0 || a2 < 0 {
		return nil, fmt.Errorf("%w: distinguished lineages (%d, %d) must sum to 2", ErrUnsupportedConfig, a1, a2)
	}
	if a1 == 0 && a2 == 2 {
		return nil, fmt.Errorf("%w: distinguished lineages (0, 2)", ErrUnsupportedConfig)
	}
	if n1 < 0 || n2 < 0 {
		return nil, fmt.Errorf("%w: sample sizes (%d, %d)", ErrUnsupportedConfig, n1, n2)
	}

	cfg := engineConfig{
		pc:           popConfig{n: []int{n1, n2}, na: []int{a1, a2}},
		sfsDim:       (n1 + 1) * (a2 + 1) * (n2 + 1),
		data:         data,
		lengths:      lengths,
		hiddenStates: hiddenStates,
		polErr:       polErr,
	}
	cfg.apply(opts)

	joint, err := spectrum.NewJointSolver(n1, n2, a1, a2, cfg.cache)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedConfig, err)
	}
	cfg.solver = joint

	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	return &TwoPop{engine: e, joint: joint, a1: a1, a2: a2}, nil
}

// SetParams sets the history of the distinguished lineages, the histories
// of the two populations and their split time.  On error the model keeps
// its previous parameters.
func (tp *TwoPop) SetParams(distinguished, h1, h2 demog.History, split float64) error {

	rf, err := demog.NewRateFunction(distinguished, tp.hs)
	if err != nil {
		return err
	}
	if err := tp.joint.Precompute(h1, h2, split); err != nil {
		return err
	}
	tp.setRateFunction(rf)

	return nil
}
