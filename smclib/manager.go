// Package smclib computes likelihoods and expected sufficient statistics of
// a sequentially Markov coalescent HMM under a piecewise-constant
// demographic history.
//
// The engine keeps the initial distribution, the transition matrix and the
// emission table of the HMM, and recomputes them lazily when the
// demographic history, the recombination rate or the mutation rate change.
// Each observation sequence is handled by its own forward-backward pass,
// run in parallel.
package smclib

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/demog"
	"github.com/kshedden/coalhmm/spectrum"
)

// Entries of the initial distribution are not allowed to fall below this.
const piFloor = 1e-20

// Default parameter values, used until the corresponding setter is called.
const (
	DefaultTheta = 1e-4
	DefaultRho   = 1e-4
	DefaultAlpha = 1.0
)

// dirtyFlags records which parameter groups changed since the tables were
// last computed.
type dirtyFlags struct {
	eta, rho, theta bool
}

func (d dirtyFlags) any() bool {
	return d.eta || d.rho || d.theta
}

// engineConfig holds everything needed to construct an engine.
type engineConfig struct {
	pc           popConfig
	sfsDim       int
	data         [][]int
	lengths      []int
	hiddenStates []float64
	polErr       float64
	solver       spectrum.Solver
	cache        *spectrum.EigenCache
	logger       *logrus.Logger
	saveGamma    bool
}

// Option configures a model at construction.
type Option func(*engineConfig)

// WithLogger sets the logger that receives progress messages.  By default
// messages are discarded.
func WithLogger(l *logrus.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithEigenCache shares a Moran eigensystem cache between models.
func WithEigenCache(ec *spectrum.EigenCache) Option {
	return func(c *engineConfig) { c.cache = ec }
}

// WithSaveGamma retains the per-row posterior matrices after each E-step.
func WithSaveGamma(save bool) Option {
	return func(c *engineConfig) { c.saveGamma = save }
}

func (c *engineConfig) apply(opts []Option) {
	for _, o := range opts {
		o(c)
	}
	if c.cache == nil {
		c.cache = spectrum.NewEigenCache()
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
}

// engine holds the parameters, the cached tables derived from them, and the
// per-sequence HMMs.  The population-count specializations embed it.
type engine struct {
	pc popConfig

	// Hidden-state boundaries; M = len(hs) - 1
	hs []float64
	M  int

	obs     []ObsMatrix
	targets []Target

	// Distinct block keys, their weight maps and resolved tensor entries
	keys       []BlockKey
	bins       map[BlockKey]WeightMap
	binEntries map[BlockKey][]weightEntry

	solver spectrum.Solver
	rf     *demog.RateFunction

	theta, rho, alpha float64
	dirty             dirtyFlags

	// Spectrum tensors from the solver, before theta is applied
	sfss []spectrum.Tensor

	// Flattened spectra after theta is applied, one row per hidden state
	emission [][]ad.Dual

	pi            []ad.Dual
	trans         [][]ad.Dual
	emissionProbs map[BlockKey][]ad.Dual

	tb   *transitionBundle
	ib   *inferenceBundle
	hmms []*hmm

	log *logrus.Logger
}

// newEngine ingests the observations, indexes targets, bins every distinct
// block key and creates one HMM per sequence.  The demographic history is
// a constant-size population until one is set.
func newEngine(cfg engineConfig) (*engine, error) {

	ctx := context.Background()

	if err := demog.ValidateHiddenStates(cfg.hiddenStates); err != nil {
		return nil, err
	}

	dims := cfg.pc.tensorDims()
	if got := cfg.solver.Dims(); !equalInts(got, dims) {
		return nil, fmt.Errorf("%w: solver tensor shape %v, model needs %v", ErrUnsupportedConfig, got, dims)
	}
	if cfg.sfsDim*(cfg.pc.na[0]+1) != prod(dims) {
		return nil, fmt.Errorf("%w: spectrum dimension %d does not match tensor shape %v", ErrUnsupportedConfig, cfg.sfsDim, dims)
	}

	e := &engine{
		pc:     cfg.pc,
		hs:     append([]float64(nil), cfg.hiddenStates...),
		M:      len(cfg.hiddenStates) - 1,
		solver: cfg.solver,
		theta:  DefaultTheta,
		rho:    DefaultRho,
		alpha:  DefaultAlpha,
		dirty:  dirtyFlags{eta: true, rho: true, theta: true},
		log:    cfg.logger,
	}

	var err error
	e.obs, err = Ingest(cfg.pc.npop(), cfg.data, cfg.lengths)
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{"sequences": len(e.obs), "states": e.M}).Debug("filling targets")
	tset, err := fillTargets(ctx, e.obs)
	if err != nil {
		return nil, err
	}
	e.targets = sortedTargets(tset)

	e.keys, err = distinctKeys(e.obs, e.pc)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"keys": len(e.keys), "targets": len(e.targets)}).Debug("constructing bins")
	e.bins, err = e.pc.constructBins(ctx, e.keys, cfg.polErr)
	if err != nil {
		return nil, err
	}
	e.binEntries = e.pc.resolveBins(e.bins)

	if err := e.setHistory(demog.Constant(1)); err != nil {
		return nil, err
	}
	if err := e.recomputeInitialDistribution(); err != nil {
		return nil, err
	}

	e.tb = newTransitionBundle(e.targets)
	e.ib = &inferenceBundle{tb: e.tb, saveGamma: cfg.saveGamma}

	e.hmms, err = parallelMap(ctx, len(e.obs), func(i int) (*hmm, error) {
		return newHMM(i, e.obs[i], e.ib, e.M), nil
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

func equalInts(x, y []int) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func prod(x []int) int {
	p := 1
	for _, v := range x {
		p *= v
	}
	return p
}

// SetSaveGamma sets whether per-row posteriors are kept by the next E-step.
func (e *engine) SetSaveGamma(save bool) {
	e.ib.saveGamma = save
}

// SetRho sets the recombination rate.
func (e *engine) SetRho(rho float64) {
	e.rho = rho
	e.dirty.rho = true
}

// SetTheta sets the mutation rate.
func (e *engine) SetTheta(theta float64) {
	e.theta = theta
	e.dirty.theta = true
}

// SetAlpha sets the ancestral misspecification factor that scales the
// mutation rate in the two-lineage emission probabilities.
func (e *engine) SetAlpha(alpha float64) {
	e.alpha = alpha
	e.dirty.theta = true
}

// setHistory replaces the demographic history.
func (e *engine) setHistory(h demog.History) error {
	rf, err := demog.NewRateFunction(h, e.hs)
	if err != nil {
		return err
	}
	e.setRateFunction(rf)
	return nil
}

func (e *engine) setRateFunction(rf *demog.RateFunction) {
	e.rf = rf
	e.dirty.eta = true
}

// recomputeInitialDistribution sets pi to the probabilities that the
// coalescence time falls in each hidden state, floored at piFloor and
// renormalized.
func (e *engine) recomputeInitialDistribution() error {

	M := e.M
	pi := make([]ad.Dual, M)
	for m := 0; m < M-1; m++ {
		pi[m] = e.rf.Survival(e.hs[m]).Sub(e.rf.Survival(e.hs[m+1]))
	}
	pi[M-1] = e.rf.Survival(e.hs[M-1])

	small := e.rf.Zero().AddConst(piFloor)
	for m := range pi {
		if pi[m].V < piFloor {
			pi[m] = small
		}
	}

	s := ad.Sum(pi)
	for m := range pi {
		pi[m] = pi[m].Div(s)
		if pi[m].IsNaN() || pi[m].V < 0 || pi[m].V > 1 {
			return fmt.Errorf("%w: initial distribution entry %d is %g", ErrNumerical, m, pi[m].V)
		}
	}

	e.pi = pi

	return nil
}

// doDirtyWork brings the cached tables up to date with the parameters.
func (e *engine) doDirtyWork(ctx context.Context) error {

	d := e.dirty
	if d.eta {
		e.log.Debug("recomputing initial distribution and spectrum")
		if err := e.recomputeInitialDistribution(); err != nil {
			return err
		}
		sfss, err := e.solver.Compute(e.rf)
		if err != nil {
			return err
		}
		e.sfss = sfss
	}
	if d.theta || d.eta {
		e.log.WithField("keys", len(e.keys)).Debug("recomputing emission probabilities")
		if err := e.recomputeEmissionProbs(ctx); err != nil {
			return err
		}
	}
	if d.eta || d.rho {
		e.log.WithField("rho", e.rho).Debug("recomputing transition matrix")
		trans, err := computeTransition(e.rf, e.rho)
		if err != nil {
			return err
		}
		e.trans = trans
	}
	if d.any() {
		e.log.WithField("targets", len(e.targets)).Debug("updating transition bundle")
		if err := e.tb.update(ctx, e.trans, e.emissionProbs); err != nil {
			return err
		}
		e.ib.pi = e.pi
		e.ib.trans = e.trans
		e.ib.emissionProbs = e.emissionProbs
	}

	e.dirty = dirtyFlags{}

	return nil
}

// Update brings the cached tables up to date without running any
// per-sequence computation.
func (e *engine) Update() error {
	return e.doDirtyWork(context.Background())
}

// Estep brings the tables up to date and runs forward-backward on every
// sequence.  With fbOnly set only the forward pass is run, which is enough
// for the log-likelihood.
func (e *engine) Estep(fbOnly bool) error {

	ctx := context.Background()
	if err := e.doDirtyWork(ctx); err != nil {
		return err
	}

	e.log.WithField("fbOnly", fbOnly).Debug("E step")
	return parallelFor(ctx, len(e.hmms), func(i int) error {
		return e.hmms[i].Estep(fbOnly)
	})
}

// Q returns the expected complete-data log-likelihood from the posteriors of
// the last E-step, summed over sequences, as four components: initial
// distribution, span-1 emissions, block emissions and transitions.
func (e *engine) Q() ([4]ad.Dual, error) {

	ctx := context.Background()
	var q [4]ad.Dual
	if err := e.doDirtyWork(ctx); err != nil {
		return q, err
	}

	qs, err := parallelMap(ctx, len(e.hmms), func(i int) ([4]ad.Dual, error) {
		return e.hmms[i].Q(), nil
	})
	if err != nil {
		return q, err
	}

	for j := range q {
		for i := range qs {
			q[j] = q[j].Add(qs[i][j])
		}
	}

	return q, nil
}

// Loglik returns the log-likelihood of each sequence under the current
// parameters.
func (e *engine) Loglik() ([]float64, error) {

	ctx := context.Background()
	if err := e.doDirtyWork(ctx); err != nil {
		return nil, err
	}

	return parallelMap(ctx, len(e.hmms), func(i int) (float64, error) {
		if err := e.hmms[i].forward(); err != nil {
			return 0, err
		}
		return e.hmms[i].loglik, nil
	})
}

// Pi returns the initial distribution.
func (e *engine) Pi() []ad.Dual {
	return e.pi
}

// Transition returns the transition matrix.
func (e *engine) Transition() [][]ad.Dual {
	return e.trans
}

// Emission returns the spectra after the mutation rate is applied, one
// flattened tensor per hidden state.
func (e *engine) Emission() [][]ad.Dual {
	return e.emission
}

// EmissionProbs returns the emission probability vector of every block key.
func (e *engine) EmissionProbs() map[BlockKey][]ad.Dual {
	return e.emissionProbs
}

// HiddenStates returns the hidden-state boundaries.
func (e *engine) HiddenStates() []float64 {
	return e.hs
}

// Targets returns the distinct (span, key) pairs with span > 1.
func (e *engine) Targets() []Target {
	return e.targets
}

// Bins returns the weight map of every distinct block key.
func (e *engine) Bins() map[BlockKey]WeightMap {
	return e.bins
}

// GammaSums returns, per sequence, the posterior sums of span-1 rows by key.
func (e *engine) GammaSums() []map[BlockKey][]float64 {
	r := make([]map[BlockKey][]float64, len(e.hmms))
	for i, h := range e.hmms {
		r[i] = h.gammaSums
	}
	return r
}

// BlockGammaSums returns, per sequence, the posterior sums of span > 1 rows
// by target.
func (e *engine) BlockGammaSums() []map[Target][]float64 {
	r := make([]map[Target][]float64, len(e.hmms))
	for i, h := range e.hmms {
		r[i] = h.blockGammaSums
	}
	return r
}

// Gammas returns, per sequence, the per-row posteriors of the last E-step.
// Entries are nil unless saving was enabled.
func (e *engine) Gammas() []*mat.Dense {
	r := make([]*mat.Dense, len(e.hmms))
	for i, h := range e.hmms {
		r[i] = h.gamma
	}
	return r
}

// Xisums returns, per sequence, the expected transition counts.
func (e *engine) Xisums() []*mat.Dense {
	r := make([]*mat.Dense, len(e.hmms))
	for i, h := range e.hmms {
		r[i] = h.xisum
	}
	return r
}
