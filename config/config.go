// Package config holds the run configuration shared by the generate and
// evaluate commands.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kshedden/coalhmm/demog"
	"github.com/kshedden/coalhmm/smclib"
)

// ErrInvalidConfig is returned by Validate and Load.
var ErrInvalidConfig = errors.New("invalid configuration")

var inf = math.Inf(1)

// Config is the top-level configuration.
type Config struct {
	Sample     SampleConfig     `yaml:"sample"`
	States     StatesConfig     `yaml:"states"`
	Params     ParamsConfig     `yaml:"params"`
	History    HistoryConfig    `yaml:"history"`
	Split      *SplitConfig     `yaml:"split,omitempty"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// SampleConfig gives the undistinguished and distinguished lineage counts
// per population.  One entry means a single population.
type SampleConfig struct {
	N      []int   `yaml:"n"`
	NA     []int   `yaml:"na"`
	PolErr float64 `yaml:"pol_err"`
}

// StatesConfig gives the hidden-state boundaries.  Explicit boundaries take
// precedence over M and HM.
type StatesConfig struct {
	Boundaries []float64 `yaml:"boundaries,omitempty"`
	M          int       `yaml:"m"`
	HM         float64   `yaml:"hm"`
}

// ParamsConfig holds the scaled mutation and recombination rates.
type ParamsConfig struct {
	Theta float64 `yaml:"theta"`
	Rho   float64 `yaml:"rho"`
	Alpha float64 `yaml:"alpha"`
}

// HistoryConfig is a piecewise-constant size history.  A size of 0 stands
// for +Inf, which YAML cannot spell portably.
type HistoryConfig struct {
	Sizes []float64 `yaml:"sizes"`
	Spans []float64 `yaml:"spans"`
}

// SplitConfig describes the second population of a two-population model.
type SplitConfig struct {
	Time          float64       `yaml:"time"`
	History2      HistoryConfig `yaml:"history2"`
	Distinguished HistoryConfig `yaml:"distinguished"`
}

// SimulationConfig controls the generate command.
type SimulationConfig struct {
	Sequences int     `yaml:"sequences"`
	Length    int     `yaml:"length"`
	Missing   float64 `yaml:"missing"`
	Seed      uint64  `yaml:"seed"`
}

// Default returns a single-population configuration with a constant
// history.
func Default() *Config {
	return &Config{
		Sample: SampleConfig{
			N:      []int{4},
			NA:     []int{2},
			PolErr: 0.01,
		},
		States: StatesConfig{
			M:  16,
			HM: 15,
		},
		Params: ParamsConfig{
			Theta: smclib.DefaultTheta,
			Rho:   smclib.DefaultRho,
			Alpha: smclib.DefaultAlpha,
		},
		History: HistoryConfig{
			Sizes: []float64{1},
			Spans: []float64{1},
		},
		Simulation: SimulationConfig{
			Sequences: 4,
			Length:    100000,
			Missing:   0.01,
			Seed:      1,
		},
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NPop returns the number of populations.
func (c *Config) NPop() int {
	return len(c.Sample.N)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {

	np := c.NPop()
	switch {
	case np < 1 || np > smclib.MaxPop:
		return fmt.Errorf("%w: %d populations", ErrInvalidConfig, np)
	case len(c.Sample.NA) != np:
		return fmt.Errorf("%w: %d distinguished counts for %d populations", ErrInvalidConfig, len(c.Sample.NA), np)
	case np == 2 && c.Split == nil:
		return fmt.Errorf("%w: two populations need a split", ErrInvalidConfig)
	case np == 1 && c.Split != nil:
		return fmt.Errorf("%w: a split needs two populations", ErrInvalidConfig)
	case !(c.Sample.PolErr >= 0 && c.Sample.PolErr <= 1):
		return fmt.Errorf("%w: polarization error %g", ErrInvalidConfig, c.Sample.PolErr)
	case c.Params.Theta <= 0 || c.Params.Rho < 0 || c.Params.Alpha <= 0:
		return fmt.Errorf("%w: theta=%g rho=%g alpha=%g", ErrInvalidConfig, c.Params.Theta, c.Params.Rho, c.Params.Alpha)
	case c.Simulation.Missing < 0 || c.Simulation.Missing >= 1:
		return fmt.Errorf("%w: missing fraction %g", ErrInvalidConfig, c.Simulation.Missing)
	}

	for _, n := range c.Sample.N {
		if n < 0 {
			return fmt.Errorf("%w: sample size %d", ErrInvalidConfig, n)
		}
	}
	if np == 1 && c.Sample.NA[0] != 2 {
		return fmt.Errorf("%w: one population needs 2 distinguished lineages", ErrInvalidConfig)
	}

	if len(c.States.Boundaries) == 0 && (c.States.M < 1 || !(c.States.HM > 0)) {
		return fmt.Errorf("%w: hidden states need boundaries or m and hm", ErrInvalidConfig)
	}
	if err := demog.ValidateHiddenStates(c.HiddenStates()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	hists := []HistoryConfig{c.History}
	if c.Split != nil {
		if !(c.Split.Time > 0) {
			return fmt.Errorf("%w: split time %g", ErrInvalidConfig, c.Split.Time)
		}
		hists = append(hists, c.Split.History2, c.Split.Distinguished)
	}
	for _, h := range hists {
		if err := h.History().Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// HiddenStates returns the hidden-state boundaries.  When M and HM are used
// the last boundary is replaced by +Inf.
func (c *Config) HiddenStates() []float64 {

	if len(c.States.Boundaries) > 0 {
		return c.States.Boundaries
	}

	hs := demog.ExpQuantiles(c.States.M, c.States.HM)
	hs[len(hs)-1] = inf
	return hs
}

// History converts h, mapping zero sizes to +Inf.
func (h HistoryConfig) History() demog.History {

	sizes := make([]float64, len(h.Sizes))
	for i, s := range h.Sizes {
		if s == 0 {
			s = inf
		}
		sizes[i] = s
	}

	return demog.NewHistory(sizes, h.Spans)
}
