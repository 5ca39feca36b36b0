package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.NPop())

	hs := cfg.HiddenStates()
	assert.Len(t, hs, 17)
	assert.Equal(t, 0.0, hs[0])
	assert.True(t, math.IsInf(hs[16], 1))
}

func TestLoadTwoPop(t *testing.T) {

	path := writeConfig(t, `
sample:
  n: [3, 2]
  na: [1, 1]
  pol_err: 0.02
states:
  boundaries: [0, 0.5, 1, 2]
params:
  theta: 0.001
  rho: 0.0005
history:
  sizes: [1, 2]
  spans: [0.5, 1]
split:
  time: 0.4
  history2:
    sizes: [0.5]
    spans: [1]
  distinguished:
    sizes: [0, 1]
    spans: [0.4, 1]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.NPop())
	assert.Equal(t, []float64{0, 0.5, 1, 2}, cfg.HiddenStates())
	assert.Equal(t, 0.001, cfg.Params.Theta)
	assert.Equal(t, 1.0, cfg.Params.Alpha)
	assert.Equal(t, 100000, cfg.Simulation.Length)

	h := cfg.Split.Distinguished.History()
	assert.True(t, math.IsInf(h.Sizes[0].V, 1))
	assert.Equal(t, 1.0, h.Sizes[1].V)
}

func TestValidate(t *testing.T) {

	for name, mod := range map[string]func(*Config){
		"no populations":     func(c *Config) { c.Sample.N = nil },
		"na length":          func(c *Config) { c.Sample.NA = []int{2, 0} },
		"one pop na":         func(c *Config) { c.Sample.NA = []int{1} },
		"pol err":            func(c *Config) { c.Sample.PolErr = 1.5 },
		"theta":              func(c *Config) { c.Params.Theta = 0 },
		"states":             func(c *Config) { c.States = StatesConfig{Boundaries: []float64{0, 1, 1}} },
		"no states":          func(c *Config) { c.States = StatesConfig{} },
		"history":            func(c *Config) { c.History.Spans = nil },
		"infinite last size": func(c *Config) { c.History.Sizes = []float64{0} },
		"missing split":      func(c *Config) { c.Sample.N, c.Sample.NA = []int{2, 2}, []int{2, 0} },
		"missing":            func(c *Config) { c.Simulation.Missing = 1 },
		"split one pop": func(c *Config) {
			c.Split = &SplitConfig{Time: 1, History2: c.History, Distinguished: c.History}
		},
	} {
		cfg := Default()
		mod(cfg)
		err := cfg.Validate()
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%s: %v", name, err)
	}
}

func TestLoadErrors(t *testing.T) {

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "sample: [1, 2"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = Load(writeConfig(t, "params:\n  rho: -1\n"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
