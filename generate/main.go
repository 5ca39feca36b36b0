package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kshedden/coalhmm/config"
	"github.com/kshedden/coalhmm/smclib"
	"github.com/kshedden/coalhmm/smcsim"
)

var (
	configPath string
	outName    string
	logLevel   string

	logger = logrus.New()

	rootCmd = &cobra.Command{
		Use:   "generate",
		Short: "Simulate observation sequences from a single-population coalescent HMM",
		Long: `Builds the initial distribution, transition matrix and per-site emission
distribution for the configured history and draws hidden states and block keys
from them.  The result is written as gzip-compressed gob.`,
		Args: cobra.NoArgs,
		RunE: run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&outName, "out", "sim.gob.gz", "Output file name")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
}

func run(cmd *cobra.Command, args []string) error {

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if cfg.NPop() != 1 {
		return fmt.Errorf("simulation supports one population, got %d", cfg.NPop())
	}

	n := cfg.Sample.N[0]
	hs := cfg.HiddenStates()
	logger.WithFields(logrus.Fields{
		"n":      n,
		"states": len(hs) - 1,
		"theta":  cfg.Params.Theta,
		"rho":    cfg.Params.Rho,
	}).Info("building model")

	m, err := smcsim.NewModel(n, cfg.History.History(), hs, cfg.Params.Theta, cfg.Params.Rho, cfg.Params.Alpha)
	if err != nil {
		return err
	}

	sim, err := smcsim.NewSimulator(m, cfg.Simulation.Seed)
	if err != nil {
		return err
	}
	sim.Missing = cfg.Simulation.Missing

	ds := &smclib.Dataset{
		NPop: 1,
		N:    []int{n},
		NA:   []int{2},
	}
	bar := progressbar.New(cfg.Simulation.Sequences)
	for i := 0; i < cfg.Simulation.Sequences; i++ {
		rows, states := sim.GenSequence(cfg.Simulation.Length)
		ds.Data = append(ds.Data, rows)
		ds.Lengths = append(ds.Lengths, len(states))
		ds.States = append(ds.States, states)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if err := smclib.WriteDataset(outName, ds); err != nil {
		return err
	}
	logger.WithField("file", outName).Info("wrote dataset")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
