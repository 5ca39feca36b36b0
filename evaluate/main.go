package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/kshedden/coalhmm/ad"
	"github.com/kshedden/coalhmm/config"
	"github.com/kshedden/coalhmm/smclib"
)

var (
	configPath string
	dataPath   string
	logLevel   string
	fbOnly     bool

	logger = logrus.New()

	rootCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Run the E-step of a coalescent HMM on a dataset",
		Long: `Loads a dataset written by generate, sets the configured parameters and
reports the per-sequence log-likelihood and the expected complete-data
log-likelihood with its gradient in the history sizes.`,
		Args: cobra.NoArgs,
		RunE: run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&dataPath, "data", "", "Dataset written by generate")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.Flags().BoolVar(&fbOnly, "fb-only", false, "Only compute the log-likelihood")
	_ = rootCmd.MarkFlagRequired("data")
}

// model is the part of OnePop and TwoPop used here.
type model interface {
	SetTheta(float64)
	SetRho(float64)
	SetAlpha(float64)
	Estep(bool) error
	Loglik() ([]float64, error)
	Q() ([4]ad.Dual, error)
	Bins() map[smclib.BlockKey]smclib.WeightMap
}

func build(cfg *config.Config, ds *smclib.Dataset) (model, int, error) {

	hs := cfg.HiddenStates()
	opts := []smclib.Option{smclib.WithLogger(logger)}

	switch cfg.NPop() {
	case 1:
		op, err := smclib.NewOnePop(ds.N[0], ds.Data, ds.Lengths, hs, cfg.Sample.PolErr, opts...)
		if err != nil {
			return nil, 0, err
		}
		h, nd := cfg.History.History().Variables()
		return op, nd, op.SetParams(h)
	case 2:
		tp, err := smclib.NewTwoPop(ds.N[0], ds.N[1], ds.NA[0], ds.NA[1], ds.Data, ds.Lengths, hs, cfg.Sample.PolErr, opts...)
		if err != nil {
			return nil, 0, err
		}
		h1, nd := cfg.History.History().Variables()
		sp := cfg.Split
		return tp, nd, tp.SetParams(sp.Distinguished.History(), h1, sp.History2.History(), sp.Time)
	}

	return nil, 0, fmt.Errorf("%d populations", cfg.NPop())
}

func checkDataset(cfg *config.Config, ds *smclib.Dataset) error {

	if ds.NPop != cfg.NPop() || len(ds.N) != ds.NPop || len(ds.NA) != ds.NPop {
		return fmt.Errorf("dataset has %d populations, configuration has %d", ds.NPop, cfg.NPop())
	}
	for p := range ds.NA {
		if ds.NA[p] != cfg.Sample.NA[p] {
			return errors.New("dataset and configuration disagree on the distinguished lineages")
		}
	}

	return nil
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

	ds, err := smclib.ReadDataset(dataPath)
	if err != nil {
		return err
	}
	if err := checkDataset(cfg, ds); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"file":      dataPath,
		"sequences": len(ds.Data),
		"npop":      ds.NPop,
	}).Info("read dataset")

	if ds.NPop == 1 {
		obs, err := ds.Obs()
		if err != nil {
			return err
		}
		sfs, err := smclib.ObservedSFS(obs, ds.N[0])
		if err != nil {
			return err
		}
		fmt.Println("Observed SFS:")
		for a := range sfs {
			fmt.Printf("  a=%d %v\n", a, sfs[a])
		}
	}

	steps := 3
	if fbOnly {
		steps = 1
	}
	bar := progressbar.New(steps)

	m, nd, err := build(cfg, ds)
	if err != nil {
		return err
	}
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for k, wm := range m.Bins() {
			logger.WithFields(logrus.Fields{"key": k, "weights": wm}).Debug("bin")
		}
	}

	m.SetTheta(cfg.Params.Theta)
	m.SetRho(cfg.Params.Rho)
	m.SetAlpha(cfg.Params.Alpha)

	if !fbOnly {
		if err := m.Estep(false); err != nil {
			return err
		}
		_ = bar.Add(1)
	}

	ll, err := m.Loglik()
	if err != nil {
		return err
	}
	_ = bar.Add(1)

	var q [4]ad.Dual
	if !fbOnly {
		if q, err = m.Q(); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()

	fmt.Println("Log-likelihood:")
	for i, v := range ll {
		fmt.Printf("  %d %f\n", i, v)
	}
	fmt.Printf("  total %f\n", floats.Sum(ll))

	if fbOnly {
		return nil
	}

	total := ad.Sum(q[:])
	fmt.Printf("Q: pi=%f emission=%f block=%f transition=%f total=%f\n", q[0].V, q[1].V, q[2].V, q[3].V, total.V)
	fmt.Printf("dQ/dsize: %v\n", total.Grad(nd))

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
