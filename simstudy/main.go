package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/kshedden/coalhmm/config"
	"github.com/kshedden/coalhmm/smclib"
	"github.com/kshedden/coalhmm/smcsim"
)

var (
	configPath string
	outName    string
	logLevel   string
	nrep       int

	// Multiples of the true rates at which the likelihood is profiled.
	factors = []float64{0.25, 0.5, 1, 2, 4}

	logger = logrus.New()

	rootCmd = &cobra.Command{
		Use:   "simstudy",
		Short: "Profile the likelihood of simulated data over a grid of rates",
		Long: `Repeatedly simulates a dataset under the configured single-population
model and evaluates its log-likelihood with theta and rho scaled by each
factor in a fixed grid.  One CSV row is written per replicate, parameter
and factor.`,
		Args: cobra.NoArgs,
		RunE: run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&outName, "out", "result.csv", "Output CSV file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.Flags().IntVar(&nrep, "nrep", 10, "Number of replicates")
}

// profile returns the total log-likelihood of ds at each factor, scaling
// theta or rho.
func profile(cfg *config.Config, ds *smclib.Dataset, scaleTheta bool) ([]float64, error) {

	op, err := smclib.NewOnePop(ds.N[0], ds.Data, ds.Lengths, cfg.HiddenStates(), cfg.Sample.PolErr, smclib.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := op.SetParams(cfg.History.History()); err != nil {
		return nil, err
	}
	op.SetAlpha(cfg.Params.Alpha)

	ll := make([]float64, len(factors))
	for j, f := range factors {
		theta, rho := cfg.Params.Theta, cfg.Params.Rho
		if scaleTheta {
			theta *= f
		} else {
			rho *= f
		}
		op.SetTheta(theta)
		op.SetRho(rho)

		v, err := op.Loglik()
		if err != nil {
			return nil, err
		}
		ll[j] = floats.Sum(v)
	}

	return ll, nil
}

// records formats one profile as CSV rows.
func records(run int, param string, ll []float64, best int) [][]string {
	var recs [][]string
	for j, f := range factors {
		recs = append(recs, []string{
			strconv.Itoa(run),
			param,
			strconv.FormatFloat(f, 'g', -1, 64),
			strconv.FormatFloat(ll[j], 'f', 4, 64),
			strconv.FormatBool(j == best),
		})
	}
	return recs
}

// writeCSV writes recs to the named file.
func writeCSV(fname string, recs [][]string) error {

	out, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.WriteAll(recs); err != nil {
		return fmt.Errorf("writing %s: %w", fname, err)
	}

	return out.Close()
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

	m, err := smcsim.NewModel(cfg.Sample.N[0], cfg.History.History(), cfg.HiddenStates(),
		cfg.Params.Theta, cfg.Params.Rho, cfg.Params.Alpha)
	if err != nil {
		return err
	}

	recs := [][]string{{"Run", "Param", "Factor", "Loglik", "Best"}}
	bar := progressbar.New(nrep)
	for i := 0; i < nrep; i++ {
		sim, err := smcsim.NewSimulator(m, cfg.Simulation.Seed+uint64(i))
		if err != nil {
			return err
		}
		sim.Missing = cfg.Simulation.Missing
		ds := sim.GenDataset(cfg.Simulation.Sequences, cfg.Simulation.Length)

		for _, param := range []string{"theta", "rho"} {
			ll, err := profile(cfg, ds, param == "theta")
			if err != nil {
				return err
			}
			best := floats.MaxIdx(ll)
			logger.WithFields(logrus.Fields{
				"run":   i,
				"param": param,
				"best":  factors[best],
			}).Debug("profiled")
			recs = append(recs, records(i, param, ll, best)...)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if err := writeCSV(outName, recs); err != nil {
		return err
	}
	logger.WithField("file", outName).Info("wrote results")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
