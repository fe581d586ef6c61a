package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bofitdev/bofit/internal/config"
	"github.com/bofitdev/bofit/internal/history"
	"github.com/bofitdev/bofit/internal/logging"
	"github.com/bofitdev/bofit/internal/searchspace"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "bofit",
	Short: "Bayesian parameter search against a target curve",
	Long: `bofit fits a physical model's free parameters to an observed target
curve by proposing candidates with a Gaussian-process search engine and
scoring each one with an external numerical solver.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "run configuration file")
	rootCmd.AddCommand(runCmd, bestCmd, fitCmd, exportCmd, versionCmd)
}

// setup loads the configuration and builds the logger every subcommand needs.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// loadRun opens an existing run directory for the post-analysis commands.
func loadRun(cfg config.Config) (*searchspace.Space, history.RunMeta, []history.ScoreRecord, error) {
	space, err := searchspace.New(cfg.Specs())
	if err != nil {
		return nil, history.RunMeta{}, nil, err
	}
	rec := history.NewRecorder(cfg.Paths.RunDir, space, nil)
	meta, _, err := rec.Meta()
	if err != nil {
		return nil, history.RunMeta{}, nil, err
	}
	records, err := history.ReadHistory(cfg.Paths.RunDir)
	if err != nil {
		return nil, history.RunMeta{}, nil, err
	}
	return space, meta, records, nil
}
