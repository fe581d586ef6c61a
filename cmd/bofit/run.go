package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bofitdev/bofit/internal/controller"
	"github.com/bofitdev/bofit/internal/curve"
	"github.com/bofitdev/bofit/internal/history"
	"github.com/bofitdev/bofit/internal/logging"
	"github.com/bofitdev/bofit/internal/searchspace"
	"github.com/bofitdev/bofit/internal/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the parameter search loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		// The run directory's fate (resume, or set aside and start fresh)
		// must be settled before the log tee opens a file inside it: a
		// set-aside rename would carry the fresh run's log away.
		space, err := searchspace.New(cfg.Specs())
		if err != nil {
			return err
		}
		restart := history.NewRestartManager(cfg.Paths.RunDir, space, logger)
		if _, err := restart.Prepare(cfg.RestartEnabled(), cfg.Search.Seed); err != nil {
			return err
		}

		// Tee the run log into the run directory alongside the artifacts.
		if cfg.Search.Log != "" {
			logDir := filepath.Join(cfg.Paths.RunDir, cfg.Search.Log)
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return err
			}
			logger, err = logging.NewLogger(cfg.Logging, filepath.Join(logDir, "bofit.log"))
			if err != nil {
				return err
			}
		}
		defer logger.Sync()

		target, err := curve.LoadCSV(cfg.Paths.TargetCSV)
		if err != nil {
			return err
		}

		ctrl, err := controller.New(cfg, target, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Status.Enabled {
			tracker := status.NewTracker(nil, logger)
			ctrl.Observer = tracker.Observe
			go func() {
				if err := tracker.Serve(ctx, cfg.Status.Addr); err != nil {
					logger.Warn("status server stopped", zap.Error(err))
				}
			}()
		}

		if err := ctrl.Run(ctx); err != nil {
			return err
		}

		best := ctrl.Best()
		logger.Info("search complete",
			zap.Float64("best_score", best.Score),
			zap.Int("best_index", best.Index),
			zap.Int("best_iteration", best.Iteration))
		return nil
	},
}
