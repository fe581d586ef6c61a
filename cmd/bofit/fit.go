package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bofitdev/bofit/internal/analysis"
)

var fitOut string

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Write the surrogate's smoothed fit over the full candidate grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		space, _, records, err := loadRun(cfg)
		if err != nil {
			return err
		}

		if err := analysis.WriteFit(fitOut, space, records, cfg.Search.Seed); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d grid points, %d observations)\n",
			fitOut, space.Size(), len(records))
		return nil
	},
}

func init() {
	fitCmd.Flags().StringVarP(&fitOut, "output", "o", "fit.csv", "output CSV path")
}
