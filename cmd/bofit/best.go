package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bofitdev/bofit/internal/analysis"
)

var (
	bestTop int
	bestOut string
)

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "List recorded candidates ranked by score",
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
		if len(records) == 0 {
			return fmt.Errorf("no recorded iterations in %s", cfg.Paths.RunDir)
		}

		if bestOut != "" {
			return analysis.WriteRanked(bestOut, space, records, bestTop)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rank  iter  index  %s  score\n", strings.Join(space.Names(), "  "))
		for rank, rec := range analysis.Ranked(records, bestTop) {
			values := make([]string, len(rec.Values))
			for i, v := range rec.Values {
				values[i] = fmt.Sprintf("%g", v)
			}
			fmt.Fprintf(out, "%4d  %4d  %5d  %s  %g\n",
				rank+1, rec.Iteration, rec.Index, strings.Join(values, "  "), rec.Score)
		}
		return nil
	},
}

func init() {
	bestCmd.Flags().IntVarP(&bestTop, "top", "n", 0, "show only the top N candidates (0 = all)")
	bestCmd.Flags().StringVarP(&bestOut, "output", "o", "", "write the ranked list as CSV instead of printing")
}
