package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bofitdev/bofit/internal/analysis"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the run summary and history as an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		space, meta, records, err := loadRun(cfg)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no recorded iterations in %s", cfg.Paths.RunDir)
		}

		if err := analysis.ExportXLSX(exportOut, meta, space, records); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d records)\n", exportOut, len(records))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "run.xlsx", "output XLSX path")
}
