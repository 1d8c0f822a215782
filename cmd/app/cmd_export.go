package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PriceIntel/internal/di"
	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/service/export"
)

var (
	exportOut   string
	exportLimit int
	exportDays  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current dashboard to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, cleanup, err := di.InitializeServices(cfg)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		defer cleanup()

		d, err := svc.Dashboard.Dashboard(context.Background(), models.DashboardFilter{Limit: exportLimit, Days: exportDays})
		if err != nil {
			return err
		}
		b, err := export.DashboardWorkbook(d)
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOut, b, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d failed panels)\n", exportOut, len(d.Errors))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "dashboard.xlsx", "output file")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 10, "rows per panel")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "lookback in days")
}
