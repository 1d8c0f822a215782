package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"PriceIntel/internal/di"
	"PriceIntel/internal/domain/models"
)

var (
	runDate      string
	runExclusive bool
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"daily", "pipeline"},
	Short:   "Run the daily analytics pipeline once",
	Long: `Run every pipeline task for one calculation date and print the run
report as JSON. The process exits non-zero when the run failed.`,
	Example: `  priceintel run
  priceintel run --date 2026-03-20
  priceintel run --exclusive=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		req := models.RunRequest{TriggeredBy: "cli"}
		if runDate != "" {
			d, err := time.Parse("2006-01-02", runDate)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			req.CalculationDate = d
		}

		svc, cleanup, err := di.InitializeServices(cfg)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc.Dispatcher.Start(ctx)
		defer svc.Dispatcher.Stop()

		run := svc.Orchestrator.Run
		if runExclusive {
			run = svc.Orchestrator.RunExclusive
		}
		report, err := run(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Status == models.RunFailed {
			return fmt.Errorf("run %s failed", report.RunID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "calculation date (YYYY-MM-DD), defaults to today")
	runCmd.Flags().BoolVar(&runExclusive, "exclusive", true, "fail when another run holds the lock instead of applying the configured overlap policy (which may queue the run)")
}
