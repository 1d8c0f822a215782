package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"PriceIntel/internal/di"
	"PriceIntel/internal/domain/models"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the data provider and artifact tables",
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

		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()

		hs := svc.Orchestrator.HealthCheck(ctx)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(hs); err != nil {
			return err
		}
		if hs.Status == models.HealthUnhealthy {
			return fmt.Errorf("status %s", hs.Status)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "overall check timeout")
}
