package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"PriceIntel/internal/di"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and consume pipeline triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, cleanup, err := di.InitializeApp(cfg)
		if err != nil {
			return fmt.Errorf("app initialization failed: %w", err)
		}
		defer cleanup()

		// Blocks until SIGINT/SIGTERM.
		return app.Run(context.Background())
	},
}
