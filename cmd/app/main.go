package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PriceIntel/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "priceintel",
	Short: "Retail price and sales analytics engine",
	Long: `PriceIntel reads product, price and sales history, runs the daily
analytics pipeline and serves the resulting dashboard.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, runCmd, healthCmd, exportCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
