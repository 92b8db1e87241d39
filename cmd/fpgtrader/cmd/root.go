package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/config"
)

var rootCmd = &cobra.Command{
	Use:   "fpgtrader",
	Short: "Portfolio scheduler for strategy instances on the FPG gateway",
	Long: `fpgtrader creates, drives and retires strategy instances across a set of
currency pairs, trading through the FPG gateway or replaying stored data.

It provides tools for:
  - Running a live session with an operator console
  - Replaying strategies over CSV data bundles
  - Exporting instance and trade history
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var configPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger writes structured logs to stderr, leaving stdout to the
// console and reports.
func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
