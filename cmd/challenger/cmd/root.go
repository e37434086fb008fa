package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "challenger",
	Short: "A funded-trader challenge engine",
	Long: `Challenger runs funded-trader evaluation accounts.

It provides tools for:
  - Serving live prices from OANDA and Polygon, with synthetic fallback
  - Opening challenges and placing trades against them
  - Enforcing daily loss and max drawdown rules with automatic liquidation
  - Tracking realized and unrealized P/L per challenge
  - Journaling the equity curve and every watchdog action

Complete documentation is available at https://github.com/rustyeddy/challenger`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string
	envFile    string
	logLevel   string
	storeType  string

	cfg *config.Config
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with feed credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from the config")
	rootCmd.PersistentFlags().StringVar(&storeType, "store", "", "override store.type (memory, sqlite, postgres)")
}

// setup loads the environment and the config before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var err error
	if configPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.LoadFromFile(configPath); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if storeType != "" {
		cfg.Store.Type = storeType
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return app.ConfigureLogging(cfg.Log)
}

// openApp builds the engine for one-shot commands. The sweep and the
// background price loop are left off.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return a, nil
}
