package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gj2101/boutview/internal/config"
	"github.com/gj2101/boutview/internal/logging"
)

type app struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "boutview",
		Short:         "Serve and review synchronized recordings of animal vocal bouts",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			if a.logFormat != "" {
				cfg.Log.Format = a.logFormat
			}
			if err := logging.Setup(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format); err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", getEnv("BOUTVIEW_CONFIG", "boutview.yaml"), "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(a.serveCmd())
	rootCmd.AddCommand(a.publishCmd())
	rootCmd.AddCommand(a.boutsCmd())
	rootCmd.AddCommand(a.annotationsCmd())
	return rootCmd
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
