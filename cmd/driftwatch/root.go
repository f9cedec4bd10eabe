package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/driftwatch/internal/config"
	"github.com/yairfalse/driftwatch/telemetry"
)

var (
	version    = "0.1.0"
	configPath string
	logLevel   string
	demoMode   bool
	interval   time.Duration

	rootCmd = &cobra.Command{
		Use:   "driftwatch",
		Short: "Terraform drift detection",
		Long: `Driftwatch - Terraform drift detection

Driftwatch compares Terraform state with what is actually running in AWS,
classifies every difference by severity and tracks it as an alert until
the drift goes away or someone deals with it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Driftwatch {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to driftwatch.toml (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", false, "Read both sides from fixtures instead of Terraform and AWS")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 0, "Override scanner.interval")
}

// loadConfig reads, defaults and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if demoMode {
		cfg.Scanner.Demo = true
	}
	if interval > 0 {
		cfg.Scanner.Interval = interval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

// setupLogging configures the global zerolog level and output for every
// logger created afterwards.
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		telemetry.SetOutput(out)
		log.Logger = log.Output(out)
		return
	}
	telemetry.SetOutput(os.Stderr)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
