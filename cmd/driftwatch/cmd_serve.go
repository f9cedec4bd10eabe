package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/driftwatch/internal/api"
	"github.com/yairfalse/driftwatch/policy"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the drift detection daemon and HTTP API",
	Long: `Run driftwatch as a daemon.

Scans run on the configured interval and on demand through the API.
Every scan compares Terraform state with live AWS, classifies drift and
updates alerts. The rule file is reloaded when it changes if rules.watch
is set.`,
	Example: `  driftwatch serve -c driftwatch.toml
  driftwatch serve --addr :9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "API listen address (overrides api.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.API.Addr = serveAddr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server := api.NewServer(api.Config{
		Addr: cfg.API.Addr,
		Dependencies: api.Dependencies{
			Scheduler: a.scheduler,
			Runs:      a.store,
			Alerts:    a.alerts,
			Rules:     a.classifier,
			Metrics:   a.telemetry.MetricsHandler(),
		},
	})

	log.Info().
		Str("addr", cfg.API.Addr).
		Str("storage", cfg.Storage.Backend).
		Dur("interval", cfg.Scanner.Interval).
		Bool("auto_scan", cfg.Scanner.AutoScan).
		Bool("demo", cfg.Scanner.Demo).
		Msg("driftwatch starting")

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return a.scheduler.Start(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return server.Serve(ctx)
		}, func(error) {
			cancel()
		})
	}
	if cfg.Rules.Watch && cfg.Rules.Path != "" {
		watcher := policy.NewWatcher(a.classifier, cfg.Rules.Path, cfg.Rules.PoliciesDir)
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return watcher.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
