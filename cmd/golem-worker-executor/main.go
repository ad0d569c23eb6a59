package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/golem-io/worker-executor/pkg/api"
	"github.com/golem-io/worker-executor/pkg/config"
	"github.com/golem-io/worker-executor/pkg/executor"
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfg = config.Default()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "golem-worker-executor",
	Short: "Golem worker executor - durable execution of WASM workers",
	Long: `golem-worker-executor runs long-lived WASM workers with durable,
resumable execution. Every non-deterministic effect a worker performs is
recorded to a per-worker oplog so the worker can be re-created after a
crash, eviction, or suspension and deterministically replay its history.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"golem-worker-executor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	config.RegisterFlags(rootCmd.PersistentFlags(), &cfg)
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

func initLogging() {
	cfg.ApplyEnvOverrides()
	log.Init(log.Config{
		Level:      cfg.LogLevel,
		JSONOutput: cfg.LogJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker executor node",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		metrics.SetVersion(Version)

		exec, err := executor.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing executor: %w", err)
		}
		if err := exec.Start(ctx); err != nil {
			return fmt.Errorf("starting executor: %w", err)
		}

		srv := api.NewServer(exec)
		errCh := make(chan error, 2)
		go func() { errCh <- srv.Start(cfg.BindAddr) }()

		if cfg.MetricsAddr != "" {
			health := api.NewHealthServer()
			go func() { errCh <- health.Start(cfg.MetricsAddr) }()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		mainLogger := log.WithComponent("main")
		select {
		case sig := <-sigCh:
			mainLogger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				mainLogger.Error().Err(err).Msg("listener failed")
			}
		}

		srv.Stop()
		return exec.Close(context.Background())
	},
}
