// Command siphon runs the ALS Siphon (C5): the Kafka-to-Postgres bundle
// ingester described in spec §1/§4.5.
//
// Grounded on gollum's own cmd/gollum/main.go --config-driven service
// entrypoint and, for the cobra.Command tree shape, on firestige-Otus's
// cmd/root.go (a single persistent "config" flag, a root RunE that starts
// the service rather than a multi-verb CLI, since siphon has nothing to
// daemonize or administer from the command line — that surface is rcache's
// REST API instead).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openafc/afc-telemetry-core/internal/config"
	"github.com/openafc/afc-telemetry-core/internal/logging"
	"github.com/openafc/afc-telemetry-core/internal/metrics"
	"github.com/openafc/afc-telemetry-core/internal/pgpool"
	"github.com/openafc/afc-telemetry-core/internal/siphon"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "siphon",
	Short: "Run the ALS Siphon Kafka-to-Postgres ingester",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "settings file path (optional; AFC_ env vars and defaults apply)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "siphon: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	settings, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("siphon")

	pool, err := pgpool.Open(ctx, settings.AlsPostgresDSN, settings.CachePostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres pools: %w", err)
	}
	defer pool.Close()

	if err := pool.CheckSchema(ctx); err != nil {
		return fmt.Errorf("schema check: %w", err)
	}

	loop, err := siphon.New(settings, pool, log)
	if err != nil {
		return fmt.Errorf("build siphon loop: %w", err)
	}
	defer loop.Close()

	go func() {
		if err := metrics.Serve(ctx, settings.MetricsPort); err != nil {
			log.WithError(err).Warn("metrics server")
		}
	}()

	log.Info("siphon starting")
	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("siphon loop: %w", err)
	}
	log.Info("siphon stopped")
	return nil
}
