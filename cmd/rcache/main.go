// Command rcache runs the Response Cache and Request Batcher (C6-C10):
// the Postgres-backed lookup plane and its REST control surface described
// in spec §1/§6.3.
//
// Grounded the same way cmd/siphon is: a single-verb cobra.Command root
// (firestige-Otus's cmd/root.go pattern) around a long-running service,
// rather than a multi-verb CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openafc/afc-telemetry-core/internal/certresolver"
	"github.com/openafc/afc-telemetry-core/internal/config"
	"github.com/openafc/afc-telemetry-core/internal/gateway"
	"github.com/openafc/afc-telemetry-core/internal/logging"
	"github.com/openafc/afc-telemetry-core/internal/metrics"
	"github.com/openafc/afc-telemetry-core/internal/pgpool"
	"github.com/openafc/afc-telemetry-core/internal/precompute"
	"github.com/openafc/afc-telemetry-core/internal/rcache"
	"github.com/openafc/afc-telemetry-core/internal/restapi"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rcache",
	Short: "Run the response cache store and its REST control surface",
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
		fmt.Fprintf(os.Stderr, "rcache: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	settings, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("rcache")

	pool, err := pgpool.Open(ctx, settings.AlsPostgresDSN, settings.CachePostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres pools: %w", err)
	}
	defer pool.Close()

	if err := pool.CheckSchema(ctx); err != nil {
		return fmt.Errorf("schema check: %w", err)
	}

	store := rcache.New(pool.Cache, settings.UpdateQueueCapacity, settings.PrecomputeQuota)

	requestOf := rcache.DeriveRequestFields
	responseOf := func(b []byte) (rcache.ResponseFields, bool) {
		return rcache.DeriveResponseFields(b, time.Now())
	}
	go store.RunUpdateWriter(ctx, settings.BatcherMaxBatch, requestOf, responseOf)
	go store.RunRateTicker(ctx)

	go func() {
		if err := metrics.Serve(ctx, settings.MetricsPort); err != nil {
			log.WithError(err).Warn("metrics server")
		}
	}()

	// special-certifications overrides are operator-supplied data with no
	// named source in spec §6.4; an empty table means every undefined
	// certification is denied, the conservative default.
	gw := gateway.New(store, pool.ALS, certresolver.SpecialCertifications{}, settings.BatcherMaxBatch)
	defer gw.Close()

	dispatcher := precompute.New(store, gw, settings.AfcReqURL, settings.AfcStateVendorExtensions)
	go dispatcher.Run(ctx, log, requestOf, responseOf)

	keyhole, err := config.NewKeyholeTemplateWatcher(settings.KeyholeTemplate, settings.KeyholeTemplateFile)
	if err != nil {
		return fmt.Errorf("load keyhole template: %w", err)
	}
	defer keyhole.Close()

	server := restapi.New(store, keyhole, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.RcachePort),
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", settings.RcachePort).Info("rcache listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		log.Info("rcache stopped")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
