// Package metrics bridges rcrowley/go-metrics registries (gollum's own
// instrumentation library, see core/metrics.go) to a Prometheus exposition
// endpoint via prometheus/client_golang. Both are direct gollum
// dependencies; the bridge itself is a small hand-rolled adapter rather than
// a re-vendor of gollum's CrowdStrike/go-metrics-prometheus helper
// (see DESIGN.md).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry is the process-wide go-metrics registry. Counter and Gauge
// register here, and Handler exposes those as a Prometheus endpoint. Rate
// EWMAs are registered in go-metrics' default registry instead and are not
// exported by Handler.
var Registry = gometrics.NewRegistry()

// Rate wraps a go-metrics EWMA for the "EMA of events per second" pattern
// used by the cache update/precompute rate trackers (spec §4.7), grounded
// on gollum's tgo.Metric.NewRate idiom (core/metrics.go).
type Rate struct {
	ewma gometrics.EWMA
}

// NewRate creates a one-minute EWMA rate tracker and registers it under
// name.
func NewRate(name string) *Rate {
	ewma := gometrics.NewEWMA1()
	gometrics.GetOrRegister(name, ewma)
	return &Rate{ewma: ewma}
}

// Mark records n events having just occurred.
func (r *Rate) Mark(n int64) { r.ewma.Update(n) }

// Tick must be invoked once per second (conventionally from a ticker loop)
// to advance the decay window.
func (r *Rate) Tick() { r.ewma.Tick() }

// PerSecond returns the current smoothed rate.
func (r *Rate) PerSecond() float64 { return r.ewma.Rate() }

// Counter returns (creating if absent) a named go-metrics counter.
func Counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, Registry)
}

// Gauge returns (creating if absent) a named go-metrics gauge.
func Gauge(name string) gometrics.Gauge {
	return gometrics.GetOrRegisterGauge(name, Registry)
}

// promCollector adapts the go-metrics Registry into a prometheus.Collector
// by snapshotting counters/gauges on every scrape.
type promCollector struct{}

func (promCollector) Describe(ch chan<- *prometheus.Desc) {}

func (promCollector) Collect(ch chan<- prometheus.Metric) {
	Registry.Each(func(name string, i interface{}) {
		desc := prometheus.NewDesc(sanitize(name), name, nil, nil)
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(m.Value()))
		}
	})
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// Handler returns the HTTP handler that exposes Registry in Prometheus
// exposition format.
func Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(promCollector{})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve runs a dedicated HTTP server exposing Handler on port, shutting
// down when ctx is cancelled. Both siphon and rcache run one of these
// (spec §6.2's metrics surface is ambient to both binaries, not scoped to
// either).
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
