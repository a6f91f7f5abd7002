// Package metrics exposes Prometheus collectors for builds and runs.
//
// Collectors live on a [Registry] rather than the global default registry so
// tests can create isolated instances. [Registry.Handler] serves the
// collected metrics and a liveness check over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kilnd"

// Build and run outcomes used as label values.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	RunExitNonZero = "exit_nonzero"

	CacheHit  = "hit"
	CacheMiss = "miss"
	CacheNone = "none"
)

// Holds the daemon's collectors.
type Registry struct {
	registry *prometheus.Registry

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	steps         *prometheus.CounterVec
	runs          *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// Creates a registry with every collector registered, plus the standard Go
// runtime and process collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of builds by outcome.",
			},
			[]string{"status"},
		),

		buildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Wall time of builds.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17m
			},
		),

		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of executed recipe steps by instruction and cache outcome.",
			},
			[]string{"instruction", "cache"},
		),

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of image runs by result.",
			},
			[]string{"result"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "builds_in_flight",
				Help:      "Number of builds currently executing.",
			},
		),
	}

	r.registry.MustRegister(
		r.builds,
		r.buildDuration,
		r.steps,
		r.runs,
		r.inFlight,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return r
}

// Marks a build as started and returns a function that records its outcome.
func (r *Registry) BuildStarted() func(err error) {
	start := time.Now()
	r.inFlight.Inc()

	return func(err error) {
		r.inFlight.Dec()
		r.buildDuration.Observe(time.Since(start).Seconds())
		r.builds.WithLabelValues(status(err)).Inc()
	}
}

// Records one executed step. Metadata steps use [CacheNone].
func (r *Registry) RecordStep(instruction, cache string) {
	r.steps.WithLabelValues(instruction, cache).Inc()
}

// Records the outcome of running an image.
//
// result is [StatusSuccess] for a zero exit, [RunExitNonZero] for a started
// entrypoint that failed, or [StatusFailure] when the entrypoint could not be
// started.
func (r *Registry) RecordRun(result string) {
	r.runs.WithLabelValues(result).Inc()
}

// Returns the underlying Prometheus registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Returns an HTTP handler serving /metrics and /healthz.
func (r *Registry) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	return router
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
