package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Render status labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics provides Prometheus metrics for top assembly.
type Metrics struct {
	config MetricsConfig

	rendersTotal    *prometheus.CounterVec
	renderDuration  *prometheus.HistogramVec
	fragmentsMerged *prometheus.CounterVec
	matchKeys       *prometheus.GaugeVec
	errorsByKind    *prometheus.CounterVec
	watchReloads    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a collector whose methods are no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		rendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total number of top renders",
			},
			[]string{"namespace", "status"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of top renders in seconds",
				Buckets:   buckets,
			},
			[]string{"namespace"},
		),
		fragmentsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragments_merged_total",
				Help:      "Total number of fragment files merged",
			},
			[]string{"namespace"},
		),
		matchKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "match_keys",
				Help:      "Number of match keys in the last merged top",
			},
			[]string{"environment", "namespace"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of render errors by error kind",
			},
			[]string{"kind"},
		),
		watchReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of re-renders triggered by filesystem changes",
			},
		),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.fragmentsMerged,
		m.matchKeys,
		m.errorsByKind,
		m.watchReloads,
	)

	return m, nil
}

// RecordRender records a finished render.
func (m *Metrics) RecordRender(env, namespace, status string, fragments, keys int, duration time.Duration) {
	if m == nil || m.rendersTotal == nil {
		return
	}
	m.rendersTotal.WithLabelValues(namespace, status).Inc()
	m.renderDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	if status == StatusSuccess {
		m.fragmentsMerged.WithLabelValues(namespace).Add(float64(fragments))
		m.matchKeys.WithLabelValues(env, namespace).Set(float64(keys))
	}
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// RecordWatchReload counts a render triggered by the watcher.
func (m *Metrics) RecordWatchReload() {
	if m == nil || m.watchReloads == nil {
		return
	}
	m.watchReloads.Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
// It does nothing when metrics are disabled or no listen address is set.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
