package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolgate/internal/domain"
)

type PrometheusMetrics struct {
	refreshTotal           *prometheus.CounterVec
	refreshDuration        *prometheus.HistogramVec
	discoverDuration       *prometheus.HistogramVec
	invokeDuration         *prometheus.HistogramVec
	connectionAvailability *prometheus.GaugeVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_refresh_total",
				Help: "Total number of credential refresh attempts",
			},
			[]string{"connection", "outcome"},
		),
		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_refresh_duration_seconds",
				Help:    "Duration of credential refresh attempts in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"connection"},
		),
		discoverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_discover_duration_seconds",
				Help:    "Duration of per-connection tool discovery in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
			},
			[]string{"connection", "status"},
		),
		invokeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_invoke_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"connection", "status"},
		),
		connectionAvailability: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolgate_connection_available",
				Help: "Whether the connection was available at last discovery (1 or 0)",
			},
			[]string{"connection"},
		),
	}
}

func (m *PrometheusMetrics) ObserveRefresh(connection, outcome string, duration time.Duration) {
	m.refreshTotal.WithLabelValues(connection, outcome).Inc()
	m.refreshDuration.WithLabelValues(connection).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveDiscover(connection string, duration time.Duration, err error) {
	m.discoverDuration.WithLabelValues(connection, statusLabel(err)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveInvoke(connection string, duration time.Duration, err error) {
	m.invokeDuration.WithLabelValues(connection, statusLabel(err)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) SetConnectionAvailability(connection string, availability domain.Availability) {
	value := 0.0
	if availability == domain.AvailabilityOK {
		value = 1.0
	}
	m.connectionAvailability.WithLabelValues(connection).Set(value)
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := domain.CodeFrom(err); ok {
		return string(code)
	}
	return string(domain.CodeInternal)
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
