package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.refreshTotal)
	assert.NotNil(t, m.refreshDuration)
	assert.NotNil(t, m.discoverDuration)
	assert.NotNil(t, m.invokeDuration)
	assert.NotNil(t, m.connectionAvailability)
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveRefresh("github", "ok", 120*time.Millisecond)
	m.ObserveDiscover("github", 40*time.Millisecond, nil)
	m.ObserveInvoke("github", 200*time.Millisecond, domain.E(domain.CodeUnavailable, "call_tool", "down", nil))
	m.SetConnectionAvailability("github", domain.AvailabilityOK)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, mf := range metrics {
		names = append(names, mf.GetName())
	}

	assert.Contains(t, names, "toolgate_refresh_total")
	assert.Contains(t, names, "toolgate_refresh_duration_seconds")
	assert.Contains(t, names, "toolgate_discover_duration_seconds")
	assert.Contains(t, names, "toolgate_invoke_duration_seconds")
	assert.Contains(t, names, "toolgate_connection_available")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "ok", statusLabel(nil))
	assert.Equal(t, "UNAVAILABLE", statusLabel(domain.E(domain.CodeUnavailable, "dial", "down", nil)))
	assert.Equal(t, "INTERNAL", statusLabel(assert.AnError))
}

func TestHealthTrackerDegrades(t *testing.T) {
	tracker := NewHealthTracker()
	assert.Equal(t, "ok", tracker.Report().Status)

	tracker.Set("store", "ok")
	assert.Equal(t, "ok", tracker.Report().Status)

	tracker.Set("store", "unavailable")
	report := tracker.Report()
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "unavailable", report.Details["store"])
}
