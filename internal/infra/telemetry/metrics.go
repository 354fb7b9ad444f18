package telemetry

import (
	"time"

	"toolgate/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveRefresh(_ string, _ string, _ time.Duration) {}

func (n *NoopMetrics) ObserveDiscover(_ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveInvoke(_ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) SetConnectionAvailability(_ string, _ domain.Availability) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
