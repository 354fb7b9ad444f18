package domain

import "time"

// Metrics is implemented by infra/telemetry; components accept it so tests
// can run without a prometheus registry.
type Metrics interface {
	ObserveRefresh(connection, outcome string, duration time.Duration)
	ObserveDiscover(connection string, duration time.Duration, err error)
	ObserveInvoke(connection string, duration time.Duration, err error)
	SetConnectionAvailability(connection string, availability Availability)
}
