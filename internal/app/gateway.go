package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/aggregator"
	"toolgate/internal/infra/connclient"
	"toolgate/internal/infra/credstore"
	"toolgate/internal/infra/refresh"
	"toolgate/internal/infra/registry"
	"toolgate/internal/infra/telemetry"
)

// Gateway bundles the wired component graph for one loaded catalog.
type Gateway struct {
	Catalog    domain.Catalog
	Registry   *registry.Registry
	Store      domain.CredentialStore
	Aggregator *aggregator.Aggregator
	Metrics    domain.Metrics
	Health     *telemetry.HealthTracker

	boltStore *credstore.BoltStore
	logger    *zap.Logger
}

// GatewayOptions control the wiring knobs that come from the command line
// rather than the catalog file.
type GatewayOptions struct {
	// DBPath is the credential database location. Empty means an in-memory
	// store, which only makes sense for tests and one-shot CLI use against
	// none-auth connections.
	DBPath string
	// Registerer receives the gateway metrics; nil uses the default
	// prometheus registry.
	Registerer prometheus.Registerer
	// DisableMetrics swaps in the no-op metrics implementation.
	DisableMetrics bool
}

// BuildGateway wires the component graph: registry, credential store with
// retry, strategy refresher, single-flight coordinator, per-connection
// clients, and the aggregator on top.
func BuildGateway(catalog domain.Catalog, opts GatewayOptions, logger *zap.Logger) (*Gateway, error) {
	reg, err := registry.New(catalog.Connections)
	if err != nil {
		return nil, err
	}

	var metrics domain.Metrics
	if opts.DisableMetrics || !catalog.Runtime.Observability.EnableMetrics {
		metrics = telemetry.NewNoopMetrics()
	} else {
		metrics = telemetry.NewPrometheusMetrics(opts.Registerer)
	}

	health := telemetry.NewHealthTracker()

	var store domain.CredentialStore
	var boltStore *credstore.BoltStore
	if opts.DBPath == "" {
		store = credstore.NewMemoryStore()
	} else {
		boltStore, err = credstore.OpenBolt(opts.DBPath)
		if err != nil {
			return nil, err
		}
		store = boltStore
	}
	store = credstore.NewRetryStore(store, time.Duration(domain.DefaultStoreRetryMaxElapsedSeconds)*time.Second)
	health.Set("credstore", "ok")

	refresher := refresh.NewRefresher(logger)
	coordinator := refresh.NewCoordinator(store, refresher, catalog.Runtime, metrics, logger)
	dialer := connclient.NewStreamableDialer(logger, Version)

	clients := make([]aggregator.ConnectionClient, 0, reg.Len())
	for _, conn := range reg.List() {
		clients = append(clients, connclient.New(conn, coordinator, dialer, metrics, logger))
	}

	return &Gateway{
		Catalog:    catalog,
		Registry:   reg,
		Store:      store,
		Aggregator: aggregator.New(clients, catalog.Runtime, metrics, logger),
		Metrics:    metrics,
		Health:     health,
		boltStore:  boltStore,
		logger:     logger.Named("gateway"),
	}, nil
}

func (g *Gateway) Close() error {
	if g.boltStore != nil {
		return g.boltStore.Close()
	}
	return nil
}
