package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"toolgate/internal/domain"
	"toolgate/internal/infra/registry"
	"toolgate/internal/infra/telemetry"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
	DBPath     string
	// UserID is the identity every session of this process acts as. The
	// gateway serves one user per stdio session.
	UserID string
}

type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	return &App{
		logger: logger.Named("app"),
	}
}

// Serve loads the catalog, wires the gateway, and runs the stdio tool
// surface plus the observability endpoint until the context is cancelled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	if cfg.UserID == "" {
		return domain.E(domain.CodeInvalidConfig, "serve", "user id is required", nil)
	}

	loader := registry.NewLoader(a.logger)
	catalog, err := loader.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.Int("connections", len(catalog.Connections)))

	gateway, err := BuildGateway(catalog, GatewayOptions{DBPath: cfg.DBPath}, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = gateway.Close() }()

	obs := catalog.Runtime.Observability
	go func() {
		err := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
			Addr:          obs.ListenAddress,
			EnableMetrics: obs.EnableMetrics,
			EnableHealthz: obs.EnableHealthz,
			Health:        gateway.Health,
			Status:        gateway.Aggregator,
			StatusUserID:  cfg.UserID,
		}, a.logger)
		if err != nil {
			a.logger.Error("observability server failed", zap.Error(err))
		}
	}()

	server := NewMCPServer(gateway.Aggregator, cfg.UserID, a.logger)
	return server.Run(ctx)
}

// ValidateConfig parses and validates the catalog at the given path and
// prints a redacted summary.
func (a *App) ValidateConfig(_ context.Context, cfg ValidateConfig) error {
	loader := registry.NewLoader(a.logger)
	catalog, err := loader.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}

	summary := buildCatalogSummary(catalog)
	encoded, err := yaml.Marshal(summary)
	if err != nil {
		return domain.E(domain.CodeInternal, "validate", "encode summary", err)
	}
	if _, err := os.Stdout.Write(encoded); err != nil {
		return domain.E(domain.CodeInternal, "validate", "write summary", err)
	}

	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.Int("connections", len(catalog.Connections)))
	return nil
}

type catalogSummary struct {
	Connections []connectionSummary `yaml:"connections"`
	Runtime     runtimeSummary      `yaml:"runtime"`
}

type connectionSummary struct {
	Name        string   `yaml:"name"`
	BaseAddress string   `yaml:"baseAddress"`
	Auth        string   `yaml:"auth"`
	Scopes      []string `yaml:"scopes,omitempty"`
}

type runtimeSummary struct {
	ExpiryLeeway    string `yaml:"expiryLeeway"`
	RefreshTimeout  string `yaml:"refreshTimeout"`
	DiscoverTimeout string `yaml:"discoverTimeout"`
	InvokeTimeout   string `yaml:"invokeTimeout"`
	Observability   string `yaml:"observability"`
}

// buildCatalogSummary keeps secrets out of the validate output: only names,
// addresses, and auth kinds survive.
func buildCatalogSummary(catalog domain.Catalog) catalogSummary {
	summary := catalogSummary{
		Runtime: runtimeSummary{
			ExpiryLeeway:    catalog.Runtime.ExpiryLeeway().String(),
			RefreshTimeout:  catalog.Runtime.RefreshTimeout().String(),
			DiscoverTimeout: catalog.Runtime.DiscoverTimeout().String(),
			InvokeTimeout:   catalog.Runtime.InvokeTimeout().String(),
			Observability:   observabilitySummary(catalog.Runtime.Observability),
		},
	}
	for _, conn := range catalog.Connections {
		summary.Connections = append(summary.Connections, connectionSummary{
			Name:        conn.Name,
			BaseAddress: conn.BaseAddress,
			Auth:        string(conn.Auth),
			Scopes:      conn.Scopes,
		})
	}
	return summary
}

func observabilitySummary(obs domain.ObservabilityConfig) string {
	if !obs.EnableMetrics && !obs.EnableHealthz {
		return "disabled"
	}
	return fmt.Sprintf("%s (metrics=%t healthz=%t)", obs.ListenAddress, obs.EnableMetrics, obs.EnableHealthz)
}
