package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/registry"
	"toolgate/internal/infra/telemetry"
)

const testCatalog = `
observability:
  enableMetrics: false
  enableHealthz: false
connections:
  - name: github
    baseAddress: https://github-tools.example.com/mcp
    auth: oauth2
    scopes: [repo]
    oauth2:
      tokenURL: https://auth.example.com/token
      clientID: gw-client
      clientSecretRef: env:GITHUB_CLIENT_SECRET
  - name: public
    baseAddress: https://public.example.com/mcp
    auth: none
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	t.Setenv("GITHUB_CLIENT_SECRET", "s3cret")
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	return path
}

func loadCatalog(t *testing.T) domain.Catalog {
	t.Helper()
	catalog, err := registry.NewLoader(nil).Load(writeCatalog(t))
	require.NoError(t, err)
	return catalog
}

func TestBuildGatewayWiresAllConnections(t *testing.T) {
	catalog := loadCatalog(t)

	gateway, err := BuildGateway(catalog, GatewayOptions{
		DBPath:     filepath.Join(t.TempDir(), "creds.db"),
		Registerer: prometheus.NewRegistry(),
	}, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, gateway.Close()) }()

	require.Equal(t, []string{"github", "public"}, gateway.Aggregator.Connections())
	require.Equal(t, 2, gateway.Registry.Len())
	require.IsType(t, &telemetry.NoopMetrics{}, gateway.Metrics, "metrics disabled in catalog")
}

func TestBuildGatewayMemoryStore(t *testing.T) {
	gateway, err := BuildGateway(loadCatalog(t), GatewayOptions{DisableMetrics: true}, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, gateway.Close()) }()

	rec := domain.CredentialRecord{
		UserID: "alice", Connection: "github",
		AccessToken: "at-1", Status: domain.CredentialValid,
	}
	require.NoError(t, gateway.Store.Upsert(context.Background(), rec))
	got, err := gateway.Store.Get(context.Background(), "alice", "github")
	require.NoError(t, err)
	require.Equal(t, "at-1", got.AccessToken)
}

func TestValidateConfig(t *testing.T) {
	app := New(zap.NewNop())
	err := app.ValidateConfig(context.Background(), ValidateConfig{ConfigPath: writeCatalog(t)})
	require.NoError(t, err)
}

func TestValidateConfigRejectsBrokenCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connections: []\n"), 0o600))

	err := New(zap.NewNop()).ValidateConfig(context.Background(), ValidateConfig{ConfigPath: path})
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInvalidConfig, code)
}

func TestServeRequiresUser(t *testing.T) {
	err := New(zap.NewNop()).Serve(context.Background(), ServeConfig{ConfigPath: "unused.yaml"})
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInvalidConfig, code)
}

func TestCatalogSummaryOmitsSecrets(t *testing.T) {
	summary := buildCatalogSummary(loadCatalog(t))
	require.Len(t, summary.Connections, 2)
	require.Equal(t, "github", summary.Connections[0].Name)
	require.Equal(t, "oauth2", summary.Connections[0].Auth)

	encoded, err := json.Marshal(summary)
	require.NoError(t, err)
	require.NotContains(t, string(encoded), "s3cret")
}

func TestToolSchema(t *testing.T) {
	require.JSONEq(t, `{"type":"object"}`, string(toolSchema(nil)))
	require.JSONEq(t, `{"type":"object"}`, string(toolSchema(json.RawMessage("null"))))

	object := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
	require.Equal(t, object, toolSchema(object))

	require.Nil(t, toolSchema(json.RawMessage(`{"type":"string"}`)))
	require.Nil(t, toolSchema(json.RawMessage(`not json`)))
}

func TestErrorResultCarriesCode(t *testing.T) {
	res := errorResult(domain.E(domain.CodeAuthRequired, "invoke", "credential required", nil))
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	require.Contains(t, text.Text, "AUTH_REQUIRED")
}
