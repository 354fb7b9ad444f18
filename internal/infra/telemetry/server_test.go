package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

type stubStatusProvider struct {
	gotUser  string
	statuses []domain.ConnectionStatus
}

func (s *stubStatusProvider) Status(ctx context.Context, userID string) []domain.ConnectionStatus {
	s.gotUser = userID
	return s.statuses
}

func TestHealthHandler(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.Set("store", "ok")

	rec := httptest.NewRecorder()
	healthHandler(tracker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	tracker.Set("store", "unavailable")
	rec = httptest.NewRecorder()
	healthHandler(tracker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report.Status)
}

func TestStatusHandler(t *testing.T) {
	provider := &stubStatusProvider{statuses: []domain.ConnectionStatus{
		{Connection: "github", Availability: domain.AvailabilityOK, ToolCount: 3},
		{Connection: "search", Availability: domain.AvailabilityAuthRequired, Detail: "credential not found"},
	}}

	rec := httptest.NewRecorder()
	statusHandler(provider, "default-user").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?user=alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", provider.gotUser)

	var body struct {
		Connections []domain.ConnectionStatus `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Connections, 2)
	assert.Equal(t, domain.AvailabilityOK, body.Connections[0].Availability)

	rec = httptest.NewRecorder()
	statusHandler(provider, "default-user").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, "default-user", provider.gotUser)
}

func TestStartHTTPServerDisabled(t *testing.T) {
	err := StartHTTPServer(context.Background(), HTTPServerOptions{}, nil)
	require.NoError(t, err)
}
