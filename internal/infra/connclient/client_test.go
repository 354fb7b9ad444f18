package connclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

type nopMetrics struct{}

func (nopMetrics) ObserveRefresh(string, string, time.Duration)          {}
func (nopMetrics) ObserveDiscover(string, time.Duration, error)          {}
func (nopMetrics) ObserveInvoke(string, time.Duration, error)            {}
func (nopMetrics) SetConnectionAvailability(string, domain.Availability) {}

type fakeCreds struct {
	rec           domain.CredentialRecord
	justRefreshed bool
	ensureErr     error

	forceRec domain.CredentialRecord
	forceErr error
	rejected string
	ensureN  int
	forceN   int
}

func (f *fakeCreds) EnsureFresh(ctx context.Context, conn domain.Connection, userID string) (domain.CredentialRecord, bool, error) {
	f.ensureN++
	return f.rec, f.justRefreshed, f.ensureErr
}

func (f *fakeCreds) ForceRefresh(ctx context.Context, conn domain.Connection, userID, rejectedToken string) (domain.CredentialRecord, error) {
	f.forceN++
	f.rejected = rejectedToken
	return f.forceRec, f.forceErr
}

type fakeSession struct {
	tools  []domain.RemoteTool
	result domain.ToolResult
	err    error
	closed bool
}

func (s *fakeSession) ListTools(ctx context.Context) ([]domain.RemoteTool, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args json.RawMessage) (domain.ToolResult, error) {
	if s.err != nil {
		return domain.ToolResult{}, s.err
	}
	return s.result, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeDialer hands out a per-bearer session and records every dial.
type fakeDialer struct {
	sessions map[string]*fakeSession
	bearers  []string
}

func (d *fakeDialer) Dial(ctx context.Context, conn domain.Connection, bearer string) (domain.ToolServerSession, error) {
	d.bearers = append(d.bearers, bearer)
	session, ok := d.sessions[bearer]
	if !ok {
		return nil, domain.E(domain.CodeUnavailable, "dial", "no session for bearer", nil)
	}
	return session, nil
}

func rejectedErr() error {
	return domain.E(domain.CodeRemoteRejected, "call_tool", "credential rejected", domain.ErrRemoteUnauthorized)
}

func testConnection() domain.Connection {
	return domain.Connection{Name: "github", BaseAddress: "https://mcp.github.example", Auth: domain.AuthOAuth2}
}

func newClient(creds *fakeCreds, dialer *fakeDialer) *Client {
	return New(testConnection(), creds, dialer, nopMetrics{}, zap.NewNop())
}

func TestDiscoverUsesFreshCredential(t *testing.T) {
	session := &fakeSession{tools: []domain.RemoteTool{{Name: "search_issues"}}}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"at-1": session}}
	creds := &fakeCreds{rec: domain.CredentialRecord{AccessToken: "at-1"}}

	tools, err := newClient(creds, dialer).Discover(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "search_issues", tools[0].Name)
	require.Equal(t, []string{"at-1"}, dialer.bearers)
	require.True(t, session.closed)
	require.Equal(t, 0, creds.forceN)
}

func TestInvokeRetriesOnceAfterRemoteRejection(t *testing.T) {
	rejecting := &fakeSession{err: rejectedErr()}
	accepting := &fakeSession{result: domain.ToolResult{ResultJSON: json.RawMessage(`"ok"`)}}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"at-old": rejecting, "at-new": accepting}}
	creds := &fakeCreds{
		rec:      domain.CredentialRecord{AccessToken: "at-old"},
		forceRec: domain.CredentialRecord{AccessToken: "at-new"},
	}

	result, err := newClient(creds, dialer).Invoke(context.Background(), "alice", "search_issues", json.RawMessage(`{"q":"bug"}`))
	require.NoError(t, err)
	require.JSONEq(t, `"ok"`, string(result.ResultJSON))
	require.Equal(t, []string{"at-old", "at-new"}, dialer.bearers)
	require.Equal(t, 1, creds.forceN)
	require.Equal(t, "at-old", creds.rejected)
	require.True(t, rejecting.closed)
	require.True(t, accepting.closed)
}

func TestInvokeRejectionAfterRefreshIsFinal(t *testing.T) {
	rejecting := &fakeSession{err: rejectedErr()}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"at-fresh": rejecting}}
	creds := &fakeCreds{
		rec:           domain.CredentialRecord{AccessToken: "at-fresh"},
		justRefreshed: true,
	}

	_, err := newClient(creds, dialer).Invoke(context.Background(), "alice", "search_issues", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeRemoteRejected, code)
	require.Equal(t, 0, creds.forceN, "a just-refreshed token must not trigger a second refresh")
	require.Equal(t, []string{"at-fresh"}, dialer.bearers)
}

func TestInvokeSecondRejectionIsFinal(t *testing.T) {
	dialer := &fakeDialer{sessions: map[string]*fakeSession{
		"at-old": {err: rejectedErr()},
		"at-new": {err: rejectedErr()},
	}}
	creds := &fakeCreds{
		rec:      domain.CredentialRecord{AccessToken: "at-old"},
		forceRec: domain.CredentialRecord{AccessToken: "at-new"},
	}

	_, err := newClient(creds, dialer).Invoke(context.Background(), "alice", "search_issues", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeRemoteRejected, code)
	require.Equal(t, 1, creds.forceN)
	require.Equal(t, []string{"at-old", "at-new"}, dialer.bearers)
}

func TestInvokeMissingCredential(t *testing.T) {
	dialer := &fakeDialer{sessions: map[string]*fakeSession{}}
	creds := &fakeCreds{ensureErr: domain.E(domain.CodeAuthRequired, "credstore.get", "", domain.ErrCredentialNotFound)}

	_, err := newClient(creds, dialer).Invoke(context.Background(), "alice", "search_issues", nil)
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
	require.Empty(t, dialer.bearers, "no session may be opened without a credential")
}

func TestInvokeRevokedCredential(t *testing.T) {
	dialer := &fakeDialer{sessions: map[string]*fakeSession{}}
	creds := &fakeCreds{ensureErr: domain.E(domain.CodeRevoked, "refresh.ensure", "revoked", nil)}

	_, err := newClient(creds, dialer).Invoke(context.Background(), "alice", "search_issues", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeRevoked, code)
	require.Empty(t, dialer.bearers)
}

func TestInvokeUnreachableIsNotRetried(t *testing.T) {
	down := &fakeSession{err: domain.E(domain.CodeUnavailable, "call_tool", "connection reset", nil)}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"at-1": down}}
	creds := &fakeCreds{rec: domain.CredentialRecord{AccessToken: "at-1"}}

	_, err := newClient(creds, dialer).Invoke(context.Background(), "alice", "search_issues", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
	require.Equal(t, 0, creds.forceN)
	require.Equal(t, []string{"at-1"}, dialer.bearers)
}

func TestClassifyRemoteError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.ErrorCode
	}{
		{"unauthorized sentinel", domain.ErrRemoteUnauthorized, domain.CodeRemoteRejected},
		{"stringified status", context.DeadlineExceeded, domain.CodeDeadlineExceeded},
		{"malformed payload", &json.SyntaxError{}, domain.CodeProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := domain.CodeFrom(classifyRemoteError("github", "call_tool", tc.err))
			require.True(t, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
