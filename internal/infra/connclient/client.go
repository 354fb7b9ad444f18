package connclient

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// CredentialSource is the slice of the refresh coordinator the client needs.
type CredentialSource interface {
	EnsureFresh(ctx context.Context, conn domain.Connection, userID string) (domain.CredentialRecord, bool, error)
	ForceRefresh(ctx context.Context, conn domain.Connection, userID, rejectedToken string) (domain.CredentialRecord, error)
}

// Client executes authenticated operations against a single connection. Each
// operation obtains a usable credential, opens a session, runs, and closes
// the session; sessions are not pooled. A remote rejection of a token that
// was not just refreshed is worth exactly one forced refresh and one retry.
type Client struct {
	conn    domain.Connection
	creds   CredentialSource
	dialer  domain.Dialer
	metrics domain.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(conn domain.Connection, creds CredentialSource, dialer domain.Dialer, metrics domain.Metrics, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		creds:   creds,
		dialer:  dialer,
		metrics: metrics,
		logger:  logger.Named("connclient").With(zap.String("connection", conn.Name)),
		now:     time.Now,
	}
}

func (c *Client) Connection() domain.Connection {
	return c.conn
}

// Discover lists the connection's tools for one user.
func (c *Client) Discover(ctx context.Context, userID string) ([]domain.RemoteTool, error) {
	started := c.now()
	var tools []domain.RemoteTool
	err := c.withSession(ctx, userID, func(session domain.ToolServerSession) error {
		var listErr error
		tools, listErr = session.ListTools(ctx)
		return listErr
	})
	c.metrics.ObserveDiscover(c.conn.Name, c.now().Sub(started), err)
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// Invoke calls one tool by its connection-local name.
func (c *Client) Invoke(ctx context.Context, userID, tool string, args json.RawMessage) (domain.ToolResult, error) {
	started := c.now()
	var result domain.ToolResult
	err := c.withSession(ctx, userID, func(session domain.ToolServerSession) error {
		var callErr error
		result, callErr = session.CallTool(ctx, tool, args)
		return callErr
	})
	c.metrics.ObserveInvoke(c.conn.Name, c.now().Sub(started), err)
	if err != nil {
		return domain.ToolResult{}, err
	}
	return result, nil
}

func (c *Client) withSession(ctx context.Context, userID string, fn func(domain.ToolServerSession) error) error {
	rec, justRefreshed, err := c.creds.EnsureFresh(ctx, c.conn, userID)
	if err != nil {
		return err
	}

	err = c.runOnce(ctx, rec.AccessToken, fn)
	if err == nil || !isUnauthorized(err) {
		return err
	}
	if justRefreshed {
		// The remote refused a token we minted moments ago; refreshing again
		// cannot help and the rejection stands.
		c.logger.Warn("fresh credential rejected by remote", zap.String("user", userID))
		return err
	}

	rec, err = c.creds.ForceRefresh(ctx, c.conn, userID, rec.AccessToken)
	if err != nil {
		return err
	}
	c.logger.Info("retrying after credential refresh", zap.String("user", userID))
	return c.runOnce(ctx, rec.AccessToken, fn)
}

func (c *Client) runOnce(ctx context.Context, bearer string, fn func(domain.ToolServerSession) error) error {
	session, err := c.dialer.Dial(ctx, c.conn, bearer)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Debug("session close failed", zap.Error(closeErr))
		}
	}()
	return fn(session)
}
