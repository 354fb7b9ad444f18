package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Coordinator serializes token refreshes per (user, connection) key. At most
// one caller runs the upstream refresh; everyone else blocks until the winner
// finishes and then re-reads the store. Cross-process claimants are handled
// by the store's CompareAndSetRefreshing plus the staleness bound; the
// in-process gate only exists so local waiters don't poll.
type Coordinator struct {
	store     domain.CredentialStore
	refresher domain.TokenRefresher
	cfg       domain.GatewayConfig
	metrics   domain.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func NewCoordinator(store domain.CredentialStore, refresher domain.TokenRefresher, cfg domain.GatewayConfig, metrics domain.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.Named("refresh"),
		now:       time.Now,
		gates:     make(map[string]chan struct{}),
	}
}

// EnsureFresh returns a credential usable for at least the configured leeway.
// A fresh record is returned as-is; otherwise exactly one caller refreshes it
// while concurrent callers for the same key wait and reuse the result. The
// second return reports whether this call involved a refresh, which lets the
// caller treat an immediate remote rejection of the new token as final.
func (c *Coordinator) EnsureFresh(ctx context.Context, conn domain.Connection, userID string) (domain.CredentialRecord, bool, error) {
	if conn.Auth == domain.AuthNone {
		return domain.CredentialRecord{}, false, nil
	}
	return c.ensure(ctx, conn, userID, "")
}

// ForceRefresh is the remote-rejection path: the caller presents the token
// the remote just refused. If the stored record already carries a different,
// fresh token some other caller refreshed in the meantime and that record is
// returned without touching the upstream.
func (c *Coordinator) ForceRefresh(ctx context.Context, conn domain.Connection, userID, rejectedToken string) (domain.CredentialRecord, error) {
	if conn.Auth == domain.AuthNone {
		return domain.CredentialRecord{}, domain.E(domain.CodeInvalidArgument, "refresh.force",
			fmt.Sprintf("connection %q uses no credentials", conn.Name), nil)
	}
	rec, _, err := c.ensure(ctx, conn, userID, rejectedToken)
	return rec, err
}

func (c *Coordinator) ensure(ctx context.Context, conn domain.Connection, userID, rejectedToken string) (domain.CredentialRecord, bool, error) {
	leeway := c.cfg.ExpiryLeeway()
	staleAfter := c.cfg.RefreshStaleAfter()
	refreshed := false

	for {
		if err := ctx.Err(); err != nil {
			return domain.CredentialRecord{}, refreshed, domain.Wrap(domain.CodeDeadlineExceeded, "refresh.ensure", err)
		}

		rec, err := c.store.Get(ctx, userID, conn.Name)
		if err != nil {
			if conn.Auth == domain.AuthStaticBearer && domain.IsAuthError(err) {
				// Static bearers are minted locally; a missing record just
				// means nothing has been signed for this user yet.
				minted, err := c.mintInitialBearer(ctx, conn, userID)
				return minted, true, err
			}
			return domain.CredentialRecord{}, refreshed, err
		}
		if rec.Status == domain.CredentialRevoked {
			return domain.CredentialRecord{}, refreshed, domain.E(domain.CodeRevoked, "refresh.ensure",
				fmt.Sprintf("credential for connection %q is revoked", conn.Name), nil)
		}
		if rec.FreshFor(leeway, c.now()) && rec.AccessToken != rejectedToken {
			return rec, refreshed, nil
		}

		won, err := c.store.CompareAndSetRefreshing(ctx, userID, conn.Name, staleAfter)
		if err != nil {
			return domain.CredentialRecord{}, refreshed, err
		}
		if won {
			rec, err := c.runRefresh(ctx, conn, rec)
			return rec, true, err
		}
		if err := c.await(ctx, userID, conn.Name); err != nil {
			return domain.CredentialRecord{}, refreshed, err
		}
		// Loop: re-read and re-evaluate whatever the winner left behind. The
		// record the winner wrote counts as refreshed for this caller too.
		refreshed = true
	}
}

func (c *Coordinator) mintInitialBearer(ctx context.Context, conn domain.Connection, userID string) (domain.CredentialRecord, error) {
	seed := domain.CredentialRecord{
		UserID:     userID,
		Connection: conn.Name,
		Status:     domain.CredentialValid,
	}
	return c.runUpstream(ctx, conn, seed)
}

// runRefresh is executed only by the CAS winner. Whatever happens, the record
// must leave the refreshing state: success writes the new token, a revocation
// marks the record revoked, and any other failure restores the old record so
// a later caller can try again.
func (c *Coordinator) runRefresh(ctx context.Context, conn domain.Connection, prev domain.CredentialRecord) (domain.CredentialRecord, error) {
	gate := c.openGate(prev.UserID, conn.Name)
	defer c.closeGate(prev.UserID, conn.Name, gate)

	next, err := c.runUpstream(ctx, conn, prev)
	if err == nil {
		return next, nil
	}

	if code, ok := domain.CodeFrom(err); ok && code == domain.CodeRevoked {
		if revokeErr := c.store.MarkRevoked(ctx, prev.UserID, conn.Name); revokeErr != nil {
			c.logger.Warn("mark revoked failed", zap.String("connection", conn.Name), zap.Error(revokeErr))
		}
		return domain.CredentialRecord{}, err
	}

	// Transient failure: put the old record back so the key is not stuck in
	// refreshing until the staleness bound expires.
	restored := prev
	restored.Status = domain.CredentialValid
	restored.RefreshingSince = time.Time{}
	if restoreErr := c.store.Upsert(ctx, restored); restoreErr != nil {
		c.logger.Warn("restore after failed refresh failed", zap.String("connection", conn.Name), zap.Error(restoreErr))
	}
	return domain.CredentialRecord{}, err
}

func (c *Coordinator) runUpstream(ctx context.Context, conn domain.Connection, prev domain.CredentialRecord) (domain.CredentialRecord, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout())
	defer cancel()

	started := c.now()
	next, err := c.refresher.Refresh(refreshCtx, conn, prev)
	duration := c.now().Sub(started)
	if err != nil {
		c.metrics.ObserveRefresh(conn.Name, refreshOutcome(err), duration)
		c.logger.Warn("refresh failed",
			zap.String("connection", conn.Name),
			zap.String("user", prev.UserID),
			zap.Error(err))
		return domain.CredentialRecord{}, err
	}

	next.Status = domain.CredentialValid
	next.RefreshingSince = time.Time{}
	if err := c.store.Upsert(ctx, next); err != nil {
		c.metrics.ObserveRefresh(conn.Name, "store_error", duration)
		return domain.CredentialRecord{}, err
	}
	c.metrics.ObserveRefresh(conn.Name, "ok", duration)
	c.logger.Info("credential refreshed",
		zap.String("connection", conn.Name),
		zap.String("user", prev.UserID),
		zap.Time("expiresAt", next.ExpiresAt))

	// Re-read so the caller sees exactly what the store kept, including the
	// monotonic expiry clamp.
	return c.store.Get(ctx, prev.UserID, conn.Name)
}

func refreshOutcome(err error) string {
	code, ok := domain.CodeFrom(err)
	if !ok {
		return "error"
	}
	switch code {
	case domain.CodeRevoked:
		return "revoked"
	case domain.CodeDeadlineExceeded:
		return "timeout"
	default:
		return "error"
	}
}

func (c *Coordinator) openGate(userID, connection string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.gates[gateKey(userID, connection)] = gate
	return gate
}

func (c *Coordinator) closeGate(userID, connection string, gate chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(gate)
	if c.gates[gateKey(userID, connection)] == gate {
		delete(c.gates, gateKey(userID, connection))
	}
}

// await blocks until the local winner for this key finishes. When the claim
// is held by another process there is no local gate, so waiters fall back to
// a short poll before re-reading the store.
func (c *Coordinator) await(ctx context.Context, userID, connection string) error {
	c.mu.Lock()
	gate := c.gates[gateKey(userID, connection)]
	c.mu.Unlock()

	if gate == nil {
		select {
		case <-ctx.Done():
			return domain.Wrap(domain.CodeDeadlineExceeded, "refresh.await", ctx.Err())
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return domain.Wrap(domain.CodeDeadlineExceeded, "refresh.await", ctx.Err())
	case <-gate:
		return nil
	}
}

func gateKey(userID, connection string) string {
	return userID + "\x00" + connection
}
