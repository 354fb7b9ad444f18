package domain

import (
	"context"
	"time"
)

type CredentialStatus string

const (
	CredentialValid      CredentialStatus = "valid"
	CredentialRefreshing CredentialStatus = "refreshing"
	CredentialRevoked    CredentialStatus = "revoked"
)

// CredentialRecord is the durable per-(user, connection) token state. At most
// one record exists per key; only the CredentialStore mutates persisted
// records, everything else holds transient copies.
type CredentialRecord struct {
	UserID        string           `json:"userId"`
	Connection    string           `json:"connection"`
	AccessToken   string           `json:"accessToken"`
	RefreshToken  string           `json:"refreshToken,omitempty"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	GrantedScopes []string         `json:"grantedScopes,omitempty"`
	Status        CredentialStatus `json:"status"`

	// RefreshingSince is set when the record transitions to refreshing and
	// backs the crashed-holder reclaim bound.
	RefreshingSince time.Time `json:"refreshingSince,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// FreshFor reports whether the access token may be used as-is: valid status
// and expiry more than leeway in the future.
func (r CredentialRecord) FreshFor(leeway time.Duration, now time.Time) bool {
	return r.Status == CredentialValid && r.ExpiresAt.After(now.Add(leeway))
}

// CredentialStore is the only mutable shared resource in the gateway. All
// operations are atomic per (userID, connection) key; unrelated keys never
// contend. Reaching an unreachable backend yields CodeUnavailable and the
// caller retries with its own backoff, the store never retries internally.
type CredentialStore interface {
	Get(ctx context.Context, userID, connection string) (CredentialRecord, error)

	// Upsert atomically creates or replaces the record for its key. For a
	// record in valid status it never moves ExpiresAt backwards relative
	// to the stored record, keeping expiry monotonic across refreshes.
	Upsert(ctx context.Context, rec CredentialRecord) error

	// MarkRevoked is terminal: the record stays revoked until an
	// out-of-band re-authorization replaces it via Upsert.
	MarkRevoked(ctx context.Context, userID, connection string) error

	// CompareAndSetRefreshing transitions valid -> refreshing and reports
	// whether this caller won. A record already refreshing is reclaimable
	// when RefreshingSince is older than staleAfter, guarding against a
	// holder that died mid-refresh. Revoked records are never claimed.
	CompareAndSetRefreshing(ctx context.Context, userID, connection string, staleAfter time.Duration) (bool, error)
}

// TokenRefresher executes the strategy-specific refresh for one connection.
type TokenRefresher interface {
	Refresh(ctx context.Context, conn Connection, rec CredentialRecord) (CredentialRecord, error)
}
