package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"toolgate/internal/domain"
)

// RetryStore wraps a CredentialStore and retries transient failures with
// exponential backoff. Only UNAVAILABLE errors are retried; everything else
// (not found, revoked, invalid config) is returned to the caller as-is.
type RetryStore struct {
	inner      domain.CredentialStore
	maxElapsed time.Duration
}

func NewRetryStore(inner domain.CredentialStore, maxElapsed time.Duration) *RetryStore {
	if maxElapsed <= 0 {
		maxElapsed = time.Duration(domain.DefaultStoreRetryMaxElapsedSeconds) * time.Second
	}
	return &RetryStore{inner: inner, maxElapsed: maxElapsed}
}

func (s *RetryStore) retry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = s.maxElapsed
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if code, ok := domain.CodeFrom(err); ok && code == domain.CodeUnavailable {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

func (s *RetryStore) Get(ctx context.Context, userID, connection string) (domain.CredentialRecord, error) {
	var rec domain.CredentialRecord
	err := s.retry(ctx, func() error {
		var err error
		rec, err = s.inner.Get(ctx, userID, connection)
		return err
	})
	return rec, unwrapPermanent(err)
}

func (s *RetryStore) Upsert(ctx context.Context, rec domain.CredentialRecord) error {
	return unwrapPermanent(s.retry(ctx, func() error {
		return s.inner.Upsert(ctx, rec)
	}))
}

func (s *RetryStore) MarkRevoked(ctx context.Context, userID, connection string) error {
	return unwrapPermanent(s.retry(ctx, func() error {
		return s.inner.MarkRevoked(ctx, userID, connection)
	}))
}

func (s *RetryStore) CompareAndSetRefreshing(ctx context.Context, userID, connection string, staleAfter time.Duration) (bool, error) {
	var won bool
	err := s.retry(ctx, func() error {
		var err error
		won, err = s.inner.CompareAndSetRefreshing(ctx, userID, connection, staleAfter)
		return err
	})
	return won, unwrapPermanent(err)
}

// unwrapPermanent strips the backoff.PermanentError wrapper so callers see
// the original domain error.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

var _ domain.CredentialStore = (*RetryStore)(nil)
