// Package credstore provides the durable per-(user, connection) credential
// records. Every operation is atomic for its key; unrelated keys never
// contend.
package credstore

import (
	"context"
	"sync"
	"time"

	"toolgate/internal/domain"
)

// MemoryStore keeps records in process memory. Used by tests and by the
// one-shot CLI in ephemeral mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.CredentialRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.CredentialRecord),
		now:     time.Now,
	}
}

func recordKey(userID, connection string) string {
	return userID + "\x00" + connection
}

func (s *MemoryStore) Get(ctx context.Context, userID, connection string) (domain.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.CredentialRecord{}, domain.Wrap(domain.CodeDeadlineExceeded, "credstore.get", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey(userID, connection)]
	if !ok {
		return domain.CredentialRecord{}, domain.E(domain.CodeAuthRequired, "credstore.get", "", domain.ErrCredentialNotFound)
	}
	return rec, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec domain.CredentialRecord) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.CodeDeadlineExceeded, "credstore.upsert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.UserID, rec.Connection)
	if existing, ok := s.records[key]; ok {
		rec = clampExpiry(existing, rec)
	}
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) MarkRevoked(ctx context.Context, userID, connection string) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.CodeDeadlineExceeded, "credstore.revoke", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(userID, connection)
	rec, ok := s.records[key]
	if !ok {
		return domain.E(domain.CodeAuthRequired, "credstore.revoke", "", domain.ErrCredentialNotFound)
	}
	rec.Status = domain.CredentialRevoked
	rec.RefreshingSince = time.Time{}
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) CompareAndSetRefreshing(ctx context.Context, userID, connection string, staleAfter time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.Wrap(domain.CodeDeadlineExceeded, "credstore.cas", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(userID, connection)
	rec, ok := s.records[key]
	if !ok {
		return false, domain.E(domain.CodeAuthRequired, "credstore.cas", "", domain.ErrCredentialNotFound)
	}

	now := s.now()
	won := claimRefreshing(&rec, now, staleAfter)
	if won {
		s.records[key] = rec
	}
	return won, nil
}

// claimRefreshing implements the shared CAS rule: valid records are claimed
// outright, refreshing records only once their holder looks dead, revoked
// records never.
func claimRefreshing(rec *domain.CredentialRecord, now time.Time, staleAfter time.Duration) bool {
	switch rec.Status {
	case domain.CredentialValid:
	case domain.CredentialRefreshing:
		if staleAfter <= 0 || now.Sub(rec.RefreshingSince) < staleAfter {
			return false
		}
	default:
		return false
	}
	rec.Status = domain.CredentialRefreshing
	rec.RefreshingSince = now
	rec.UpdatedAt = now
	return true
}

// clampExpiry keeps ExpiresAt monotonically non-decreasing across the
// refresh cycle. A record recreated after revocation starts a new cycle and
// is not clamped.
func clampExpiry(existing, incoming domain.CredentialRecord) domain.CredentialRecord {
	if existing.Status == domain.CredentialRevoked {
		return incoming
	}
	if incoming.Status == domain.CredentialValid && incoming.ExpiresAt.Before(existing.ExpiresAt) {
		incoming.ExpiresAt = existing.ExpiresAt
	}
	return incoming
}

var _ domain.CredentialStore = (*MemoryStore)(nil)
