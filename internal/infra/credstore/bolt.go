package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"toolgate/internal/domain"
)

var credentialsBucket = []byte("credentials")

// BoltStore persists credential records in a local bbolt database. bbolt
// serializes writers, which gives the per-key CAS its atomicity for free.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, domain.E(domain.CodeInvalidConfig, "credstore.open", "credential db path is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.E(domain.CodeUnavailable, "credstore.open", fmt.Sprintf("ensure db dir: %v", err), err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, domain.E(domain.CodeUnavailable, "credstore.open", fmt.Sprintf("open credential db: %v", err), err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, domain.E(domain.CodeUnavailable, "credstore.open", "ensure schema", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context, userID, connection string) (domain.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.CredentialRecord{}, domain.Wrap(domain.CodeDeadlineExceeded, "credstore.get", err)
	}

	var rec domain.CredentialRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(credentialsBucket).Get([]byte(recordKey(userID, connection)))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return domain.CredentialRecord{}, domain.E(domain.CodeUnavailable, "credstore.get", "", err)
	}
	if !found {
		return domain.CredentialRecord{}, domain.E(domain.CodeAuthRequired, "credstore.get", "", domain.ErrCredentialNotFound)
	}
	return rec, nil
}

func (s *BoltStore) Upsert(ctx context.Context, rec domain.CredentialRecord) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.CodeDeadlineExceeded, "credstore.upsert", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		key := []byte(recordKey(rec.UserID, rec.Connection))
		if raw := bucket.Get(key); raw != nil {
			var existing domain.CredentialRecord
			if err := json.Unmarshal(raw, &existing); err == nil {
				rec = clampExpiry(existing, rec)
			}
		}
		rec.UpdatedAt = s.now()
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
	if err != nil {
		return domain.E(domain.CodeUnavailable, "credstore.upsert", "", err)
	}
	return nil
}

func (s *BoltStore) MarkRevoked(ctx context.Context, userID, connection string) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.CodeDeadlineExceeded, "credstore.revoke", err)
	}

	missing := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		key := []byte(recordKey(userID, connection))
		raw := bucket.Get(key)
		if raw == nil {
			missing = true
			return nil
		}
		var rec domain.CredentialRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Status = domain.CredentialRevoked
		rec.RefreshingSince = time.Time{}
		rec.UpdatedAt = s.now()
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
	if err != nil {
		return domain.E(domain.CodeUnavailable, "credstore.revoke", "", err)
	}
	if missing {
		return domain.E(domain.CodeAuthRequired, "credstore.revoke", "", domain.ErrCredentialNotFound)
	}
	return nil
}

func (s *BoltStore) CompareAndSetRefreshing(ctx context.Context, userID, connection string, staleAfter time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.Wrap(domain.CodeDeadlineExceeded, "credstore.cas", err)
	}

	won := false
	missing := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		key := []byte(recordKey(userID, connection))
		raw := bucket.Get(key)
		if raw == nil {
			missing = true
			return nil
		}
		var rec domain.CredentialRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if !claimRefreshing(&rec, s.now(), staleAfter) {
			return nil
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, encoded); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, domain.E(domain.CodeUnavailable, "credstore.cas", "", err)
	}
	if missing {
		return false, domain.E(domain.CodeAuthRequired, "credstore.cas", "", domain.ErrCredentialNotFound)
	}
	return won, nil
}

var _ domain.CredentialStore = (*BoltStore)(nil)
