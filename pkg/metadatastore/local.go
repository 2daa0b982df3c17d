package metadatastore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/comdaze/openmcpskills/pkg/apierr"
)

var metaBucket = []byte("skill_metadata")

// LocalStore is the C2 backend used when STORAGE_BACKEND=local, backing
// the same Store contract with a BoltDB file instead of Postgres.
type LocalStore struct {
	db *bolt.DB
}

// NewLocalStore opens (creating if absent) the bucket used for skill
// metadata rows, keyed by skill_id.
func NewLocalStore(path string) (*LocalStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt metadata store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create metadata bucket: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error { return s.db.Close() }

func (s *LocalStore) Put(ctx context.Context, m Meta) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal skill metadata %q: %w", m.SkillID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(m.SkillID), data)
	})
}

func (s *LocalStore) Get(ctx context.Context, skillID string) (*Meta, error) {
	var m Meta
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get([]byte(skillID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("get skill metadata %q: %w", skillID, err)
	}
	if !found {
		return nil, apierr.ErrNotFound
	}
	return &m, nil
}

func (s *LocalStore) List(ctx context.Context, status Status) ([]Meta, error) {
	var out []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, v []byte) error {
			var m Meta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if status == "" || m.Status == status {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list skill metadata: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *LocalStore) Delete(ctx context.Context, skillID string) error {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if b.Get([]byte(skillID)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(skillID))
	})
	if err != nil {
		return fmt.Errorf("delete skill metadata %q: %w", skillID, err)
	}
	if !existed {
		return apierr.ErrNotFound
	}
	return nil
}

// Ping verifies the underlying bolt file is still open and its metadata
// bucket reachable.
func (s *LocalStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(metaBucket) == nil {
			return fmt.Errorf("metadata bucket missing")
		}
		return nil
	})
}

func (s *LocalStore) IncrementInvocation(ctx context.Context, skillID string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		data := b.Get([]byte(skillID))
		if data == nil {
			return nil
		}
		var m Meta
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.InvocationCount++
		m.LastInvokedAt = &at
		m.UpdatedAt = time.Now().UTC()
		encoded, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(skillID), encoded)
	})
}
