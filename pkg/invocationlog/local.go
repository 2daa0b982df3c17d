package invocationlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
)

var eventBucket = []byte("invocation_events")

// LocalStore is the C3 backend used when STORAGE_BACKEND=local. Keys are
// "{skill_id}/{invoked_at}" so a prefix scan yields one skill's events
// in invoked_at order.
type LocalStore struct {
	db *bolt.DB
}

// NewLocalStore opens (creating if absent) the bucket used for
// invocation events.
func NewLocalStore(path string) (*LocalStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt invocation log: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create invocation event bucket: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error { return s.db.Close() }

func eventKey(ev Event) []byte {
	return []byte(ev.SkillID + "/" + ev.InvokedAt)
}

func (s *LocalStore) Append(ctx context.Context, events []Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventBucket)
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := b.Put(eventKey(ev), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *LocalStore) Query(ctx context.Context, skillID string, since *time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	prefix := []byte(skillID + "/")

	var out []Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if since != nil && ev.InvokedAt < since.UTC().Format(sortableTimestampLayout) {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query invocation events for %q: %w", skillID, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].InvokedAt > out[j].InvokedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LocalStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	nowUnix := now.Unix()
	var deleted int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if ev.ExpiresAt < nowUnix {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
