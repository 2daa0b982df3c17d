package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	bolt "github.com/boltdb/bolt"

	"github.com/comdaze/openmcpskills/pkg/apierr"
)

var (
	objectsBucket = []byte("objects")
	latestBucket  = []byte("latest")
)

// LocalStore is the single-instance/dev ObjectStore backend: every object
// (version file, latest.json pointer, upload scratch blob) lives as a key
// in a single boltdb file. Selected via STORAGE_BACKEND=local.
type LocalStore struct {
	db *bolt.DB
}

// NewLocalStore opens (creating if absent) a boltdb file at path.
func NewLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating object store directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening local object store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(objectsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(latestBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing local object store buckets: %w", err)
	}
	return &LocalStore{db: db}, nil
}

// Close releases the underlying boltdb file handle.
func (s *LocalStore) Close() error { return s.db.Close() }

func (s *LocalStore) PutVersion(_ context.Context, skillID string, version int, tree FileTree) (string, error) {
	prefix := VersionKey(skillID, version)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		for rel, data := range tree {
			if err := b.Put([]byte(prefix+rel), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("writing version %d for %s: %w", version, skillID, err)
	}
	return prefix, nil
}

func (s *LocalStore) GetVersion(_ context.Context, skillID string, version int) (FileTree, error) {
	prefix := VersionKey(skillID, version)
	tree := FileTree{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			rel := string(k)[len(prefix):]
			cp := make([]byte, len(v))
			copy(cp, v)
			tree[rel] = cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(tree) == 0 {
		return nil, apierr.ErrNotFound
	}
	return tree, nil
}

func (s *LocalStore) ListVersions(_ context.Context, skillID string) ([]int, error) {
	prefix := fmt.Sprintf("skills/%s/v", skillID)
	found := map[int]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		c := b.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if n, ok := ParseVersionFromKey(skillID, string(k)); ok {
				found[n] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedInts(found), nil
}

func (s *LocalStore) DeleteVersion(_ context.Context, skillID string, version int) error {
	prefix := VersionKey(skillID, version)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			cp := make([]byte, len(k))
			copy(cp, k)
			toDelete = append(toDelete, cp)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *LocalStore) WriteLatest(_ context.Context, skillID string, pointer LatestPointer) error {
	data, err := marshalLatest(pointer)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(latestBucket).Put([]byte(skillID), data)
	})
}

func (s *LocalStore) ReadLatest(_ context.Context, skillID string) (LatestPointer, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(latestBucket).Get([]byte(skillID))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return LatestPointer{}, err
	}
	if data == nil {
		return LatestPointer{}, apierr.ErrNotFound
	}
	return unmarshalLatest(data)
}

func (s *LocalStore) PutUpload(_ context.Context, uploadID string, data []byte) error {
	key := UploadKey(uploadID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Put([]byte(key), data)
	})
}

func (s *LocalStore) SyncAll(ctx context.Context, localCacheDir string, activeVersions map[string]int) (int, error) {
	count := 0
	for skillID, version := range activeVersions {
		tree, err := s.GetVersion(ctx, skillID, version)
		if err != nil {
			return count, fmt.Errorf("syncing %s v%d: %w", skillID, version, err)
		}
		destDir := filepath.Join(localCacheDir, skillID, fmt.Sprintf("v%d", version))
		for rel, data := range tree {
			dest := filepath.Join(destDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return count, err
			}
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func hasPrefix(k []byte, prefix string) bool {
	if len(k) < len(prefix) {
		return false
	}
	return string(k[:len(prefix)]) == prefix
}
