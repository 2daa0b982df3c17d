package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	minio "github.com/minio/minio-go"

	"github.com/comdaze/openmcpskills/pkg/apierr"
)

// S3Config configures the remote, S3-compatible ObjectStore backend
// (STORAGE_BACKEND=remote).
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Prefix          string // OBJECT_STORE_PREFIX, prepended to every key
}

// S3Store stores skill objects in an S3-compatible bucket via minio-go,
// the client library this pack's storj.io/storj teacher-adjacent repo
// depends on for the same concern.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store connects to the configured S3-compatible endpoint and ensures
// the target bucket exists.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}
	exists, err := client.BucketExists(cfg.Bucket)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "checking bucket existence", err)
	}
	if !exists {
		if err := client.MakeBucket(cfg.Bucket, ""); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageUnavailable, "creating bucket", err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + k
}

func (s *S3Store) PutVersion(_ context.Context, skillID string, version int, tree FileTree) (string, error) {
	prefix := VersionKey(skillID, version)
	for rel, data := range tree {
		objKey := s.key(prefix + rel)
		_, err := s.client.PutObject(s.bucket, objKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
		if err != nil {
			return "", apierr.Wrap(apierr.KindStorageUnavailable, "writing object "+objKey, err)
		}
	}
	return prefix, nil
}

func (s *S3Store) GetVersion(_ context.Context, skillID string, version int) (FileTree, error) {
	prefix := s.key(VersionKey(skillID, version))
	tree := FileTree{}
	doneCh := make(chan struct{})
	defer close(doneCh)
	for obj := range s.client.ListObjects(s.bucket, prefix, true, doneCh) {
		if obj.Err != nil {
			return nil, apierr.Wrap(apierr.KindStorageUnavailable, "listing objects", obj.Err)
		}
		o, err := s.client.GetObject(s.bucket, obj.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageUnavailable, "reading object "+obj.Key, err)
		}
		data, err := io.ReadAll(o)
		_ = o.Close()
		if err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		tree[rel] = data
	}
	if len(tree) == 0 {
		return nil, apierr.ErrNotFound
	}
	return tree, nil
}

func (s *S3Store) ListVersions(_ context.Context, skillID string) ([]int, error) {
	prefix := s.key(fmt.Sprintf("skills/%s/v", skillID))
	found := map[int]bool{}
	doneCh := make(chan struct{})
	defer close(doneCh)
	for obj := range s.client.ListObjects(s.bucket, prefix, true, doneCh) {
		if obj.Err != nil {
			return nil, apierr.Wrap(apierr.KindStorageUnavailable, "listing versions", obj.Err)
		}
		key := strings.TrimPrefix(obj.Key, s.keyPrefixTrim())
		if n, ok := ParseVersionFromKey(skillID, key); ok {
			found[n] = true
		}
	}
	return sortedInts(found), nil
}

func (s *S3Store) keyPrefixTrim() string {
	if s.prefix == "" {
		return ""
	}
	return strings.TrimSuffix(s.prefix, "/") + "/"
}

func (s *S3Store) DeleteVersion(_ context.Context, skillID string, version int) error {
	prefix := s.key(VersionKey(skillID, version))
	doneCh := make(chan struct{})
	defer close(doneCh)
	for obj := range s.client.ListObjects(s.bucket, prefix, true, doneCh) {
		if obj.Err != nil {
			return apierr.Wrap(apierr.KindStorageUnavailable, "listing for delete", obj.Err)
		}
		if err := s.client.RemoveObject(s.bucket, obj.Key); err != nil {
			return apierr.Wrap(apierr.KindStorageUnavailable, "removing object "+obj.Key, err)
		}
	}
	return nil
}

func (s *S3Store) WriteLatest(_ context.Context, skillID string, pointer LatestPointer) error {
	data, err := marshalLatest(pointer)
	if err != nil {
		return err
	}
	objKey := s.key(LatestKey(skillID))
	_, err = s.client.PutObject(s.bucket, objKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return apierr.Wrap(apierr.KindStorageUnavailable, "writing latest pointer", err)
	}
	return nil
}

func (s *S3Store) ReadLatest(_ context.Context, skillID string) (LatestPointer, error) {
	objKey := s.key(LatestKey(skillID))
	o, err := s.client.GetObject(s.bucket, objKey, minio.GetObjectOptions{})
	if err != nil {
		return LatestPointer{}, apierr.ErrNotFound
	}
	defer o.Close()
	data, err := io.ReadAll(o)
	if err != nil || len(data) == 0 {
		return LatestPointer{}, apierr.ErrNotFound
	}
	return unmarshalLatest(data)
}

func (s *S3Store) PutUpload(_ context.Context, uploadID string, data []byte) error {
	objKey := s.key(UploadKey(uploadID))
	_, err := s.client.PutObject(s.bucket, objKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return apierr.Wrap(apierr.KindStorageUnavailable, "writing upload scratch object", err)
	}
	return nil
}

func (s *S3Store) SyncAll(ctx context.Context, localCacheDir string, activeVersions map[string]int) (int, error) {
	// Remote backend reads on demand; sync_all is a no-op cache warm for the
	// local dev backend only, matching spec §4.1's description of its use.
	return 0, nil
}
