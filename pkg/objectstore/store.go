// Package objectstore implements component C1 from spec §4.1: content
// storage of versioned skill packages, keyed as described in spec §6
// ("skills/{id}/v{n}/<relative-path>" plus "skills/{id}/latest.json").
package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LatestPointer is the commit record written last during a publish.
type LatestPointer struct {
	Version     int       `json:"version"`
	PublishedAt time.Time `json:"published_at"`
}

// FileTree maps a relative path within a version directory to its bytes.
type FileTree map[string][]byte

// Store is the C1 contract. Implementations must guarantee: version
// directories are immutable once written, and latest.json is the last
// object written during a publish (the commit point).
type Store interface {
	// PutVersion writes every file in tree under skills/{id}/v{n}/ and
	// returns the object key prefix used.
	PutVersion(ctx context.Context, skillID string, version int, tree FileTree) (string, error)
	// GetVersion returns the full file set under skills/{id}/v{n}/.
	GetVersion(ctx context.Context, skillID string, version int) (FileTree, error)
	// ListVersions returns every version number that has been written for id.
	ListVersions(ctx context.Context, skillID string) ([]int, error)
	// DeleteVersion removes a version directory entirely.
	DeleteVersion(ctx context.Context, skillID string, version int) error
	// WriteLatest commits latest.json; this must be called after PutVersion
	// and is the publish commit point (spec §4.1).
	WriteLatest(ctx context.Context, skillID string, pointer LatestPointer) error
	// ReadLatest returns the current commit pointer, or apierr.ErrNotFound.
	ReadLatest(ctx context.Context, skillID string) (LatestPointer, error)
	// PutUpload stores scratch upload bytes under uploads/{uuid}.zip.
	PutUpload(ctx context.Context, uploadID string, data []byte) error
	// SyncAll mirrors every active version into localCacheDir, returning
	// the number of files written (spec §4.1 sync_all).
	SyncAll(ctx context.Context, localCacheDir string, activeVersions map[string]int) (int, error)
}

// VersionKey builds the "skills/{id}/v{n}/" prefix.
func VersionKey(skillID string, version int) string {
	return fmt.Sprintf("skills/%s/v%d/", skillID, version)
}

// LatestKey builds the "skills/{id}/latest.json" key.
func LatestKey(skillID string) string {
	return fmt.Sprintf("skills/%s/latest.json", skillID)
}

// UploadKey builds the "uploads/{uuid}.zip" scratch key.
func UploadKey(uploadID string) string {
	return fmt.Sprintf("uploads/%s.zip", uploadID)
}

// ParseVersionFromKey extracts n from a "skills/{id}/vN/..." key, or ok=false.
func ParseVersionFromKey(skillID, key string) (n int, ok bool) {
	prefix := fmt.Sprintf("skills/%s/v", skillID)
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	rest := key[len(prefix):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:slash])
	if err != nil {
		return 0, false
	}
	return n, true
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// NewFS adapts a FileTree into an fs.FS rooted at the version prefix,
// for handing straight to skill.Loader.
type treeFS struct{ tree FileTree }

func NewFS(tree FileTree) fs.FS { return treeFS{tree: tree} }

func (t treeFS) Open(name string) (fs.File, error) {
	if name == "." {
		return &dirFile{name: ".", tree: t.tree}, nil
	}
	if data, ok := t.tree[name]; ok {
		return &memFile{name: name, data: data}, nil
	}
	// Support directory-listing style reads used by fs.WalkDir for the
	// scripts/references/assets category directories.
	prefix := name + "/"
	for k := range t.tree {
		if strings.HasPrefix(k, prefix) {
			return &dirFile{name: name, tree: t.tree}, nil
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// marshalLatest/unmarshalLatest are tiny helpers used by backends to serialize
// LatestPointer without pulling extra deps per backend file.
func marshalLatest(p LatestPointer) ([]byte, error) { return json.Marshal(p) }
func unmarshalLatest(b []byte) (LatestPointer, error) {
	var p LatestPointer
	err := json.Unmarshal(b, &p)
	return p, err
}
