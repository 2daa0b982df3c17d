package skill

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
)

const (
	// MaxFileBytes is the per-file size ceiling (scripts and any other file).
	MaxFileBytes = 1 << 20 // 1 MiB
	// MaxPackageBytes is the total package size ceiling.
	MaxPackageBytes = 10 << 20 // 10 MiB
	// MaxManifestBytes is SKILL.md's own size ceiling.
	MaxManifestBytes = 100 << 10 // 100 KiB
)

// Loader parses and validates a skill package directory into a Skill.
// It is the implementation of component C4 from spec §4.4.
type Loader struct {
	logger *slog.Logger
}

// NewLoader constructs a Loader.
func NewLoader() *Loader {
	return &Loader{logger: slog.Default()}
}

// Load reads a skill package from pkgFS (a directory tree rooted at the
// package root containing SKILL.md, scripts/, references/, assets/) and
// returns a canonical Skill. On validation failure the returned Skill has
// Status == StatusError and LoadError explains why; err is non-nil only
// for unrecoverable I/O failures that prevent producing any Skill at all.
//
// Load is idempotent: identical bytes always produce a structurally equal
// Skill (modulo CreatedAt/UpdatedAt, which Load stamps with the current
// time).
func (l *Loader) Load(id string, version int, pkgFS fs.FS) (*Skill, error) {
	now := time.Now().UTC()
	base := &Skill{
		ID:        id,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}

	manifestBytes, err := fs.ReadFile(pkgFS, "SKILL.md")
	if err != nil {
		return errored(base, fmt.Sprintf("SKILL.md not found: %v", err)), nil
	}
	if len(manifestBytes) > MaxManifestBytes {
		return errored(base, fmt.Sprintf("SKILL.md exceeds %d bytes", MaxManifestBytes)), nil
	}

	frontMatter, body, err := SplitFrontMatter(manifestBytes)
	if err != nil {
		return errored(base, err.Error()), nil
	}

	manifest, verrs := ParseManifest(frontMatter)
	if verrs.HasErrors() {
		return errored(base, verrs.Error()), nil
	}
	if !ValidID(id) {
		return errored(base, fmt.Sprintf("skill id %q does not match ^[a-z][a-z0-9-]{2,49}$", id)), nil
	}

	base.Manifest = manifest
	base.Instructions = string(body)

	scripts, refs, assets, totalBytes, loadErr := l.collectFiles(pkgFS)
	if loadErr != "" {
		return errored(base, loadErr), nil
	}
	if totalBytes+int64(len(manifestBytes)) > MaxPackageBytes {
		return errored(base, fmt.Sprintf("package exceeds %d bytes total", MaxPackageBytes)), nil
	}

	if hits := ScanForCredentials(manifestBytes); len(hits) > 0 {
		return errored(base, fmt.Sprintf("SKILL.md appears to contain hardcoded credentials: %s", strings.Join(hits, ", "))), nil
	}

	base.Scripts = scripts
	base.References = refs
	base.Assets = assets
	base.Status = StatusActive
	return base, nil
}

func errored(base *Skill, reason string) *Skill {
	base.Status = StatusError
	base.LoadError = reason
	return base
}

// collectFiles walks scripts/, references/, assets/ directories, enforcing
// per-file size limits, path-traversal safety, and best-effort credential
// scanning on script contents.
func (l *Loader) collectFiles(pkgFS fs.FS) (scripts, refs, assets []FileEntry, totalBytes int64, loadErr string) {
	dirs := []struct {
		name FileCategory
		dir  string
		dst  *[]FileEntry
	}{
		{CategoryScript, "scripts", &scripts},
		{CategoryReference, "references", &refs},
		{CategoryAsset, "assets", &assets},
	}

	for _, d := range dirs {
		err := fs.WalkDir(pkgFS, d.dir, func(p string, de fs.DirEntry, err error) error {
			if err != nil {
				if strings.Contains(err.Error(), "file does not exist") {
					return nil // category directory is optional
				}
				return err
			}
			if de.IsDir() {
				return nil
			}
			if !SafeRelPath(p) {
				return fmt.Errorf("file %q resolves outside the package root", p)
			}
			info, err := de.Info()
			if err != nil {
				return err
			}
			size := info.Size()
			if size > MaxFileBytes {
				return fmt.Errorf("file %q exceeds %d bytes", p, MaxFileBytes)
			}
			if d.name == CategoryScript {
				content, rerr := fs.ReadFile(pkgFS, p)
				if rerr == nil {
					if hits := ScanForCredentials(content); len(hits) > 0 {
						return fmt.Errorf("script %q appears to contain hardcoded credentials: %s", p, strings.Join(hits, ", "))
					}
				}
			}
			totalBytes += size
			*d.dst = append(*d.dst, FileEntry{Path: path.Clean(p), Bytes: size})
			return nil
		})
		if err != nil {
			return nil, nil, nil, 0, err.Error()
		}
	}
	return scripts, refs, assets, totalBytes, ""
}

// ErrNotFound mirrors apierr.ErrNotFound for callers that only import skill.
var ErrNotFound = apierr.ErrNotFound
