// Package catalog implements C5: the authoritative in-process view of
// loaded skills, with publish/rollback/reload/unload against C1+C2 and a
// background pull-based refresh loop for cross-instance synchronization
// (spec §4.5, §9 "Cross-instance sync").
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/comdaze/openmcpskills/pkg/skill"
	"github.com/robfig/cron/v3"
)

// idLock hands out one mutex per skill id so mutating operations on
// different skills run in parallel while same-id operations serialize
// (spec §4.5 "Concurrency").
type idLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLock() *idLock { return &idLock{locks: make(map[string]*sync.Mutex)} }

func (l *idLock) acquire(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Catalog is the C5 component.
type Catalog struct {
	objects  objectstore.Store
	meta     metadatastore.Store
	loader   *skill.Loader
	logger   *slog.Logger
	cacheDir string

	refreshInterval time.Duration

	mu     sync.RWMutex
	skills map[string]*skill.Skill

	locks *idLock

	cron     *cron.Cron
	entryID  cron.EntryID
	stopOnce sync.Once
}

// Config bundles the refresh interval and local cache directory used for
// materializing object-store bytes onto disk before loading.
type Config struct {
	RefreshInterval time.Duration // CATALOG_REFRESH_SECONDS
	CacheDir        string        // SKILL_CACHE_DIR
}

// New constructs a Catalog. Call Boot before serving traffic, then Start
// to begin the background refresh loop.
func New(objects objectstore.Store, meta metadatastore.Store, cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 60 * time.Second
	}
	return &Catalog{
		objects:         objects,
		meta:            meta,
		loader:          skill.NewLoader(),
		logger:          logger,
		cacheDir:        cfg.CacheDir,
		refreshInterval: cfg.RefreshInterval,
		skills:          make(map[string]*skill.Skill),
		locks:           newIDLock(),
		cron:            cron.New(),
	}
}

// Boot pulls every active skill from MetadataStore, fetches its latest
// version's bytes from ObjectStore, and loads it via SkillLoader.
// Individual failures do not abort boot; they populate the in-memory map
// with a status=error entry (spec §4.5).
func (c *Catalog) Boot(ctx context.Context) error {
	actives, err := c.meta.List(ctx, metadatastore.StatusActive)
	if err != nil {
		return fmt.Errorf("boot: list active skills: %w", err)
	}

	activeVersions := make(map[string]int, len(actives))
	for _, m := range actives {
		s := c.loadVersion(ctx, m.SkillID, m.Version)
		c.mu.Lock()
		c.skills[m.SkillID] = s
		c.mu.Unlock()
		activeVersions[m.SkillID] = m.Version
	}

	if c.cacheDir != "" {
		if n, err := c.objects.SyncAll(ctx, c.cacheDir, activeVersions); err != nil {
			c.logger.Warn("local cache sync failed, continuing with in-memory skills only", "error", err)
		} else {
			c.logger.Info("synced active skill files to local cache", "cache_dir", c.cacheDir, "files", n)
		}
	}

	c.logger.Info("catalog boot complete", "skill_count", len(actives))
	return nil
}

// loadVersion fetches and loads one version, returning an error-status
// Skill (never a nil pointer) on any failure so boot/refresh can proceed.
func (c *Catalog) loadVersion(ctx context.Context, skillID string, version int) *skill.Skill {
	tree, err := c.objects.GetVersion(ctx, skillID, version)
	if err != nil {
		return &skill.Skill{ID: skillID, Version: version, Status: skill.StatusError,
			LoadError: fmt.Sprintf("fetch version %d: %v", version, err)}
	}

	s, err := c.loader.Load(skillID, version, objectstore.NewFS(tree))
	if err != nil {
		return &skill.Skill{ID: skillID, Version: version, Status: skill.StatusError,
			LoadError: fmt.Sprintf("load version %d: %v", version, err)}
	}
	return s
}

// Get returns the in-memory skill for id, or apierr.ErrNotFound.
func (c *Catalog) Get(id string) (*skill.Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[id]
	if !ok {
		return nil, apierr.ErrNotFound
	}
	return s.Clone(), nil
}

// List returns a snapshot of every loaded skill.
func (c *Catalog) List() []*skill.Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*skill.Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s.Clone())
	}
	return out
}

// RecordInvocation updates the in-memory counters on a Skill after a
// tools/call completes (spec §4.7). It does not touch MetadataStore;
// callers are responsible for the fire-and-forget counter increment there.
func (c *Catalog) RecordInvocation(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.skills[id]
	if !ok {
		return
	}
	s.InvocationCount++
	s.LastInvokedAt = &at
}

// Publish unpacks a skill package (tree keyed by relative path within the
// package root), validates it, assigns the next version number, writes it
// through C1 then C2, and only then flips the in-memory entry (spec §4.5).
func (c *Catalog) Publish(ctx context.Context, id string, tree objectstore.FileTree) (*skill.Skill, error) {
	release := c.locks.acquire(id)
	defer release()

	next, err := c.nextVersion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("publish %q: determine next version: %w", id, err)
	}

	// Validate before writing anything durable.
	candidate, loadErr := c.loader.Load(id, next, objectstore.NewFS(tree))
	if loadErr != nil {
		return nil, fmt.Errorf("publish %q: %w", id, loadErr)
	}
	if candidate.Status == skill.StatusError {
		return nil, apierr.New(apierr.KindInvalidManifest, candidate.LoadError)
	}

	if _, err := c.objects.PutVersion(ctx, id, next, tree); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "write version to object store", err)
	}

	allVersions, err := c.allVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("publish %q: %w", id, err)
	}
	allVersions = append(allVersions, next)

	manifestJSON, err := json.Marshal(candidate.Manifest)
	if err != nil {
		return nil, fmt.Errorf("publish %q: marshal manifest: %w", id, err)
	}

	if err := c.meta.Put(ctx, metadatastore.Meta{
		SkillID:      id,
		Version:      next,
		AllVersions:  allVersions,
		Status:       metadatastore.StatusActive,
		ManifestJSON: string(manifestJSON),
	}); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "write skill metadata", err)
	}

	if err := c.objects.WriteLatest(ctx, id, objectstore.LatestPointer{
		Version:     next,
		PublishedAt: time.Now().UTC(),
	}); err != nil {
		// The C1 objects for this version are now orphaned but harmless;
		// the in-memory map is left unchanged per spec §4.5.
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "commit latest pointer", err)
	}

	candidate.Status = skill.StatusActive
	c.mu.Lock()
	c.skills[id] = candidate
	c.mu.Unlock()

	return candidate.Clone(), nil
}

// Rollback points id at an already-published target_version without
// allocating a new version number (spec §4.5).
func (c *Catalog) Rollback(ctx context.Context, id string, targetVersion int) (*skill.Skill, error) {
	release := c.locks.acquire(id)
	defer release()

	versions, err := c.objects.ListVersions(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "list versions", err)
	}
	found := false
	for _, v := range versions {
		if v == targetVersion {
			found = true
			break
		}
	}
	if !found {
		return nil, apierr.New(apierr.KindInvalidManifest, fmt.Sprintf("version %d was never published for %q", targetVersion, id))
	}

	s := c.loadVersion(ctx, id, targetVersion)
	if s.Status == skill.StatusError {
		return nil, apierr.New(apierr.KindInvalidManifest, s.LoadError)
	}

	manifestJSON, err := json.Marshal(s.Manifest)
	if err != nil {
		return nil, fmt.Errorf("rollback %q: marshal manifest: %w", id, err)
	}

	existing, err := c.meta.Get(ctx, id)
	var allVersions []int
	if err == nil {
		allVersions = existing.AllVersions
	} else {
		allVersions = versions
	}

	if err := c.meta.Put(ctx, metadatastore.Meta{
		SkillID: id, Version: targetVersion, AllVersions: allVersions,
		Status: metadatastore.StatusActive, ManifestJSON: string(manifestJSON),
	}); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "write skill metadata", err)
	}

	if err := c.objects.WriteLatest(ctx, id, objectstore.LatestPointer{
		Version: targetVersion, PublishedAt: time.Now().UTC(),
	}); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "commit latest pointer", err)
	}

	c.mu.Lock()
	c.skills[id] = s
	c.mu.Unlock()

	return s.Clone(), nil
}

// Reload re-reads the currently active version from ObjectStore and
// replaces the in-memory entry.
func (c *Catalog) Reload(ctx context.Context, id string) (*skill.Skill, error) {
	release := c.locks.acquire(id)
	defer release()

	pointer, err := c.objects.ReadLatest(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageUnavailable, "read latest pointer", err)
	}
	s := c.loadVersion(ctx, id, pointer.Version)

	c.mu.Lock()
	c.skills[id] = s
	c.mu.Unlock()

	if s.Status == skill.StatusError {
		return s.Clone(), apierr.New(apierr.KindInvalidManifest, s.LoadError)
	}
	return s.Clone(), nil
}

// ReloadAll reloads every skill currently tracked in the in-memory map,
// returning the count successfully reloaded (admin "reload-all").
func (c *Catalog) ReloadAll(ctx context.Context) int {
	c.mu.RLock()
	ids := make([]string, 0, len(c.skills))
	for id := range c.skills {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if _, err := c.Reload(ctx, id); err == nil {
			n++
		}
	}
	return n
}

// Unload removes id from the in-memory map and marks its MetadataStore
// row inactive, leaving ObjectStore data intact (spec §4.5).
func (c *Catalog) Unload(ctx context.Context, id string) error {
	release := c.locks.acquire(id)
	defer release()

	c.mu.Lock()
	delete(c.skills, id)
	c.mu.Unlock()

	existing, err := c.meta.Get(ctx, id)
	if err != nil {
		if err == apierr.ErrNotFound {
			return nil
		}
		return fmt.Errorf("unload %q: %w", id, err)
	}
	existing.Status = metadatastore.StatusInactive
	return c.meta.Put(ctx, *existing)
}

// nextVersion computes max(existing)+1, or 1 if id has never been published.
func (c *Catalog) nextVersion(ctx context.Context, id string) (int, error) {
	versions, err := c.objects.ListVersions(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("list object store versions: %w", err)
	}
	max := 0
	for _, v := range versions {
		if v > max {
			max = v
		}
	}
	return max + 1, nil
}

func (c *Catalog) allVersions(ctx context.Context, id string) ([]int, error) {
	existing, err := c.meta.Get(ctx, id)
	if err != nil {
		if err == apierr.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read existing metadata: %w", err)
	}
	return append([]int(nil), existing.AllVersions...), nil
}

// Start begins the background pull-based refresh loop, scheduled via an
// "@every" cron entry rather than a bare ticker so the schedule can later
// grow calendar-based entries (e.g. off-peak compaction) on the same
// cron.Cron without a second goroutine.
func (c *Catalog) Start(ctx context.Context) {
	spec := fmt.Sprintf("@every %s", c.refreshInterval)
	id, err := c.cron.AddFunc(spec, func() {
		if err := c.refreshOnce(ctx); err != nil {
			c.logger.Warn("catalog refresh failed, retrying next interval", "error", err)
		}
	})
	if err != nil {
		c.logger.Error("failed to schedule catalog refresh, falling back to default interval", "error", err)
		id, _ = c.cron.AddFunc("@every 60s", func() {
			if err := c.refreshOnce(ctx); err != nil {
				c.logger.Warn("catalog refresh failed, retrying next interval", "error", err)
			}
		})
	}
	c.entryID = id
	c.cron.Start()
}

// Stop signals the refresh loop to stop and waits for the in-flight run,
// if any, to finish.
func (c *Catalog) Stop() {
	c.stopOnce.Do(func() {
		stopCtx := c.cron.Stop()
		<-stopCtx.Done()
	})
}

// refreshOnce re-reads MetadataStore's active list and loads any new or
// changed version (spec §4.5, §9 pull-based cross-instance sync).
func (c *Catalog) refreshOnce(ctx context.Context) error {
	actives, err := c.meta.List(ctx, metadatastore.StatusActive)
	if err != nil {
		return fmt.Errorf("list active skills: %w", err)
	}

	for _, m := range actives {
		c.mu.RLock()
		current, loaded := c.skills[m.SkillID]
		c.mu.RUnlock()

		if loaded && current.Version == m.Version && current.Status != skill.StatusError {
			continue
		}

		s := c.loadVersion(ctx, m.SkillID, m.Version)
		c.mu.Lock()
		c.skills[m.SkillID] = s
		c.mu.Unlock()
	}
	return nil
}
