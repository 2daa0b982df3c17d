// Package admin implements the REST admin surface (spec §6, prefix
// `/admin`): skill list/get/upload/reload/unload/versions/rollback/logs.
// It bypasses MCP session state entirely — these are plain REST calls.
package admin

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/comdaze/openmcpskills/pkg/auth"
	"github.com/comdaze/openmcpskills/pkg/catalog"
	"github.com/comdaze/openmcpskills/pkg/invocationlog"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/comdaze/openmcpskills/pkg/skill"
	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds the raw multipart body read before unzipping, one
// layer above skill.MaxPackageBytes to allow for zip container overhead.
const maxUploadBytes = skill.MaxPackageBytes + (1 << 20)

// Handler wires the admin REST surface onto C5 (catalog), C3
// (invocation log), and C1 (object store, for the version listing,
// which is not cached on the in-memory Skill).
type Handler struct {
	catalog  *catalog.Catalog
	invLog   *invocationlog.Log
	objects  objectstore.Store
	verifier auth.Verifier
}

// NewHandler constructs an admin Handler.
func NewHandler(cat *catalog.Catalog, invLog *invocationlog.Log, objects objectstore.Store, verifier auth.Verifier) *Handler {
	if verifier == nil {
		verifier = auth.NoopVerifier{}
	}
	return &Handler{catalog: cat, invLog: invLog, objects: objects, verifier: verifier}
}

// Register mounts the admin routes under router's "/admin" group.
func (h *Handler) Register(router gin.IRouter) {
	g := router.Group("/admin", h.requireAdminScope)
	g.GET("/skills", h.listSkills)
	g.GET("/skills/:id", h.getSkill)
	g.GET("/skills/:id/instructions", h.getInstructions)
	g.GET("/skills/:id/logs", h.getLogs)
	g.GET("/skills/:id/versions", h.getVersions)
	g.POST("/skills/:id/reload", h.reloadSkill)
	g.POST("/skills/:id/rollback", h.rollbackSkill)
	g.DELETE("/skills/:id", h.deleteSkill)
	g.POST("/skills/upload", h.uploadSkill)
	g.POST("/skills/validate", h.validateSkill)
	g.POST("/skills/reload-all", h.reloadAll)
}

func (h *Handler) requireAdminScope(c *gin.Context) {
	if _, ok := h.verifier.(auth.NoopVerifier); ok {
		c.Next()
		return
	}
	_, err := auth.RequireScope(h.verifier, c.Request, "admin")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apierr.KindOf(err) {
	case apierr.KindInvalidManifest, apierr.KindPackageTooLarge:
		status = http.StatusBadRequest
	case apierr.KindToolNotFound:
		status = http.StatusNotFound
	case apierr.KindStorageUnavailable:
		status = http.StatusServiceUnavailable
	}
	if errors.Is(err, apierr.ErrNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type skillSummary struct {
	ID              string     `json:"id"`
	Version         int        `json:"version"`
	Status          string     `json:"status"`
	Description     string     `json:"description"`
	UserInvocable   bool       `json:"user_invocable"`
	InvocationCount int64      `json:"invocation_count"`
	LastInvokedAt   *time.Time `json:"last_invoked_at,omitempty"`
}

func summarize(s *skill.Skill) skillSummary {
	return skillSummary{
		ID:              s.ID,
		Version:         s.Version,
		Status:          string(s.Status),
		Description:     s.Manifest.Description,
		UserInvocable:   s.Manifest.IsUserInvocable(),
		InvocationCount: s.InvocationCount,
		LastInvokedAt:   s.LastInvokedAt,
	}
}

// GET /admin/skills
func (h *Handler) listSkills(c *gin.Context) {
	all := h.catalog.List()
	summaries := make([]skillSummary, 0, len(all))
	for _, s := range all {
		summaries = append(summaries, summarize(s))
	}
	c.JSON(http.StatusOK, gin.H{"skills": summaries})
}

// GET /admin/skills/:id
func (h *Handler) getSkill(c *gin.Context) {
	s, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skill": summarize(s)})
}

// GET /admin/skills/:id/instructions
func (h *Handler) getInstructions(c *gin.Context) {
	s, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": s.Instructions})
}

// GET /admin/skills/:id/logs?limit=N
func (h *Handler) getLogs(c *gin.Context) {
	id := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}

	events, err := h.invLog.Query(c.Request.Context(), id, nil, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": events})
}

// GET /admin/skills/:id/versions
func (h *Handler) getVersions(c *gin.Context) {
	id := c.Param("id")
	versions, err := h.objects.ListVersions(c.Request.Context(), id)
	if err != nil {
		writeError(c, apierr.Wrap(apierr.KindStorageUnavailable, "failed to list versions", err))
		return
	}

	type versionEntry struct {
		Version int `json:"version"`
	}
	out := make([]versionEntry, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionEntry{Version: v})
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// POST /admin/skills/:id/reload
func (h *Handler) reloadSkill(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.catalog.Reload(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type rollbackRequest struct {
	Version int `json:"version" binding:"required"`
}

// POST /admin/skills/:id/rollback
func (h *Handler) rollbackSkill(c *gin.Context) {
	id := c.Param("id")
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.catalog.Rollback(c.Request.Context(), id, req.Version); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DELETE /admin/skills/:id
func (h *Handler) deleteSkill(c *gin.Context) {
	id := c.Param("id")
	if err := h.catalog.Unload(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// readZipUpload extracts the "file" multipart field into a FileTree,
// rejecting anything over maxUploadBytes before ever unzipping it.
func readZipUpload(c *gin.Context) (objectstore.FileTree, error) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidManifest, "missing multipart field \"file\"", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "failed to read upload", err)
	}
	if len(data) > maxUploadBytes {
		return nil, apierr.New(apierr.KindPackageTooLarge, "upload exceeds size limit")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidManifest, "not a valid zip archive", err)
	}

	tree := make(objectstore.FileTree, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidManifest, "failed to read zip entry "+f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, skill.MaxFileBytes+1))
		rc.Close()
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "failed to read zip entry "+f.Name, err)
		}
		tree[f.Name] = content
	}
	return tree, nil
}

// manifestName extracts the "name" field from tree's SKILL.md front matter,
// which is the id a published skill is published under (spec's upload
// example publishes under the manifest's own name, with no id supplied).
func manifestName(tree objectstore.FileTree) (string, error) {
	raw, ok := tree["SKILL.md"]
	if !ok {
		return "", apierr.New(apierr.KindInvalidManifest, "zip does not contain SKILL.md")
	}
	frontMatter, _, err := skill.SplitFrontMatter(raw)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidManifest, "malformed SKILL.md", err)
	}
	manifest, errs := skill.ParseManifest(frontMatter)
	if len(errs) > 0 {
		return "", apierr.New(apierr.KindInvalidManifest, errs.Error())
	}
	return manifest.Name, nil
}

// POST /admin/skills/upload — multipart zip; {id, version}
func (h *Handler) uploadSkill(c *gin.Context) {
	tree, err := readZipUpload(c)
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := manifestName(tree)
	if err != nil {
		writeError(c, err)
		return
	}

	s, err := h.catalog.Publish(c.Request.Context(), id, tree)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": s.ID, "version": s.Version})
}

// POST /admin/skills/validate — multipart zip; dry-run, {valid, errors}
func (h *Handler) validateSkill(c *gin.Context) {
	tree, err := readZipUpload(c)
	if err != nil {
		writeError(c, err)
		return
	}

	loader := skill.NewLoader()
	candidate, err := loader.Load("validate-dry-run", 0, objectstore.NewFS(tree))
	if err != nil {
		writeError(c, apierr.Wrap(apierr.KindInternal, "failed to evaluate package", err))
		return
	}

	if candidate.Status == skill.StatusError {
		c.JSON(http.StatusOK, gin.H{"valid": false, "errors": []string{candidate.LoadError}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "errors": []string{}})
}

// POST /admin/skills/reload-all — {reloaded:N}
func (h *Handler) reloadAll(c *gin.Context) {
	n := h.catalog.ReloadAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"reloaded": n})
}
