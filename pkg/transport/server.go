// Package transport implements C8: the Streamable HTTP transport binding
// the JSON-RPC engine (C7) and session registry (C6) to the wire (spec
// §4.8).
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/comdaze/openmcpskills/pkg/auth"
	"github.com/comdaze/openmcpskills/pkg/catalog"
	"github.com/comdaze/openmcpskills/pkg/mcpengine"
	"github.com/comdaze/openmcpskills/pkg/mcpsession"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/gin-gonic/gin"
)

// sessionHeaderCanonical is the header name the server always emits.
const sessionHeaderCanonical = "Mcp-Session-Id"

// sessionHeaderLowercase is the legacy-revision variant the server must
// also accept on the way in (spec §4.8).
const sessionHeaderLowercase = "mcp-session-id"

// heartbeatInterval is how often GET /mcp emits an SSE comment to defeat
// intermediary idle timeouts (spec §4.8).
const heartbeatInterval = 15 * time.Second

// readyPingTimeout bounds how long GET /ready can block on a slow or
// unreachable metadata store (spec §4.8).
const readyPingTimeout = 2 * time.Second

// Info is the static payload served by GET /info.
type Info struct {
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	ProtocolVersions []string `json:"protocol_versions"`
	StorageBackend   string   `json:"storage_backend"`
}

// Config bundles the transport's tunables.
type Config struct {
	ServerName        string
	ServerVersion     string
	StorageBackend    string
	AllowEmptyCatalog bool // bypass the "at least one skill" readiness check
}

// Server wires C7+C6 onto HTTP via gin.
type Server struct {
	cfg      Config
	engine   *mcpengine.Engine
	sessions *mcpsession.Registry
	catalog  *catalog.Catalog
	meta     metadatastore.Store
	verifier auth.Verifier
	logger   *slog.Logger

	router     *gin.Engine
	httpServer *http.Server
}

// NewServer constructs a Server and registers all routes.
func NewServer(engine *mcpengine.Engine, sessions *mcpsession.Registry, cat *catalog.Catalog, meta metadatastore.Store, verifier auth.Verifier, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if verifier == nil {
		verifier = auth.NoopVerifier{}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, engine: engine, sessions: sessions, catalog: cat, meta: meta, verifier: verifier, logger: logger, router: router}
	s.setupRoutes()
	return s
}

// Router exposes the underlying gin engine so other HTTP surfaces (the
// admin REST API) can mount onto the same listener.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.POST("/mcp", s.handlePost)
	s.router.GET("/mcp", s.handleGet)
	s.router.DELETE("/mcp", s.handleDelete)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/info", s.handleInfo)
}

// Start serves on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func sessionIDFromHeader(c *gin.Context) string {
	if v := c.GetHeader(sessionHeaderCanonical); v != "" {
		return v
	}
	return c.GetHeader(sessionHeaderLowercase)
}

// resolveSession finds the session named by the request header, or — only
// for an `initialize` call with no header — creates one (spec §4.6).
func (s *Server) resolveSession(c *gin.Context, isInitialize bool) (*mcpsession.Session, error) {
	id := sessionIDFromHeader(c)
	if id == "" {
		if isInitialize {
			return s.sessions.Create(), nil
		}
		return nil, apierr.New(apierr.KindSessionNotFound, "missing Mcp-Session-Id header")
	}
	return s.sessions.Get(id)
}

func writeRPCError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"jsonrpc": "2.0", "error": gin.H{"code": -32000, "message": err.Error()}})
}

// handlePost implements POST /mcp: a single JSON-RPC request/notification
// or a batch array (spec §4.8).
func (s *Server) handlePost(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeRPCError(c, http.StatusBadRequest, err)
		return
	}

	var single mcpengine.Request
	var batch []mcpengine.Request
	isBatch := false
	if err := json.Unmarshal(body, &single); err != nil {
		if err := json.Unmarshal(body, &batch); err != nil {
			writeRPCError(c, http.StatusBadRequest, apierr.New(apierr.KindInternal, "malformed JSON-RPC payload"))
			return
		}
		isBatch = true
	}
	if !isBatch {
		batch = []mcpengine.Request{single}
	}

	isInitialize := len(batch) == 1 && batch[0].Method == "initialize"
	sess, err := s.resolveSession(c, isInitialize)
	if err != nil {
		writeRPCError(c, http.StatusNotFound, err)
		return
	}
	c.Header(sessionHeaderCanonical, sess.ID)

	responses := make([]*mcpengine.Response, 0, len(batch))
	for i := range batch {
		if resp := s.engine.Dispatch(c.Request.Context(), sess, &batch[i]); resp != nil {
			responses = append(responses, resp)
		}
	}

	if len(responses) == 0 {
		c.Status(http.StatusAccepted)
		return
	}

	wantsStream := strings.Contains(c.GetHeader("Accept"), "text/event-stream")
	if wantsStream {
		s.streamResponses(c, responses)
		return
	}

	if isBatch {
		c.JSON(http.StatusOK, responses)
		return
	}
	c.JSON(http.StatusOK, responses[0])
}

// streamResponses frames each JSON-RPC response as one SSE "message" event
// (spec §4.8: "each SSE event contains exactly one complete JSON-RPC
// message; partial writes are not permitted").
func (s *Server) streamResponses(c *gin.Context, responses []*mcpengine.Response) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	for _, resp := range responses {
		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		_, _ = c.Writer.Write([]byte("event: message\ndata: "))
		_, _ = c.Writer.Write(data)
		_, _ = c.Writer.Write([]byte("\n\n"))
		if ok {
			flusher.Flush()
		}
	}
}

// handleGet implements GET /mcp: a long-poll SSE stream of server-initiated
// notifications, heartbeating every 15s (spec §4.8).
func (s *Server) handleGet(c *gin.Context) {
	sess, err := s.resolveSession(c, false)
	if err != nil {
		writeRPCError(c, http.StatusNotFound, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header(sessionHeaderCanonical, sess.ID)

	flusher, canFlush := c.Writer.(http.Flusher)

	for _, n := range sess.DrainNotifications() {
		s.writeNotification(c, n, flusher, canFlush)
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			sess.Cancel()
			return
		case <-ticker.C:
			if _, err := c.Writer.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) writeNotification(c *gin.Context, n any, flusher http.Flusher, canFlush bool) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	_, _ = c.Writer.Write([]byte("event: message\ndata: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	if canFlush {
		flusher.Flush()
	}
}

// handleDelete implements DELETE /mcp: idempotent explicit session close.
func (s *Server) handleDelete(c *gin.Context) {
	id := sessionIDFromHeader(c)
	if id != "" {
		s.sessions.Close(id)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady reports readiness: C2 reachable, and at least one skill
// loaded or explicitly allowed to run with an empty catalog (spec §4.8).
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyPingTimeout)
	defer cancel()
	if err := s.meta.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not-ready", "reason": "metadata store unreachable"})
		return
	}
	if len(s.catalog.List()) == 0 && !s.cfg.AllowEmptyCatalog {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not-ready", "reason": "empty catalog"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, Info{
		Name:             s.cfg.ServerName,
		Version:          s.cfg.ServerVersion,
		ProtocolVersions: mcpsession.SupportedProtocolVersions,
		StorageBackend:   s.cfg.StorageBackend,
	})
}
