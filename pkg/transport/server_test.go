package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/comdaze/openmcpskills/pkg/catalog"
	"github.com/comdaze/openmcpskills/pkg/invocationlog"
	"github.com/comdaze/openmcpskills/pkg/mcpengine"
	"github.com/comdaze/openmcpskills/pkg/mcpsession"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSkillTree(description string) objectstore.FileTree {
	return objectstore.FileTree{
		"SKILL.md": []byte("---\nname: echo\ndescription: " + description + "\n---\n\nEcho: {{msg}}\n"),
	}
}

func newTestServer(t *testing.T) (*Server, *catalog.Catalog) {
	objects := objectstore.NewMemoryStore()
	meta := metadatastore.NewMemoryStore()
	cat := catalog.New(objects, meta, catalog.Config{}, nil)
	t.Cleanup(cat.Stop)

	invStore := invocationlog.NewMemoryStore()
	invLog := invocationlog.New(invStore, nil)
	invLog.Start(context.Background())
	t.Cleanup(invLog.Stop)

	sessions := mcpsession.New(mcpsession.Config{}, nil)

	engine := mcpengine.New(cat, objects, meta, invLog, sessions, mcpengine.Config{ServerName: "openmcpskills"}, nil)
	srv := NewServer(engine, sessions, cat, meta, nil, Config{ServerName: "openmcpskills", ServerVersion: "test"}, nil)
	return srv, cat
}

func doPost(srv *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestTransport_InitializeAssignsSessionHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doPost(srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(sessionHeaderCanonical))
}

func TestTransport_AcceptsLowercaseSessionHeaderOnFollowup(t *testing.T) {
	srv, _ := newTestServer(t)

	initRec := doPost(srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	sessionID := initRec.Header().Get(sessionHeaderCanonical)
	require.NotEmpty(t, sessionID)

	rec := doPost(srv, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, map[string]string{sessionHeaderLowercase: sessionID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransport_MissingSessionOnNonInitializeFails(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doPost(srv, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransport_ToolsCallEndToEnd(t *testing.T) {
	srv, cat := newTestServer(t)
	_, err := cat.Publish(context.Background(), "echo", echoSkillTree("echoes the given message"))
	require.NoError(t, err)

	initRec := doPost(srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	sessionID := initRec.Header().Get(sessionHeaderCanonical)

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}`
	rec := doPost(srv, body, map[string]string{sessionHeaderCanonical: sessionID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp mcpengine.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestTransport_DeleteClosesSession(t *testing.T) {
	srv, _ := newTestServer(t)
	initRec := doPost(srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	sessionID := initRec.Header().Get(sessionHeaderCanonical)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionHeaderCanonical, sessionID)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec2 := doPost(srv, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, map[string]string{sessionHeaderCanonical: sessionID})
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestTransport_HealthReadyInfo(t *testing.T) {
	srv, cat := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "empty catalog should not be ready")

	_, err := cat.Publish(context.Background(), "echo", echoSkillTree("echoes the given message"))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "openmcpskills", info.Name)
}
