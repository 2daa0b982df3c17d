package mcpengine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/comdaze/openmcpskills/pkg/catalog"
	"github.com/comdaze/openmcpskills/pkg/invocationlog"
	"github.com/comdaze/openmcpskills/pkg/mcpsession"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSkillTree(description string) objectstore.FileTree {
	return objectstore.FileTree{
		"SKILL.md":           []byte("---\nname: echo\ndescription: " + description + "\n---\n\nEcho: {{msg}}\n"),
		"references/foo.md": []byte("# foo\n"),
	}
}

type testHarness struct {
	engine  *Engine
	catalog *catalog.Catalog
	meta    metadatastore.Store
	invLog  *invocationlog.Log
	regs    *mcpsession.Registry
}

func newHarness(t *testing.T) *testHarness {
	objects := objectstore.NewMemoryStore()
	meta := metadatastore.NewMemoryStore()
	cat := catalog.New(objects, meta, catalog.Config{}, nil)
	t.Cleanup(cat.Stop)

	invStore := invocationlog.NewMemoryStore()
	invLog := invocationlog.New(invStore, nil)
	invLog.Start(context.Background())
	t.Cleanup(invLog.Stop)

	regs := mcpsession.New(mcpsession.Config{}, nil)

	engine := New(cat, objects, meta, invLog, regs, Config{ServerName: "openmcpskills", ServerVersion: "test"}, nil)
	return &testHarness{engine: engine, catalog: cat, meta: meta, invLog: invLog, regs: regs}
}

func rawID(n int) json.RawMessage { b, _ := json.Marshal(n); return b }

func TestEngine_InitializeNegotiatesProtocolVersion(t *testing.T) {
	h := newHarness(t)
	sess := h.regs.Create()

	params, _ := json.Marshal(initializeParams{ProtocolVersion: "2025-06-18"})
	resp := h.engine.Dispatch(context.Background(), sess, &Request{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: params})

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	var result initializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "2025-06-18", result.ProtocolVersion)
	assert.Equal(t, mcpsession.StateActive, sess.State())
}

func TestEngine_InitializeUnsupportedVersionFails(t *testing.T) {
	h := newHarness(t)
	sess := h.regs.Create()

	params, _ := json.Marshal(initializeParams{ProtocolVersion: "2024-01-01"})
	resp := h.engine.Dispatch(context.Background(), sess, &Request{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: params})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol-mismatch", resp.Error.Data)
}

func TestEngine_ToolsListReturnsUserInvocableSkills(t *testing.T) {
	h := newHarness(t)
	_, err := h.catalog.Publish(context.Background(), "echo", echoSkillTree("echoes the given message back"))
	require.NoError(t, err)

	resp := h.engine.Dispatch(context.Background(), h.regs.Create(), &Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/list"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result toolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestEngine_ToolsCallRendersInstructionsAndRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.catalog.Publish(ctx, "echo", echoSkillTree("echoes the given message back"))
	require.NoError(t, err)

	sess := h.regs.Create()
	params, _ := json.Marshal(toolsCallParams{Name: "echo", Arguments: map[string]any{"msg": "hi"}})
	resp := h.engine.Dispatch(ctx, sess, &Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	var result toolsCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "Echo: hi")

	got, err := h.catalog.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.InvocationCount)

	require.Eventually(t, func() bool {
		events, err := h.invLog.Query(ctx, "echo", nil, 10)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_ToolsCallUnknownSkillIsToolNotFound(t *testing.T) {
	h := newHarness(t)
	sess := h.regs.Create()
	params, _ := json.Marshal(toolsCallParams{Name: "nope", Arguments: nil})
	resp := h.engine.Dispatch(context.Background(), sess, &Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "tool-not-found", resp.Error.Data)
}

func TestEngine_ToolsCallNonUserInvocableIsPermissionDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tree := objectstore.FileTree{
		"SKILL.md": []byte("---\nname: hidden\ndescription: a hidden internal-only skill\nuser-invocable: false\n---\n\nbody\n"),
	}
	_, err := h.catalog.Publish(ctx, "hidden", tree)
	require.NoError(t, err)

	sess := h.regs.Create()
	params, _ := json.Marshal(toolsCallParams{Name: "hidden"})
	resp := h.engine.Dispatch(ctx, sess, &Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "permission-denied", resp.Error.Data)
}

func TestEngine_ResourcesReadReturnsFileBytes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.catalog.Publish(ctx, "echo", echoSkillTree("echoes the given message back"))
	require.NoError(t, err)

	params, _ := json.Marshal(resourcesReadParams{URI: "skill://echo/references/foo.md"})
	resp := h.engine.Dispatch(ctx, h.regs.Create(), &Request{JSONRPC: "2.0", ID: rawID(1), Method: "resources/read", Params: params})

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	var result resourcesReadResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Contains(t, result.Contents[0].Text, "# foo")
}

func TestEngine_PingReturnsEmptyResult(t *testing.T) {
	h := newHarness(t)
	resp := h.engine.Dispatch(context.Background(), h.regs.Create(), &Request{JSONRPC: "2.0", ID: rawID(1), Method: "ping"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
}

func TestEngine_InitializedNotificationHasNoResponse(t *testing.T) {
	h := newHarness(t)
	resp := h.engine.Dispatch(context.Background(), h.regs.Create(), &Request{JSONRPC: "2.0", Method: "initialized"})
	assert.Nil(t, resp)
}

func TestEngine_UnknownMethodIsMethodNotFound(t *testing.T) {
	h := newHarness(t)
	resp := h.engine.Dispatch(context.Background(), h.regs.Create(), &Request{JSONRPC: "2.0", ID: rawID(1), Method: "bogus/method"})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}
