package mcpengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/comdaze/openmcpskills/pkg/catalog"
	"github.com/comdaze/openmcpskills/pkg/invocationlog"
	"github.com/comdaze/openmcpskills/pkg/mcpsession"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/comdaze/openmcpskills/pkg/skill"
)

const (
	// pageSize is the fixed tools/list, prompts/list, resources/list page
	// size (spec §4.7).
	pageSize = 50

	// defaultToolCallTimeout bounds a single tools/call dispatch (spec §5).
	defaultToolCallTimeout = 30 * time.Second
)

// Config bundles the engine's tunables.
type Config struct {
	ServerName           string
	ServerVersion        string
	ToolCallTimeout      time.Duration
	InvocationLogTTLDays int // INVOCATION_LOG_TTL_DAYS, default 30
}

// Engine is the C7 component: a JSON-RPC 2.0 dispatcher over the
// SkillCatalog and SessionRegistry.
type Engine struct {
	cfg      Config
	catalog  *catalog.Catalog
	objects  objectstore.Store
	meta     metadatastore.Store
	invLog   *invocationlog.Log
	sessions *mcpsession.Registry
	logger   *slog.Logger
}

// New constructs an Engine.
func New(cat *catalog.Catalog, objects objectstore.Store, meta metadatastore.Store, invLog *invocationlog.Log, sessions *mcpsession.Registry, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ToolCallTimeout <= 0 {
		cfg.ToolCallTimeout = defaultToolCallTimeout
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "openmcpskills"
	}
	if cfg.InvocationLogTTLDays <= 0 {
		cfg.InvocationLogTTLDays = 30
	}
	return &Engine{cfg: cfg, catalog: cat, objects: objects, meta: meta, invLog: invLog, sessions: sessions, logger: logger}
}

// Dispatch handles one decoded JSON-RPC request against sess and returns
// the Response to send, or nil for a notification (spec §4.7).
func (e *Engine) Dispatch(ctx context.Context, sess *mcpsession.Session, req *Request) *Response {
	if sess.Cancelled() {
		if req.IsNotification() {
			return nil
		}
		return newErrorResponse(req.ID, errorFor(apierr.New(apierr.KindCancelled, "session work was cancelled")))
	}

	switch req.Method {
	case "initialize":
		return e.handleInitialize(sess, req)
	case "initialized":
		sess.Touch(time.Now().UTC())
		return nil // notification, no response
	case "ping":
		return e.reply(req, struct{}{})
	case "tools/list":
		return e.handleToolsList(req)
	case "tools/call":
		return e.handleToolsCall(ctx, sess, req)
	case "prompts/list":
		return e.handlePromptsList(req)
	case "prompts/get":
		return e.handlePromptsGet(req)
	case "resources/list":
		return e.handleResourcesList(req)
	case "resources/read":
		return e.handleResourcesRead(ctx, req)
	case "completion/complete":
		return e.handleCompletionComplete(req)
	default:
		if req.IsNotification() {
			return nil
		}
		return newErrorResponse(req.ID, &RPCError{Code: -32601, Message: "method not found: " + req.Method})
	}
}

func (e *Engine) reply(req *Request, result any) *Response {
	if req.IsNotification() {
		return nil
	}
	return newResult(req.ID, result)
}

func (e *Engine) handleInitialize(sess *mcpsession.Session, req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newErrorResponse(req.ID, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()})
		}
	}

	offered := []string{params.ProtocolVersion}
	chosen, ok := mcpsession.NegotiateProtocolVersion(offered)
	if !ok {
		return newErrorResponse(req.ID, errorFor(apierr.New(apierr.KindProtocolMismatch, "no mutually supported protocol version for "+params.ProtocolVersion)))
	}

	sess.MarkInitialized(chosen, params.ClientInfo, params.Capabilities, mcpsession.ServerCapabilities)

	return e.reply(req, initializeResult{
		ProtocolVersion: chosen,
		ServerInfo:      implementation{Name: e.cfg.ServerName, Version: e.cfg.ServerVersion},
		Capabilities:    mcpsession.ServerCapabilities,
	})
}

// userInvocableSkills returns active, user-invocable skills sorted by id
// for stable pagination.
func (e *Engine) userInvocableSkills() []*skill.Skill {
	all := e.catalog.List()
	out := make([]*skill.Skill, 0, len(all))
	for _, s := range all {
		if s.Status == skill.StatusActive && s.Manifest.IsUserInvocable() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// paginate slices items starting after cursor (an opaque decimal offset
// string) and returns the next cursor, empty once exhausted.
func paginate[T any](items []T, cursor string) ([]T, string) {
	offset := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil && n > 0 {
			offset = n
		}
	}
	if offset >= len(items) {
		return nil, ""
	}
	end := offset + pageSize
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	} else {
		end = len(items)
	}
	return items[offset:end], next
}

func (e *Engine) handleToolsList(req *Request) *Response {
	var params struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal(req.Params, &params)

	skills := e.userInvocableSkills()
	page, next := paginate(skills, params.Cursor)

	tools := make([]toolDescriptor, 0, len(page))
	for _, s := range page {
		tools = append(tools, toolDescriptor{
			Name:        s.ID,
			Description: s.Manifest.Description,
			InputSchema: map[string]any{"type": "object", "additionalProperties": true},
		})
	}
	return e.reply(req, toolsListResult{Tools: tools, NextCursor: next})
}

func (e *Engine) handleToolsCall(ctx context.Context, sess *mcpsession.Session, req *Request) *Response {
	start := time.Now()

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newErrorResponse(req.ID, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()})
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolCallTimeout)
	defer cancel()

	s, callErr := e.dispatchToolCall(callCtx, params)
	duration := time.Since(start)

	status := invocationlog.StatusSuccess
	errMsg := ""
	if callErr != nil {
		status = invocationlog.StatusError
		errMsg = callErr.Error()
	}

	// Spec §4.7: log and count on every tools/call, regardless of outcome
	// (including tool-not-found/permission-denied), keyed by the requested
	// name even when no skill was resolved.
	e.recordInvocation(params.Name, start, duration, status, errMsg, params.Arguments, sess)

	if callErr != nil {
		return newErrorResponse(req.ID, errorFor(callErr))
	}

	return e.reply(req, toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: renderInstructions(s.Instructions, params.Arguments)}},
	})
}

func (e *Engine) dispatchToolCall(ctx context.Context, params toolsCallParams) (*skill.Skill, error) {
	s, err := e.catalog.Get(params.Name)
	if err != nil {
		return nil, apierr.New(apierr.KindToolNotFound, "no such skill: "+params.Name)
	}
	if !s.Manifest.IsUserInvocable() {
		return s, apierr.New(apierr.KindPermissionDenied, "skill is not user-invocable: "+params.Name)
	}
	if ctx.Err() != nil {
		return s, apierr.New(apierr.KindTimeout, "tools/call timed out")
	}
	return s, nil
}

func (e *Engine) recordInvocation(skillID string, at time.Time, duration time.Duration, status invocationlog.Status, errMsg string, arguments map[string]any, sess *mcpsession.Session) {
	event := invocationlog.NewEvent(at, e.cfg.InvocationLogTTLDays)
	event.SkillID = skillID
	event.SessionID = sess.ID
	event.Method = "tools/call"
	event.DurationMS = duration.Milliseconds()
	event.Status = status
	event.ErrorMessage = errMsg
	event.ParamsExcerpt = excerptArguments(arguments)

	e.invLog.Append(event)
	e.catalog.RecordInvocation(skillID, at)

	// Fire-and-forget: the increment's own bounded-retry contract lives in
	// metadatastore.Store.IncrementInvocation (spec §4.2, §4.7).
	go func() {
		incCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.meta.IncrementInvocation(incCtx, skillID, at); err != nil {
			e.logger.Warn("invocation counter increment failed", "skill_id", skillID, "error", err)
		}
	}()
}

func excerptArguments(arguments map[string]any) string {
	if len(arguments) == 0 {
		return ""
	}
	raw, err := json.Marshal(arguments)
	if err != nil {
		return ""
	}
	const maxLen = 500
	if len(raw) > maxLen {
		return string(raw[:maxLen])
	}
	return string(raw)
}

func (e *Engine) handlePromptsList(req *Request) *Response {
	var params struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal(req.Params, &params)

	skills := e.userInvocableSkills()
	page, next := paginate(skills, params.Cursor)

	prompts := make([]promptDescriptor, 0, len(page))
	for _, s := range page {
		prompts = append(prompts, promptDescriptor{Name: s.ID, Description: s.Manifest.Description})
	}
	return e.reply(req, promptsListResult{Prompts: prompts, NextCursor: next})
}

func (e *Engine) handlePromptsGet(req *Request) *Response {
	var params promptsGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newErrorResponse(req.ID, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()})
	}

	s, err := e.catalog.Get(params.Name)
	if err != nil {
		return newErrorResponse(req.ID, errorFor(apierr.New(apierr.KindToolNotFound, "no such skill: "+params.Name)))
	}

	text := renderInstructions(s.Instructions, params.Arguments)
	return e.reply(req, promptsGetResult{
		Description: s.Manifest.Description,
		Messages:    []promptMessage{{Role: "user", Content: contentBlock{Type: "text", Text: text}}},
	})
}

func (e *Engine) handleResourcesList(req *Request) *Response {
	var params struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal(req.Params, &params)

	var all []resourceDescriptor
	for _, s := range e.catalog.List() {
		if s.Status != skill.StatusActive {
			continue
		}
		for _, f := range append(append([]skill.FileEntry{}, s.References...), s.Assets...) {
			all = append(all, resourceDescriptor{
				URI:      "skill://" + s.ID + "/" + f.Path,
				Name:     f.Path,
				MIMEType: mime.TypeByExtension(filepath.Ext(f.Path)),
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].URI < all[j].URI })

	page, next := paginate(all, params.Cursor)
	return e.reply(req, resourcesListResult{Resources: page, NextCursor: next})
}

func (e *Engine) handleResourcesRead(ctx context.Context, req *Request) *Response {
	var params resourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newErrorResponse(req.ID, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()})
	}

	skillID, relPath, ok := parseResourceURI(params.URI)
	if !ok {
		return newErrorResponse(req.ID, &RPCError{Code: -32602, Message: "malformed resource uri: " + params.URI})
	}

	s, err := e.catalog.Get(skillID)
	if err != nil {
		return newErrorResponse(req.ID, errorFor(apierr.New(apierr.KindToolNotFound, "no such skill: "+skillID)))
	}

	tree, err := e.objects.GetVersion(ctx, skillID, s.Version)
	if err != nil {
		return newErrorResponse(req.ID, errorFor(apierr.Wrap(apierr.KindStorageUnavailable, "failed to read resource", err)))
	}
	data, ok := tree[relPath]
	if !ok {
		return newErrorResponse(req.ID, errorFor(apierr.New(apierr.KindToolNotFound, "no such resource: "+params.URI)))
	}

	return e.reply(req, resourcesReadResult{Contents: []resourceContent{{
		URI:      params.URI,
		MIMEType: mime.TypeByExtension(filepath.Ext(relPath)),
		Text:     string(data),
	}}})
}

// parseResourceURI splits "skill://{id}/{path}" into (id, path).
func parseResourceURI(uri string) (skillID, path string, ok bool) {
	const prefix = "skill://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// handleCompletionComplete is best-effort per spec §4.7: it returns
// nothing beyond an empty completion set, since skills have no declared
// argument schema to complete against.
func (e *Engine) handleCompletionComplete(req *Request) *Response {
	return e.reply(req, completionCompleteResult{Completion: completionPayload{Values: []string{}, Total: 0, HasMore: false}})
}

// errorCodes maps the apierr taxonomy (spec §7) onto the JSON-RPC
// server-error range (-32000 to -32099 is reserved for implementation
// use by the JSON-RPC 2.0 spec).
var errorCodes = map[apierr.Kind]int{
	apierr.KindProtocolMismatch:   -32000,
	apierr.KindSessionNotFound:    -32001,
	apierr.KindToolNotFound:       -32002,
	apierr.KindPermissionDenied:   -32003,
	apierr.KindInvalidManifest:    -32004,
	apierr.KindPackageTooLarge:    -32005,
	apierr.KindStorageUnavailable: -32006,
	apierr.KindTimeout:            -32007,
	apierr.KindCancelled:          -32008,
	apierr.KindInternal:           -32603,
}

func errorFor(err error) *RPCError {
	kind := apierr.KindOf(err)
	code, ok := errorCodes[kind]
	if !ok {
		code = -32603
	}
	return &RPCError{Code: code, Message: err.Error(), Data: string(kind)}
}

func internalErrorResponse(err error) *RPCError {
	return errorFor(apierr.Wrap(apierr.KindInternal, "failed to marshal result", err))
}
