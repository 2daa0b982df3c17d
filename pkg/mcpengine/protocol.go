// Package mcpengine implements C7: the JSON-RPC 2.0 method dispatcher
// implementing MCP protocol semantics over the SkillCatalog (C5) and
// SessionRegistry (C6) (spec §4.7).
package mcpengine

import "encoding/json"

// jsonrpcVersion is the fixed JSON-RPC envelope version (spec §6).
const jsonrpcVersion = "2.0"

// Request is one decoded JSON-RPC 2.0 call or notification. A Request
// with a nil ID is a notification: no Response is sent for it.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether this request expects no response.
func (r *Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is a JSON-RPC 2.0 reply: exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object. Code follows the taxonomy
// mapping in errorCodes (spec §7); Data carries the apierr.Kind string so
// clients can branch on it without parsing Message.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func newResult(id json.RawMessage, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return newErrorResponse(id, internalErrorResponse(err))
	}
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Result: raw}
}

func newErrorResponse(id json.RawMessage, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr}
}

// --- MCP method payload shapes (spec §4.6, §4.7) ---

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      map[string]any `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      implementation `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools      []toolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type promptDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Arguments   []promptArgument   `json:"arguments,omitempty"`
}

type promptArgument struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

type promptsListResult struct {
	Prompts    []promptDescriptor `json:"prompts"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

type promptsGetParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type promptMessage struct {
	Role    string       `json:"role"`
	Content contentBlock `json:"content"`
}

type promptsGetResult struct {
	Description string          `json:"description"`
	Messages    []promptMessage `json:"messages"`
}

type resourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	MIMEType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

type resourcesListResult struct {
	Resources  []resourceDescriptor `json:"resources"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

type resourcesReadResult struct {
	Contents []resourceContent `json:"contents"`
}

type completionCompleteParams struct {
	Ref      map[string]any `json:"ref"`
	Argument map[string]any `json:"argument"`
}

type completionCompleteResult struct {
	Completion completionPayload `json:"completion"`
}

type completionPayload struct {
	Values  []string `json:"values"`
	Total   int      `json:"total"`
	HasMore bool     `json:"hasMore"`
}
