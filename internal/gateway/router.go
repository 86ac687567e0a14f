package gateway

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/internal/auth"
	"mcpgate/internal/jsonrpc"
	"mcpgate/internal/session"
)

// serverName identifies the gateway in initialize responses.
const serverName = "mcpgate"

// initializeResult is the gateway's own initialize answer. The gateway
// advertises listChanged so clients know to expect tools/list_changed pushes
// on the background stream.
type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      mcp.Implementation     `json:"serverInfo"`
}

// toolCallParams is the wire shape of tools/call params. Arguments stay raw:
// the gateway rewrites the name and forwards everything else untouched.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// dispatch answers one JSON-RPC request. It never returns nil and never
// panics out: every failure becomes an error response with the client's id.
func (s *Server) dispatch(ctx context.Context, sess *session.Session, upstreamID string,
	key *auth.KeyRef, msg *jsonrpc.Message) *jsonrpc.Response {

	if msg.JSONRPC != jsonrpc.Version {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	if err := s.auth.CheckScope(key, auth.ScopeForMethod(msg.Method)); err != nil {
		return errorResponse(msg.ID, err)
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)

	case "ping":
		response, err := jsonrpc.NewResponse(msg.ID, struct{}{})
		if err != nil {
			return errorResponse(msg.ID, err)
		}
		return response

	case "tools/list":
		return s.handleToolsList(msg)

	case "tools/call":
		return s.handleToolsCall(ctx, msg)

	case "resources/list", "resources/read", "prompts/list", "prompts/get":
		// Non-tool capabilities are not aggregated; they go to the session's
		// own upstream.
		result, err := s.registry.SendRequest(ctx, sess.UpstreamID, msg.Method, msg.Params)
		if err != nil {
			return errorResponse(msg.ID, err)
		}
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: result}

	default:
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "unknown method: "+msg.Method)
	}
}

func (s *Server) handleInitialize(msg *jsonrpc.Message) *jsonrpc.Response {
	result := initializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": true},
		},
		ServerInfo: mcp.Implementation{Name: serverName, Version: s.version},
	}
	response, err := jsonrpc.NewResponse(msg.ID, result)
	if err != nil {
		return errorResponse(msg.ID, err)
	}
	return response
}

// handleToolsList answers from the aggregated catalog; it is never forwarded
// to a single upstream.
func (s *Server) handleToolsList(msg *jsonrpc.Message) *jsonrpc.Response {
	tools := s.catalog.Tools()
	if tools == nil {
		tools = []mcp.Tool{}
	}
	response, err := jsonrpc.NewResponse(msg.ID, mcp.ListToolsResult{Tools: tools})
	if err != nil {
		return errorResponse(msg.ID, err)
	}
	return response
}

// handleToolsCall resolves the gateway tool name and forwards the call to
// its origin upstream with the original name restored.
func (s *Server) handleToolsCall(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Response {
	var params toolCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "decoding tools/call params: "+err.Error())
	}
	if params.Name == "" {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "missing tool name")
	}

	mapping, ok := s.catalog.Resolve(params.Name)
	if !ok {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "unknown tool: "+params.Name)
	}

	inner, err := json.Marshal(toolCallParams{Name: mapping.OriginalName, Arguments: params.Arguments})
	if err != nil {
		return errorResponse(msg.ID, err)
	}

	result, err := s.registry.SendRequest(ctx, mapping.UpstreamID, "tools/call", inner)
	if err != nil {
		return errorResponse(msg.ID, err)
	}
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: result}
}
