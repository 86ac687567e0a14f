package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/internal/jsonrpc"
	"mcpgate/pkg/logging"
)

// WebSocketClient implements the MCPClient interface over a single
// bidirectional WebSocket connection carrying JSON-RPC text frames. The SDK
// has no WebSocket transport, so this client speaks the protocol directly:
// it numbers its own requests, correlates responses through a pending table
// and hands every uncorrelated frame to the notification handler.
type WebSocketClient struct {
	url     string
	headers map[string]string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closing   bool

	// writeMu serializes frame writes; gorilla/websocket allows only one
	// concurrent writer.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan wsResult
	nextID    atomic.Int64

	notifyHandler func(method string, message json.RawMessage)
	lostHandler   func(err error)
}

// wsResult is what a waiting call receives: the response message or the
// transport failure that ended the wait.
type wsResult struct {
	msg *jsonrpc.Message
	err error
}

// NewWebSocketClient creates a new WebSocket-based MCP client with optional
// custom handshake headers.
func NewWebSocketClient(url string, headers map[string]string) *WebSocketClient {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &WebSocketClient{
		url:     url,
		headers: headers,
		pending: make(map[int64]chan wsResult),
	}
}

// OnNotification stores the handler for server-initiated frames. Must be
// called before Initialize.
func (c *WebSocketClient) OnNotification(handler func(method string, message json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyHandler = handler
}

// OnConnectionLost stores the handler invoked when the socket drops outside
// of Close. Must be called before Initialize.
func (c *WebSocketClient) OnConnectionLost(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostHandler = handler
}

// Initialize dials the socket and performs the MCP handshake
func (c *WebSocketClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	logging.Debug("Connector", "Dialing websocket for URL: %s", c.url)

	header := make(http.Header, len(c.headers))
	for k, v := range c.headers {
		header.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.closing = false
	c.mu.Unlock()

	// The read loop is the sole reader. It routes responses to waiting
	// calls and everything else to the notification handler.
	go c.readLoop(conn)

	params, err := json.Marshal(mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo: mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
		Capabilities: mcp.ClientCapabilities{},
	})
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	if _, err := c.call(ctx, "initialize", params); err != nil {
		c.Close()
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}
	if err := c.notify("notifications/initialized", nil); err != nil {
		c.Close()
		return fmt.Errorf("failed to complete MCP handshake: %w", err)
	}

	logging.Debug("Connector", "WebSocket client initialized for %s", c.url)
	return nil
}

// Close cleanly shuts down the connection. Pending calls fail immediately.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.conn == nil {
		c.connected = false
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	// Best-effort close handshake; the read loop exits on the close frame
	// or the torn-down socket.
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()

	c.failPending(fmt.Errorf("client closed"))
	return err
}

// readLoop is the sole reader of the socket.
func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var msg jsonrpc.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debug("Connector", "Discarding malformed websocket frame from %s: %v", c.url, err)
			continue
		}

		switch msg.Kind() {
		case jsonrpc.KindResponse:
			c.dispatchResponse(&msg)
		case jsonrpc.KindNotification, jsonrpc.KindRequest:
			// Uncorrelated server-initiated frame. Requests are passed
			// along too; the gateway fans them out to push streams.
			c.mu.RLock()
			handler := c.notifyHandler
			c.mu.RUnlock()
			if handler != nil {
				handler(msg.Method, json.RawMessage(data))
			}
		default:
			logging.Debug("Connector", "Discarding invalid websocket frame from %s", c.url)
		}
	}
}

// dispatchResponse routes a response to the call waiting on its id.
func (c *WebSocketClient) dispatchResponse(msg *jsonrpc.Message) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		logging.Debug("Connector", "Discarding response with non-numeric id from %s", c.url)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		logging.Debug("Connector", "Discarding uncorrelated response id %d from %s", id, c.url)
		return
	}
	ch <- wsResult{msg: msg}
}

// handleReadError tears down state after the read loop dies.
func (c *WebSocketClient) handleReadError(err error) {
	c.mu.Lock()
	wasClosing := c.closing
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	handler := c.lostHandler
	c.mu.Unlock()

	c.failPending(fmt.Errorf("connection closed: %w", err))

	if !wasClosing && handler != nil {
		handler(err)
	}
}

// failPending delivers err to every waiting call.
func (c *WebSocketClient) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan wsResult)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- wsResult{err: err}
	}
}

// call sends one request and waits for its response or context expiry.
func (c *WebSocketClient) call(ctx context.Context, method string, params json.RawMessage) (*jsonrpc.Message, error) {
	id := c.nextID.Add(1)
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request id: %w", err)
	}

	data, err := json.Marshal(jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID:      idRaw,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ch := make(chan wsResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeFrame(data); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		if result.msg.Error != nil {
			return nil, &UpstreamError{
				Upstream: c.url,
				Code:     result.msg.Error.Code,
				Message:  result.msg.Error.Message,
				Data:     result.msg.Error.Data,
			}
		}
		return result.msg, nil
	}
}

// SendNotification forwards an arbitrary client notification to the server.
// The gateway uses it for the fire-and-forget POST case.
func (c *WebSocketClient) SendNotification(_ context.Context, method string, params json.RawMessage) error {
	return c.notify(method, params)
}

// notify sends one notification; there is no response to wait for.
func (c *WebSocketClient) notify(method string, params json.RawMessage) error {
	data, err := json.Marshal(jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return c.writeFrame(data)
}

func (c *WebSocketClient) writeFrame(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("client not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write websocket frame: %w", err)
	}
	return nil
}

// ListTools returns all available tools from the server
func (c *WebSocketClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool executes a specific tool and returns the result
func (c *WebSocketClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	params, err := json.Marshal(map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	resp, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	result, err := mcp.ParseCallToolResult(&resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tools/call result: %w", err)
	}
	return result, nil
}

// ListResources returns all available resources from the server
func (c *WebSocketClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	resp, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	var result mcp.ListResourcesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode resources/list result: %w", err)
	}
	return result.Resources, nil
}

// ReadResource retrieves a specific resource
func (c *WebSocketClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	params, err := json.Marshal(map[string]string{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource uri: %w", err)
	}
	resp, err := c.call(ctx, "resources/read", params)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}
	result, err := mcp.ParseReadResourceResult(&resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode resources/read result: %w", err)
	}
	return result, nil
}

// ListPrompts returns all available prompts from the server
func (c *WebSocketClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	resp, err := c.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	var result mcp.ListPromptsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode prompts/list result: %w", err)
	}
	return result.Prompts, nil
}

// GetPrompt retrieves a specific prompt
func (c *WebSocketClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	// Prompt arguments are strings on the wire
	stringArgs := make(map[string]string)
	for k, v := range args {
		if str, ok := v.(string); ok {
			stringArgs[k] = str
		} else {
			stringArgs[k] = fmt.Sprintf("%v", v)
		}
	}
	params, err := json.Marshal(map[string]interface{}{
		"name":      name,
		"arguments": stringArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt arguments: %w", err)
	}
	resp, err := c.call(ctx, "prompts/get", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	result, err := mcp.ParseGetPromptResult(&resp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode prompts/get result: %w", err)
	}
	return result, nil
}

// Ping checks if the server is responsive
func (c *WebSocketClient) Ping(ctx context.Context) error {
	if _, err := c.call(ctx, "ping", nil); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
