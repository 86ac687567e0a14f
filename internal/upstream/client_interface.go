package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/pkg/logging"
)

// clientName and clientVersion identify the gateway in upstream MCP
// handshakes.
const (
	clientName    = "mcpgate"
	clientVersion = "1.0.0"
)

// MCPClient is the transport-neutral face of one upstream connection. All
// four transports (stdio, SSE, streamable-http, WebSocket) implement it,
// which keeps the connector free of per-transport branches and makes the
// connector testable with fakes.
type MCPClient interface {
	// Initialize establishes the connection and performs the MCP handshake
	Initialize(ctx context.Context) error
	// Close cleanly shuts down the client connection. For stdio it
	// terminates the child process.
	Close() error
	// ListTools returns all available tools from the server
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes a specific tool and returns the result
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// ListResources returns all available resources from the server
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	// ReadResource retrieves a specific resource
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	// ListPrompts returns all available prompts from the server
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	// GetPrompt retrieves a specific prompt
	GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error)
	// Ping checks if the server is responsive
	Ping(ctx context.Context) error
	// OnNotification registers the handler for server-initiated frames
	// that do not correlate to a pending request. The message is the full
	// JSON-RPC envelope. Must be called before Initialize.
	OnNotification(handler func(method string, message json.RawMessage))
	// OnConnectionLost registers the handler invoked when the transport
	// drops outside of Close. Must be called before Initialize.
	OnConnectionLost(handler func(err error))
}

// Compile-time interface compliance checks
var (
	_ MCPClient = (*StdioClient)(nil)
	_ MCPClient = (*SSEClient)(nil)
	_ MCPClient = (*StreamableHTTPClient)(nil)
	_ MCPClient = (*WebSocketClient)(nil)
)

// baseMCPClient provides the MCP protocol operations that are identical
// across the SDK-backed transports (stdio, SSE, streamable-http). It holds
// the concrete SDK client because the notification and connection-lost
// callbacks are not part of the SDK's client interface.
type baseMCPClient struct {
	client    *client.Client
	mu        sync.RWMutex
	connected bool

	notifyHandler func(method string, message json.RawMessage)
	lostHandler   func(err error)
}

// checkConnected verifies the client is connected and returns an error if
// not. Caller must hold at least a read lock on mu.
func (b *baseMCPClient) checkConnected() error {
	if !b.connected || b.client == nil {
		return fmt.Errorf("client not connected")
	}
	return nil
}

// OnNotification stores the notification handler for the next Initialize.
func (b *baseMCPClient) OnNotification(handler func(method string, message json.RawMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyHandler = handler
}

// OnConnectionLost stores the connection-lost handler for the next
// Initialize.
func (b *baseMCPClient) OnConnectionLost(handler func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lostHandler = handler
}

// registerHandlers wires the stored callbacks into a fresh SDK client. It
// runs before the handshake so early notifications are not missed. Caller
// must hold the write lock.
func (b *baseMCPClient) registerHandlers(cli *client.Client) {
	if handler := b.notifyHandler; handler != nil {
		cli.OnNotification(func(notification mcp.JSONRPCNotification) {
			message, err := json.Marshal(notification)
			if err != nil {
				logging.Debug("Connector", "Dropping unmarshalable notification %s: %v",
					notification.Method, err)
				return
			}
			handler(notification.Method, message)
		})
	}
	if handler := b.lostHandler; handler != nil {
		cli.OnConnectionLost(handler)
	}
}

// initializeProtocol performs the MCP initialize handshake on a fresh SDK
// client.
func initializeProtocol(ctx context.Context, cli *client.Client) (*mcp.InitializeResult, error) {
	result, err := cli.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}
	return result, nil
}

// closeClient performs the common close logic
func (b *baseMCPClient) closeClient() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}

	err := b.client.Close()
	b.connected = false
	b.client = nil

	return err
}

// listTools returns all available tools from the server
func (b *baseMCPClient) listTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	return result.Tools, nil
}

// callTool executes a specific tool and returns the result
func (b *baseMCPClient) callTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	return result, nil
}

// listResources returns all available resources from the server
func (b *baseMCPClient) listResources(ctx context.Context) ([]mcp.Resource, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	return result.Resources, nil
}

// readResource retrieves a specific resource
func (b *baseMCPClient) readResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	result, err := b.client.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}

	return result, nil
}

// listPrompts returns all available prompts from the server
func (b *baseMCPClient) listPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	return result.Prompts, nil
}

// getPrompt retrieves a specific prompt
func (b *baseMCPClient) getPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	// Convert args to map[string]string as required by the API
	stringArgs := make(map[string]string)
	for k, v := range args {
		if str, ok := v.(string); ok {
			stringArgs[k] = str
		} else {
			stringArgs[k] = fmt.Sprintf("%v", v)
		}
	}

	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = stringArgs

	result, err := b.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}

	return result, nil
}

// ping checks if the server is responsive
func (b *baseMCPClient) ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return err
	}

	return b.client.Ping(ctx)
}
