package upstream

import (
	"fmt"

	"mcpgate/internal/config"
)

// NewClient creates the transport-appropriate MCP client for a definition.
// The client is returned unconnected; the connector drives Initialize so
// that handshake failures flow through its state machine.
func NewClient(def Definition) (MCPClient, error) {
	switch def.Transport {
	case config.TransportStdio:
		if def.Command == "" {
			return nil, fmt.Errorf("command is required for stdio transport")
		}
		return NewStdioClient(def.Command, def.Args, def.Env), nil

	case config.TransportSSE:
		if def.URL == "" {
			return nil, fmt.Errorf("url is required for sse transport")
		}
		return NewSSEClient(def.URL, def.Headers), nil

	case config.TransportStreamableHTTP:
		if def.URL == "" {
			return nil, fmt.Errorf("url is required for streamable-http transport")
		}
		return NewStreamableHTTPClient(def.URL, def.Headers), nil

	case config.TransportWebSocket:
		if def.URL == "" {
			return nil, fmt.Errorf("url is required for websocket transport")
		}
		return NewWebSocketClient(def.URL, def.Headers), nil

	default:
		return nil, fmt.Errorf("unsupported transport %q (supported: %s, %s, %s, %s)",
			def.Transport, config.TransportStdio, config.TransportSSE,
			config.TransportStreamableHTTP, config.TransportWebSocket)
	}
}
