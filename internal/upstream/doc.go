// Package upstream manages the gateway's connections to upstream MCP
// servers.
//
// The package has three layers:
//
//   - MCPClient: one interface over the four transports (stdio, SSE,
//     streamable-http, WebSocket). The stdio, SSE and streamable-http
//     clients wrap the mcp-go SDK; the WebSocket client speaks JSON-RPC
//     over a gorilla/websocket connection directly.
//   - Connector: owns one MCPClient and the lifecycle state machine
//     around it (stopped, starting, running, reconnecting, error,
//     stopping). It retries failed connections with exponential backoff
//     and surfaces state transitions, tool-set changes and
//     server-initiated messages on the event bus.
//   - Registry: owns all connectors, keyed by upstream id. It is the
//     only component that creates, reconfigures or stops connectors;
//     everything else observes upstreams through the bus and addresses
//     them through the registry.
//
// # Lifecycle
//
// A connector created by the registry starts in the stopped state.
// Start moves it to starting and attempts the transport connection and
// MCP handshake within the connect timeout. Success lands in running;
// failure lands in error with a reconnect scheduled. A transport drop
// while running moves to reconnecting. Reconnect attempts back off
// exponentially (base 5s, doubling, capped at 60s, with up to one
// second of jitter) and give up after five attempts, leaving the
// connector in error until the next explicit Start. Stop moves any
// state through stopping to stopped and disables reconnection.
//
// # Requests
//
// SendRequest forwards a JSON-RPC request to the upstream while the
// connector is running. It fails fast with NotReadyError in any other
// state, converts deadline expiry to RequestTimeoutError, and never
// tears down the connector on a per-request failure.
package upstream
