// Package gateway implements the HTTP surface of mcpgate: the
// /mcp/{upstream} endpoint family speaking JSON-RPC over SSE response
// streams, the background push stream carrying upstream-initiated frames to
// sessions, and the health, stats and metrics endpoints.
//
// A POST body is classified into three cases: pure notifications/responses
// are forwarded fire-and-forget and acknowledged with 202; a batch whose
// first request is initialize allocates a fresh session and streams the
// responses; any other batch with requests requires an existing session.
// Responses are emitted in request order on the POST stream. Server pushes
// travel on the per-session background stream opened by GET.
package gateway
