package upstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotReadyError is returned by SendRequest when the connector is not in the
// running state. Requests that were in flight when an explicit stop closed
// the transport fail with it as well.
type NotReadyError struct {
	Upstream string
	State    State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("upstream %s is not ready: connector is %s", e.Upstream, e.State)
}

// RequestTimeoutError is returned when an upstream request exceeds the
// per-upstream request timeout.
type RequestTimeoutError struct {
	Upstream string
	Method   string
	Timeout  time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %s to upstream %s timed out after %s", e.Method, e.Upstream, e.Timeout)
}

// ConnectionError wraps a transport-level failure while talking to an
// upstream that was running when the request started.
type ConnectionError struct {
	Upstream string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("upstream %s connection error: %v", e.Upstream, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnsupportedMethodError is returned for request methods the connector does
// not forward.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return "unsupported upstream method: " + e.Method
}

// InvalidParamsError reports a request whose params do not decode into the
// target method's shape.
type InvalidParamsError struct {
	Method string
	Err    error
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Err)
}

func (e *InvalidParamsError) Unwrap() error {
	return e.Err
}

// UpstreamError carries a JSON-RPC error object returned by the upstream
// itself. Code and Data are populated on the WebSocket transport, which sees
// the raw error object; the SDK transports surface the message alone with
// code zero.
type UpstreamError struct {
	Upstream string
	Code     int
	Message  string
	Data     json.RawMessage
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream %s returned error %d: %s", e.Upstream, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %s returned error: %s", e.Upstream, e.Message)
}

// NotFoundError is returned by the registry when no connector exists for an
// upstream id or name.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "upstream not found: " + e.ID
}
