package jsonrpc

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Gateway error codes in the implementation-defined server range. The numeric
// values are a stable contract with clients and must not be renumbered.
const (
	CodeServerUnavailable    = -32000
	CodeServerError          = -32001
	CodeServerTimeout        = -32002
	CodeServerConnection     = -32003
	CodeServerSend           = -32004
	CodeRequestTimeout       = -32005
	CodeResourceNotFound     = -32006
	CodeUnauthenticated      = -32009
	CodeAuthenticationFailed = -32010
	CodeSessionNotFound      = -32011
	CodeInvalidSessionID     = -32012
	CodeStreamError          = -32013
	CodeMaxSessions          = -32014
)

// CodeText returns the canonical message for an error code, in the manner of
// http.StatusText. It returns the empty string for unknown codes.
func CodeText(code int) string {
	switch code {
	case CodeParseError:
		return "Parse error"
	case CodeInvalidRequest:
		return "Invalid request"
	case CodeMethodNotFound:
		return "Method not found"
	case CodeInvalidParams:
		return "Invalid params"
	case CodeInternalError:
		return "Internal error"
	case CodeServerUnavailable:
		return "Server unavailable"
	case CodeServerError:
		return "Server error"
	case CodeServerTimeout:
		return "Server timeout"
	case CodeServerConnection:
		return "Server connection error"
	case CodeServerSend:
		return "Server send error"
	case CodeRequestTimeout:
		return "Request timeout"
	case CodeResourceNotFound:
		return "Resource not found"
	case CodeUnauthenticated:
		return "Unauthenticated"
	case CodeAuthenticationFailed:
		return "Authentication failed"
	case CodeSessionNotFound:
		return "Session not found"
	case CodeInvalidSessionID:
		return "Invalid session id"
	case CodeStreamError:
		return "Stream error"
	case CodeMaxSessions:
		return "Maximum sessions reached"
	default:
		return ""
	}
}
