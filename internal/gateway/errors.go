package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"mcpgate/internal/auth"
	"mcpgate/internal/jsonrpc"
	"mcpgate/internal/session"
	"mcpgate/internal/upstream"
	"mcpgate/pkg/logging"
)

// errorObjectFor translates an internal error into the JSON-RPC error object
// the client sees. Upstream JSON-RPC errors pass through verbatim; unknown
// internal failures are logged with a correlation id and reported opaquely.
func errorObjectFor(err error) *jsonrpc.ErrorObject {
	var (
		unauthenticated *auth.UnauthenticatedError
		authFailed      *auth.FailedError
		sessNotFound    *session.NotFoundError
		sessInvalid     *session.InvalidIDError
		sessLimit       *session.LimitError
		notReady        *upstream.NotReadyError
		reqTimeout      *upstream.RequestTimeoutError
		connErr         *upstream.ConnectionError
		upErr           *upstream.UpstreamError
		invalidParams   *upstream.InvalidParamsError
		unsupported     *upstream.UnsupportedMethodError
		upNotFound      *upstream.NotFoundError
	)

	switch {
	case errors.As(err, &unauthenticated):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeUnauthenticated, Message: err.Error()}
	case errors.As(err, &authFailed):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeAuthenticationFailed, Message: err.Error()}
	case errors.As(err, &sessNotFound):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeSessionNotFound, Message: err.Error()}
	case errors.As(err, &sessInvalid):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeInvalidSessionID, Message: err.Error()}
	case errors.As(err, &sessLimit):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeMaxSessions, Message: err.Error()}
	case errors.As(err, &notReady):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeServerUnavailable, Message: err.Error()}
	case errors.As(err, &reqTimeout):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeRequestTimeout, Message: err.Error()}
	case errors.As(err, &connErr):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeServerConnection, Message: err.Error()}
	case errors.As(err, &upErr):
		code := upErr.Code
		if code == 0 {
			code = jsonrpc.CodeServerError
		}
		return &jsonrpc.ErrorObject{Code: code, Message: upErr.Message, Data: upErr.Data}
	case errors.As(err, &invalidParams):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	case errors.As(err, &unsupported):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeMethodNotFound, Message: err.Error()}
	case errors.As(err, &upNotFound):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeResourceNotFound, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &jsonrpc.ErrorObject{Code: jsonrpc.CodeInternalError, Message: "request cancelled"}
	default:
		correlationID := uuid.NewString()
		logging.Error("Gateway", err, "Internal error (correlation id %s)", correlationID)
		return &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeInternalError,
			Message: "internal error (correlation id " + correlationID + ")",
		}
	}
}

// httpStatusForCode maps a gateway JSON-RPC error code onto the HTTP status
// used when the response is not already committed to a stream.
func httpStatusForCode(code int) int {
	switch code {
	case jsonrpc.CodeUnauthenticated:
		return http.StatusUnauthorized
	case jsonrpc.CodeAuthenticationFailed:
		return http.StatusForbidden
	case jsonrpc.CodeSessionNotFound, jsonrpc.CodeMethodNotFound, jsonrpc.CodeResourceNotFound:
		return http.StatusNotFound
	case jsonrpc.CodeInvalidSessionID, jsonrpc.CodeInvalidParams,
		jsonrpc.CodeInvalidRequest, jsonrpc.CodeParseError:
		return http.StatusBadRequest
	case jsonrpc.CodeServerConnection, jsonrpc.CodeServerUnavailable:
		return http.StatusBadGateway
	case jsonrpc.CodeRequestTimeout, jsonrpc.CodeServerTimeout:
		return http.StatusGatewayTimeout
	case jsonrpc.CodeMaxSessions:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
