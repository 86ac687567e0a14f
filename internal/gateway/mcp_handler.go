package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"mcpgate/internal/auth"
	"mcpgate/internal/jsonrpc"
	"mcpgate/internal/session"
	"mcpgate/internal/storage"
	"mcpgate/pkg/logging"
)

const (
	headerSessionID = "Mcp-Session-Id"
	querySessionID  = "mcpSessionId"

	maxBodyBytes = 10 << 20
)

// handlePost implements the three POST cases: fire-and-forget forwarding for
// bodies without requests, session allocation plus streaming for an
// initialize batch, and streaming on an existing session otherwise.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	upstreamID := r.PathValue("upstream")
	started := time.Now()

	if !s.registry.Exists(upstreamID) {
		s.replyError(w, r, upstreamID, nil, jsonrpc.NewError(nil, jsonrpc.CodeResourceNotFound, "unknown upstream"), started, 0)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.replyError(w, r, upstreamID, nil, jsonrpc.NewError(nil, jsonrpc.CodeInvalidRequest, "reading body: "+err.Error()), started, 0)
		return
	}

	messages, _, err := jsonrpc.ParseBody(body)
	if err != nil {
		s.replyError(w, r, upstreamID, nil, jsonrpc.NewError(nil, jsonrpc.CodeParseError, err.Error()), started, int64(len(body)))
		return
	}

	firstRequest := -1
	for i := range messages {
		if messages[i].Kind() == jsonrpc.KindRequest {
			firstRequest = i
			break
		}
	}

	if firstRequest == -1 {
		s.handleForwardOnly(w, r, upstreamID, messages, started, int64(len(body)))
		return
	}

	isInitialize := messages[firstRequest].Method == "initialize"
	s.handleRequestBatch(w, r, upstreamID, messages, isInitialize, started, int64(len(body)))
}

// handleForwardOnly covers POST case 1: only notifications and/or responses.
// Each is forwarded to the connector fire-and-forget and the body is
// acknowledged with 202.
func (s *Server) handleForwardOnly(w http.ResponseWriter, r *http.Request, upstreamID string,
	messages []jsonrpc.Message, started time.Time, requestSize int64) {

	sessionID := r.Header.Get(headerSessionID)
	sess, err := s.sessions.Get(sessionID, upstreamID)
	if err != nil {
		s.replyError(w, r, upstreamID, nil, errorResponse(nil, err), started, requestSize)
		return
	}

	method := ""
	for i := range messages {
		msg := &messages[i]
		switch msg.Kind() {
		case jsonrpc.KindNotification:
			if method == "" {
				method = msg.Method
			}
			if err := s.registry.ForwardNotification(upstreamID, msg.Method, msg.Params); err != nil {
				logging.Debug("Gateway", "Dropping notification %s for upstream %s: %v", msg.Method, upstreamID, err)
			}
		case jsonrpc.KindResponse:
			// Client-to-server responses answer upstream-initiated requests.
			// The transports correlate their own requests, so there is no
			// pending call to complete here; the frame is dropped.
			logging.Debug("Gateway", "Dropping client response frame for upstream %s", upstreamID)
		default:
			logging.Debug("Gateway", "Dropping invalid frame for upstream %s", upstreamID)
		}
	}

	w.WriteHeader(http.StatusAccepted)

	if method == "" {
		method = "(responses)"
	}
	s.recordTraffic(r, upstreamID, sess.APIKeyID, method, nil, requestSize, 0,
		http.StatusAccepted, true, "", started)
}

// handleRequestBatch covers POST cases 2 and 3: open an SSE response stream
// and answer each request in order.
func (s *Server) handleRequestBatch(w http.ResponseWriter, r *http.Request, upstreamID string,
	messages []jsonrpc.Message, isInitialize bool, started time.Time, requestSize int64) {

	ctx := r.Context()

	key, err := s.auth.Authenticate(ctx, auth.ExtractToken(r))
	if err != nil {
		s.replyError(w, r, upstreamID, key, errorResponse(firstRequestID(messages), err), started, requestSize)
		return
	}

	var sess *session.Session
	if isInitialize {
		if err := s.auth.CheckScope(key, auth.ScopeConnect); err != nil {
			s.replyError(w, r, upstreamID, key, errorResponse(firstRequestID(messages), err), started, requestSize)
			return
		}
		// Any presented session id is ignored; initialize always allocates.
		sess, err = s.sessions.Create(upstreamID, key.ID, initializeCapabilities(messages))
		if err != nil {
			s.replyError(w, r, upstreamID, key, errorResponse(firstRequestID(messages), err), started, requestSize)
			return
		}
	} else {
		sess, err = s.sessions.Get(r.Header.Get(headerSessionID), upstreamID)
		if err != nil {
			s.replyError(w, r, upstreamID, key, errorResponse(firstRequestID(messages), err), started, requestSize)
			return
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sseHeaders(w)
	if isInitialize {
		w.Header().Set(headerSessionID, sess.ID)
	}
	w.WriteHeader(http.StatusOK)

	stream := newPostStream(w, cancel)
	sess.TrackPostStream(stream)
	defer sess.UntrackPostStream(stream)

	// Requests are answered serially in body order; this is the client's
	// ordering guarantee on the POST stream. Notifications interleaved in the
	// batch are forwarded fire-and-forget in place.
	for i := range messages {
		if streamCtx.Err() != nil {
			return
		}
		msg := &messages[i]
		switch msg.Kind() {
		case jsonrpc.KindRequest:
			response := s.dispatch(streamCtx, sess, upstreamID, key, msg)
			size, err := stream.writeMessage(response)
			s.finishRequest(r, upstreamID, sess, msg, response, requestSize, int64(size), started)
			if err != nil {
				logging.Debug("Gateway", "POST stream for session %s broke: %v",
					session.TruncateID(sess.ID), err)
				return
			}
		case jsonrpc.KindNotification:
			if err := s.registry.ForwardNotification(upstreamID, msg.Method, msg.Params); err != nil {
				logging.Debug("Gateway", "Dropping notification %s for upstream %s: %v", msg.Method, upstreamID, err)
			}
		case jsonrpc.KindResponse:
			logging.Debug("Gateway", "Dropping client response frame for upstream %s", upstreamID)
		default:
			response := jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidRequest, "")
			size, err := stream.writeMessage(response)
			s.finishRequest(r, upstreamID, sess, msg, response, requestSize, int64(size), started)
			if err != nil {
				return
			}
		}
	}
}

// handleGet opens the session's background push stream.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	upstreamID := r.PathValue("upstream")

	if !acceptsEventStream(r) {
		http.Error(w, "Accept: text/event-stream required", http.StatusNotAcceptable)
		return
	}

	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		sessionID = r.URL.Query().Get(querySessionID)
	}
	sess, err := s.sessions.Get(sessionID, upstreamID)
	if err != nil {
		obj := errorObjectFor(err)
		writeJSON(w, httpStatusForCode(obj.Code), jsonrpc.NewError(nil, obj.Code, obj.Message))
		return
	}

	stream := newBackgroundStream(sess.ID)
	evicted, ok := sess.AttachBackground(stream)
	if !ok {
		writeJSON(w, http.StatusNotFound, jsonrpc.NewError(nil, jsonrpc.CodeSessionNotFound, ""))
		return
	}
	if evicted != nil {
		evicted.CloseStream()
	}

	sseHeaders(w)
	w.WriteHeader(http.StatusOK)

	logging.Debug("Gateway", "Background stream opened for session %s", session.TruncateID(sess.ID))
	stream.serve(w, r)
	sess.DetachBackground(stream)
	logging.Debug("Gateway", "Background stream closed for session %s", session.TruncateID(sess.ID))
}

// handleDelete terminates the session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	upstreamID := r.PathValue("upstream")
	sessionID := r.Header.Get(headerSessionID)

	// Scope the lookup to the addressed upstream before deleting.
	if _, err := s.sessions.Get(sessionID, upstreamID); err != nil {
		obj := errorObjectFor(err)
		writeJSON(w, httpStatusForCode(obj.Code), jsonrpc.NewError(nil, obj.Code, obj.Message))
		return
	}
	if err := s.sessions.Delete(sessionID); err != nil {
		obj := errorObjectFor(err)
		writeJSON(w, httpStatusForCode(obj.Code), jsonrpc.NewError(nil, obj.Code, obj.Message))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func acceptsEventStream(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "*/*")
}

// errorResponse wraps an internal error as a JSON-RPC error response.
func errorResponse(id json.RawMessage, err error) *jsonrpc.Response {
	obj := errorObjectFor(err)
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Error: obj}
}

// replyError answers a request that failed before any stream was opened: the
// JSON-RPC error object travels as a plain JSON body with the mapped HTTP
// status. The failure is audited like any handled request.
func (s *Server) replyError(w http.ResponseWriter, r *http.Request, upstreamID string,
	key *auth.KeyRef, response *jsonrpc.Response, started time.Time, requestSize int64) {

	status := http.StatusInternalServerError
	message := ""
	if response.Error != nil {
		status = httpStatusForCode(response.Error.Code)
		message = response.Error.Message
	}
	writeJSON(w, status, response)

	keyID := ""
	if key != nil {
		keyID = key.ID
	}
	s.recordTraffic(r, upstreamID, keyID, "(rejected)", nil, requestSize, 0, status, false, message, started)
	s.metrics.observe("(rejected)", false)
}

// finishRequest audits and counts one answered request.
func (s *Server) finishRequest(r *http.Request, upstreamID string, sess *session.Session,
	msg *jsonrpc.Message, response *jsonrpc.Response, requestSize, responseSize int64, started time.Time) {

	success := response.Error == nil
	message := ""
	if !success {
		message = response.Error.Message
	}
	s.recordTraffic(r, upstreamID, sess.APIKeyID, msg.Method, msg.ID, requestSize, responseSize,
		http.StatusOK, success, message, started)
	s.metrics.observe(msg.Method, success)
}

// recordTraffic enqueues the audit row for one handled request.
func (s *Server) recordTraffic(r *http.Request, upstreamID, apiKeyID, method string,
	requestID json.RawMessage, requestSize, responseSize int64, httpStatus int,
	success bool, errorMessage string, started time.Time) {

	record := &storage.TrafficRecord{
		ServerID:          nullString(upstreamID),
		MCPMethod:         method,
		MCPRequestID:      nullString(strings.Trim(string(requestID), `"`)),
		SourceIP:          sourceIP(r),
		RequestSizeBytes:  requestSize,
		ResponseSizeBytes: responseSize,
		HTTPStatus:        httpStatus,
		IsSuccess:         success,
		DurationMs:        time.Since(started).Milliseconds(),
		APIKeyID:          nullString(apiKeyID),
		ErrorMessage:      nullString(errorMessage),
	}
	s.audit.Record(record)
}

func firstRequestID(messages []jsonrpc.Message) json.RawMessage {
	for i := range messages {
		if messages[i].Kind() == jsonrpc.KindRequest {
			return messages[i].ID
		}
	}
	return nil
}

// initializeCapabilities extracts the client-reported capabilities from the
// initialize request's params, raw. The gateway stores them on the session
// without interpretation.
func initializeCapabilities(messages []jsonrpc.Message) json.RawMessage {
	for i := range messages {
		if messages[i].Kind() == jsonrpc.KindRequest && messages[i].Method == "initialize" {
			var params struct {
				Capabilities json.RawMessage `json:"capabilities"`
			}
			if err := json.Unmarshal(messages[i].Params, &params); err == nil {
				return params.Capabilities
			}
			return nil
		}
	}
	return nil
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
