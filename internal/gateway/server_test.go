package gateway

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/aggregator"
	"mcpgate/internal/audit"
	"mcpgate/internal/auth"
	"mcpgate/internal/events"
	"mcpgate/internal/jsonrpc"
	"mcpgate/internal/session"
	"mcpgate/internal/storage"
	"mcpgate/internal/upstream"
)

type forwarded struct {
	upstreamID string
	method     string
	params     json.RawMessage
}

// fakeDirectory stands in for the upstream registry. It records everything
// the gateway routes through it.
type fakeDirectory struct {
	mu            sync.Mutex
	known         map[string]bool
	requests      []forwarded
	notifications []forwarded

	// respond overrides the answer to SendRequest; nil answers {"ok":true}.
	respond func(upstreamID, method string, params json.RawMessage) (json.RawMessage, error)
}

func (d *fakeDirectory) Exists(upstreamID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.known[upstreamID]
}

func (d *fakeDirectory) SendRequest(ctx context.Context, upstreamID, method string, params json.RawMessage) (json.RawMessage, error) {
	d.mu.Lock()
	d.requests = append(d.requests, forwarded{upstreamID: upstreamID, method: method, params: params})
	respond := d.respond
	d.mu.Unlock()
	if respond != nil {
		return respond(upstreamID, method, params)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (d *fakeDirectory) ForwardNotification(upstreamID, method string, params json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, forwarded{upstreamID: upstreamID, method: method, params: params})
	return nil
}

func (d *fakeDirectory) Statuses() []upstream.Status {
	return []upstream.Status{
		{ID: "calc", Name: "calc", State: upstream.StateRunning, ToolCount: 2},
	}
}

func (d *fakeDirectory) sentRequests() []forwarded {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]forwarded(nil), d.requests...)
}

func (d *fakeDirectory) sentNotifications() []forwarded {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]forwarded(nil), d.notifications...)
}

type fakeCatalog struct {
	tools    []mcp.Tool
	mappings map[string]aggregator.Mapping
}

func (c *fakeCatalog) Tools() []mcp.Tool { return c.tools }

func (c *fakeCatalog) Resolve(name string) (aggregator.Mapping, bool) {
	mapping, ok := c.mappings[name]
	return mapping, ok
}

func (c *fakeCatalog) Count() int { return len(c.tools) }

type gatewayHarness struct {
	t         *testing.T
	server    *Server
	http      *httptest.Server
	directory *fakeDirectory
	catalog   *fakeCatalog
	sessions  *session.Store
	store     *storage.Store
	bus       *events.Bus
	secret    string
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "gateway-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &gatewayHarness{
		t: t,
		directory: &fakeDirectory{
			known: map[string]bool{"calc": true, "files": true},
		},
		catalog: &fakeCatalog{
			tools: []mcp.Tool{
				{Name: "calc__add", Description: "[calc] Adds numbers"},
				{Name: "calc__sub", Description: "[calc] Subtracts numbers"},
			},
			mappings: map[string]aggregator.Mapping{
				"calc__add": {GatewayName: "calc__add", UpstreamID: "up-1", OriginalName: "add"},
				"calc__sub": {GatewayName: "calc__sub", UpstreamID: "up-1", OriginalName: "sub"},
			},
		},
		sessions: session.NewStore(),
		store:    store,
		bus:      events.NewBus(),
		secret:   createTestKey(t, store, "harness", nil),
	}
	t.Cleanup(h.sessions.Stop)
	t.Cleanup(h.bus.Close)

	recorder := audit.NewRecorder(nil)
	t.Cleanup(recorder.Close)

	h.server = NewServer(h.directory, h.catalog, h.sessions,
		auth.NewAuthenticator(store, false), recorder, h.bus, "test")
	h.http = httptest.NewServer(h.server.Handler())
	t.Cleanup(h.http.Close)
	return h
}

// createTestKey persists a fresh API key and returns its secret.
func createTestKey(t *testing.T, store *storage.Store, name string, scopes []string) string {
	t.Helper()
	generated, err := auth.GenerateKey()
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.CreateAPIKey(context.Background(), &storage.APIKey{
		ID:           uuid.NewString(),
		Name:         name,
		HashedAPIKey: generated.Hash,
		Salt:         generated.Salt,
		Prefix:       generated.Prefix,
		Scopes:       scopes,
		ExpiresAt:    sql.NullTime{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	return generated.Secret
}

// post sends one MCP POST. The harness secret is used unless the headers
// override Authorization.
func (h *gatewayHarness) post(upstreamID, body string, headers map[string]string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.http.URL+"/mcp/"+upstreamID, strings.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.secret)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	return resp
}

// initialize opens a session and returns its id.
func (h *gatewayHarness) initialize(upstreamID string) string {
	h.t.Helper()
	resp := h.post(upstreamID, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{}}}`, nil)
	defer resp.Body.Close()
	require.Equal(h.t, http.StatusOK, resp.StatusCode)

	sessionID := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(h.t, sessionID)
	_ = readFrames(h.t, resp.Body)
	return sessionID
}

// readFrames drains an SSE body and decodes every data frame as a response.
func readFrames(t *testing.T, body io.Reader) []jsonrpc.Response {
	t.Helper()
	var frames []jsonrpc.Response
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame jsonrpc.Response
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func decodeErrorBody(t *testing.T, body io.Reader) *jsonrpc.Response {
	t.Helper()
	var response jsonrpc.Response
	require.NoError(t, json.NewDecoder(body).Decode(&response))
	require.NotNil(t, response.Error)
	return &response
}

func TestInitializeAllocatesSession(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.post("calc", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{"sampling":{}}}}`, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sessionID := resp.Header.Get("Mcp-Session-Id")
	require.NoError(t, session.ValidateID(sessionID))
	assert.Len(t, sessionID, 32)

	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 1)
	require.Nil(t, frames[0].Error)
	assert.JSONEq(t, `1`, string(frames[0].ID))

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		Capabilities    struct {
			Tools struct {
				ListChanged bool `json:"listChanged"`
			} `json:"tools"`
		} `json:"capabilities"`
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Result, &result))
	assert.Equal(t, "mcpgate", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)
	assert.True(t, result.Capabilities.Tools.ListChanged)
	assert.NotEmpty(t, result.ProtocolVersion)

	sess, err := h.sessions.Get(sessionID, "calc")
	require.NoError(t, err)
	assert.Equal(t, "calc", sess.UpstreamID)
}

func TestInitializeIgnoresPresentedSessionID(t *testing.T) {
	h := newGatewayHarness(t)
	existing := h.initialize("calc")

	resp := h.post("calc", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		map[string]string{"Mcp-Session-Id": existing})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, existing, resp.Header.Get("Mcp-Session-Id"))
}

func TestPostUnknownUpstream(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.post("ghost", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	response := decodeErrorBody(t, resp.Body)
	assert.Equal(t, jsonrpc.CodeResourceNotFound, response.Error.Code)
}

func TestPostAuthentication(t *testing.T) {
	h := newGatewayHarness(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`

	resp := h.post("calc", body, map[string]string{"Authorization": ""})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, jsonrpc.CodeUnauthenticated, decodeErrorBody(t, resp.Body).Error.Code)

	resp = h.post("calc", body, map[string]string{"Authorization": "Bearer mgk_wrong"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, jsonrpc.CodeAuthenticationFailed, decodeErrorBody(t, resp.Body).Error.Code)
}

func TestPostParseErrors(t *testing.T) {
	h := newGatewayHarness(t)

	for _, body := range []string{`{not json`, `[]`, ``} {
		resp := h.post("calc", body, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
		assert.Equal(t, jsonrpc.CodeParseError, decodeErrorBody(t, resp.Body).Error.Code, "body %q", body)
		resp.Body.Close()
	}
}

func TestRequestRequiresSession(t *testing.T) {
	h := newGatewayHarness(t)
	body := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`

	// No session header at all.
	resp := h.post("calc", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, jsonrpc.CodeInvalidSessionID, decodeErrorBody(t, resp.Body).Error.Code)
	resp.Body.Close()

	// Well-formed but unknown session id.
	resp = h.post("calc", body, map[string]string{"Mcp-Session-Id": session.NewID()})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, jsonrpc.CodeSessionNotFound, decodeErrorBody(t, resp.Body).Error.Code)
	resp.Body.Close()

	// A session created on another upstream's endpoint does not transfer.
	other := h.initialize("files")
	resp = h.post("calc", body, map[string]string{"Mcp-Session-Id": other})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestToolsListServedFromCatalog(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	resp := h.post("calc", `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 1)
	require.Nil(t, frames[0].Error)

	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Result, &result))
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "calc__add", result.Tools[0].Name)
	assert.Equal(t, "[calc] Adds numbers", result.Tools[0].Description)

	// The list is answered from the catalog, never forwarded.
	assert.Empty(t, h.directory.sentRequests())
}

func TestToolsCallRewritesToolName(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	resp := h.post("calc",
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"calc__add","arguments":{"a":1,"b":2}}}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 1)
	require.Nil(t, frames[0].Error)
	assert.JSONEq(t, `{"ok":true}`, string(frames[0].Result))

	requests := h.directory.sentRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "up-1", requests[0].upstreamID)
	assert.Equal(t, "tools/call", requests[0].method)

	var inner struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(requests[0].params, &inner))
	assert.Equal(t, "add", inner.Name, "call must carry the upstream's own tool name")
	assert.JSONEq(t, `{"a":1,"b":2}`, string(inner.Arguments))
}

func TestToolsCallUnknownTool(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	resp := h.post("calc",
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope"}}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	defer resp.Body.Close()

	// The stream is already open; the failure travels as an error frame.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, frames[0].Error.Code)
	assert.Empty(t, h.directory.sentRequests())
}

func TestBatchAnswersInOrder(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	body := `[
		{"jsonrpc":"2.0","id":"a","method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":1}},
		{"jsonrpc":"2.0","id":"b","method":"ping"}
	]`
	resp := h.post("calc", body, map[string]string{"Mcp-Session-Id": sessionID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 2, "one frame per request, none for the notification")
	assert.JSONEq(t, `"a"`, string(frames[0].ID))
	assert.JSONEq(t, `"b"`, string(frames[1].ID))

	notifications := h.directory.sentNotifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "notifications/progress", notifications[0].method)
}

func TestNotificationsOnlyAccepted(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	resp := h.post("calc", `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)

	notifications := h.directory.sentNotifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "calc", notifications[0].upstreamID)
	assert.Equal(t, "notifications/initialized", notifications[0].method)
}

func TestScopedKeyCannotCallTools(t *testing.T) {
	h := newGatewayHarness(t)
	restricted := createTestKey(t, h.store, "read-only", []string{auth.ScopeConnect, auth.ScopeToolsList})

	resp := h.post("calc", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		map[string]string{"Authorization": "Bearer " + restricted})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	_ = readFrames(t, resp.Body)
	resp.Body.Close()

	resp = h.post("calc",
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"calc__add"}}`,
		map[string]string{
			"Authorization":  "Bearer " + restricted,
			"Mcp-Session-Id": sessionID,
		})
	defer resp.Body.Close()

	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, jsonrpc.CodeAuthenticationFailed, frames[0].Error.Code)
	assert.Empty(t, h.directory.sentRequests())
}

func TestUpstreamFailuresBecomeErrorFrames(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	cases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "upstream error passes through verbatim",
			err:      &upstream.UpstreamError{Upstream: "calc", Code: -32050, Message: "boom"},
			wantCode: -32050,
			wantMsg:  "boom",
		},
		{
			name:     "not ready maps to server unavailable",
			err:      &upstream.NotReadyError{Upstream: "calc", State: upstream.StateReconnecting},
			wantCode: jsonrpc.CodeServerUnavailable,
		},
		{
			name:     "timeout maps to request timeout",
			err:      &upstream.RequestTimeoutError{Upstream: "calc", Method: "resources/list", Timeout: time.Second},
			wantCode: jsonrpc.CodeRequestTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.directory.mu.Lock()
			h.directory.respond = func(string, string, json.RawMessage) (json.RawMessage, error) {
				return nil, tc.err
			}
			h.directory.mu.Unlock()

			resp := h.post("calc", `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`,
				map[string]string{"Mcp-Session-Id": sessionID})
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			frames := readFrames(t, resp.Body)
			require.Len(t, frames, 1)
			require.NotNil(t, frames[0].Error)
			assert.Equal(t, tc.wantCode, frames[0].Error.Code)
			if tc.wantMsg != "" {
				assert.Equal(t, tc.wantMsg, frames[0].Error.Message)
			}
		})
	}
}

func TestDeleteSession(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")

	req, _ := http.NewRequest(http.MethodDelete, h.http.URL+"/mcp/calc", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = h.sessions.Get(sessionID, "calc")
	require.Error(t, err)

	// Second delete: the session is gone.
	resp, err = h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, jsonrpc.CodeSessionNotFound, decodeErrorBody(t, resp.Body).Error.Code)
}

func TestGetRequiresEventStreamAccept(t *testing.T) {
	h := newGatewayHarness(t)

	req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/mcp/calc", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestGetUnknownSession(t *testing.T) {
	h := newGatewayHarness(t)

	req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/mcp/calc", nil)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Mcp-Session-Id", session.NewID())
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, jsonrpc.CodeSessionNotFound, decodeErrorBody(t, resp.Body).Error.Code)
}

func TestBackgroundStreamDeliversPushes(t *testing.T) {
	h := newGatewayHarness(t)
	sessionID := h.initialize("calc")
	otherSessionID := h.initialize("files")

	fanoutCtx, cancelFanout := context.WithCancel(context.Background())
	defer cancelFanout()
	go h.server.RunPushFanout(fanoutCtx)

	openStream := func(upstreamID, sid string) chan string {
		// Session id via query parameter exercises the header fallback.
		req, _ := http.NewRequest(http.MethodGet,
			fmt.Sprintf("%s/mcp/%s?mcpSessionId=%s", h.http.URL, upstreamID, sid), nil)
		req.Header.Set("Accept", "text/event-stream")
		resp, err := h.http.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		frames := make(chan string, 16)
		go func() {
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "data: ") {
					frames <- strings.TrimPrefix(line, "data: ")
				}
			}
		}()
		return frames
	}

	frames := openStream("calc", sessionID)
	otherFrames := openStream("files", otherSessionID)

	// The fan-out subscribes asynchronously; publish until a frame lands.
	payload := json.RawMessage(`{"method":"notifications/tools/list_changed"}`)
	var frame string
	require.Eventually(t, func() bool {
		h.bus.Publish(events.Event{Type: events.TypePushMessage, UpstreamID: "calc", Message: payload})
		select {
		case frame = <-frames:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "push never reached the background stream")

	var msg jsonrpc.Message
	require.NoError(t, json.Unmarshal([]byte(frame), &msg))
	assert.Equal(t, jsonrpc.Version, msg.JSONRPC, "fan-out must stamp the protocol version")
	assert.Equal(t, "notifications/tools/list_changed", msg.Method)

	// The session on the other upstream must see none of it.
	select {
	case leaked := <-otherFrames:
		t.Fatalf("push for calc leaked to a files session: %s", leaked)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHealthAndStats(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize("calc")

	resp, err := h.http.Client().Get(h.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Tools    int    `json:"tools"`
		Version  string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.Equal(t, 2, health.Tools)
	assert.Equal(t, "test", health.Version)

	resp, err = h.http.Client().Get(h.http.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		ActiveSessions  int `json:"activeSessions"`
		AggregatedTools int `json:"aggregatedTools"`
		Upstreams       []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"upstreams"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.AggregatedTools)
	require.Len(t, stats.Upstreams, 1)
	assert.Equal(t, "calc", stats.Upstreams[0].ID)
	assert.Equal(t, "running", stats.Upstreams[0].Status)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize("calc")

	resp, err := h.http.Client().Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcpgate_active_sessions 1")
	assert.Contains(t, string(body), "mcpgate_aggregated_tools 2")
	assert.Contains(t, string(body), `mcpgate_requests_total{method="initialize",outcome="success"} 1`)
	assert.Contains(t, string(body), `mcpgate_upstream_status{state="running",upstream="calc"} 1`)
}
