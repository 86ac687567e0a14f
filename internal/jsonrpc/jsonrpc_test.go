package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKind(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{
			name: "request with numeric id",
			raw:  `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			want: KindRequest,
		},
		{
			name: "request with string id",
			raw:  `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{}}`,
			want: KindRequest,
		},
		{
			name: "notification",
			raw:  `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			want: KindNotification,
		},
		{
			name: "null id is treated as absent",
			raw:  `{"jsonrpc":"2.0","id":null,"method":"ping"}`,
			want: KindNotification,
		},
		{
			name: "response with result",
			raw:  `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`,
			want: KindResponse,
		},
		{
			name: "response with error",
			raw:  `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`,
			want: KindResponse,
		},
		{
			name: "id without result or error",
			raw:  `{"jsonrpc":"2.0","id":1}`,
			want: KindInvalid,
		},
		{
			name: "empty object",
			raw:  `{}`,
			want: KindInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			assert.Equal(t, tt.want, msg.Kind())
		})
	}
}

func TestParseBody(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCount int
		wantBatch bool
		wantErr   bool
	}{
		{
			name:      "single message",
			body:      `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
			wantCount: 1,
			wantBatch: false,
		},
		{
			name:      "batch of two",
			body:      `[{"jsonrpc":"2.0","id":1,"method":"tools/list"},{"jsonrpc":"2.0","method":"notifications/initialized"}]`,
			wantCount: 2,
			wantBatch: true,
		},
		{
			name:      "leading whitespace before batch",
			body:      "  \n\t[{\"jsonrpc\":\"2.0\",\"id\":7,\"method\":\"ping\"}]",
			wantCount: 1,
			wantBatch: true,
		},
		{
			name:    "empty batch",
			body:    `[]`,
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    ``,
			wantErr: true,
		},
		{
			name:    "garbage",
			body:    `{not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, batch, err := ParseBody([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, msgs, tt.wantCount)
			assert.Equal(t, tt.wantBatch, batch)
		})
	}
}

func TestParseBodyPreservesRawID(t *testing.T) {
	msgs, _, err := ParseBody([]byte(`{"jsonrpc":"2.0","id":"req-042","method":"tools/call"}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `"req-042"`, string(msgs[0].ID))
}

func TestNewResponse(t *testing.T) {
	resp, err := NewResponse(json.RawMessage(`42`), map[string]string{"status": "ok"})
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":42,"result":{"status":"ok"}}`, string(data))
}

func TestNewErrorNullID(t *testing.T) {
	resp := NewError(nil, CodeParseError, "")

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, string(data))
}

func TestNewErrorKeepsExplicitMessage(t *testing.T) {
	resp := NewError(json.RawMessage(`1`), CodeSessionNotFound, "session expired")

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeSessionNotFound, resp.Error.Code)
	assert.Equal(t, "session expired", resp.Error.Message)
}

func TestErrorObjectError(t *testing.T) {
	e := &ErrorObject{Code: CodeRequestTimeout, Message: "Request timeout"}
	assert.Equal(t, "jsonrpc error -32005: Request timeout", e.Error())
}

func TestCodeText(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{CodeParseError, "Parse error"},
		{CodeMethodNotFound, "Method not found"},
		{CodeServerUnavailable, "Server unavailable"},
		{CodeRequestTimeout, "Request timeout"},
		{CodeUnauthenticated, "Unauthenticated"},
		{CodeSessionNotFound, "Session not found"},
		{CodeMaxSessions, "Maximum sessions reached"},
		{12345, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeText(tt.code), "code %d", tt.code)
	}
}
