package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refusingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not an MCP server", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSSEInitializeFailureLeavesClientClean(t *testing.T) {
	srv := refusingServer(t)

	cli := NewSSEClient(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Error(t, cli.Initialize(ctx))

	cli.mu.RLock()
	defer cli.mu.RUnlock()
	assert.False(t, cli.connected)
	assert.Nil(t, cli.client, "a failed Initialize must not keep the transport")
}

func TestStreamableHTTPInitializeFailureLeavesClientClean(t *testing.T) {
	srv := refusingServer(t)

	cli := NewStreamableHTTPClient(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Error(t, cli.Initialize(ctx))

	cli.mu.RLock()
	defer cli.mu.RUnlock()
	assert.False(t, cli.connected)
	assert.Nil(t, cli.client, "a failed Initialize must not keep the transport")
}
