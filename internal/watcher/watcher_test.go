package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	mu       sync.Mutex
	restarts []string
}

func (r *fakeRestarter) Restart(upstreamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts = append(r.restarts, upstreamID)
	return nil
}

func (r *fakeRestarter) count(upstreamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.restarts {
		if id == upstreamID {
			n++
		}
	}
	return n
}

func TestNewDropsRulesWithoutPaths(t *testing.T) {
	w := New(&fakeRestarter{}, []Rule{
		{UpstreamID: "a", Paths: []string{"/tmp/a"}},
		{UpstreamID: "b"},
	})
	require.Len(t, w.rules, 1)
	assert.Equal(t, "a", w.rules[0].UpstreamID)
}

func TestRunWithoutRulesReturns(t *testing.T) {
	w := New(&fakeRestarter{}, nil)
	require.NoError(t, w.Run(context.Background()))
}

func TestRuleCovers(t *testing.T) {
	rule := Rule{UpstreamID: "a", Paths: []string{"/srv/app"}}

	assert.True(t, ruleCovers(rule, "/srv/app"))
	assert.True(t, ruleCovers(rule, filepath.Join("/srv/app", "main.py")))
	assert.False(t, ruleCovers(rule, "/srv/application"))
	assert.False(t, ruleCovers(rule, "/srv/other"))
}

func TestScheduleRestartDebounces(t *testing.T) {
	restarter := &fakeRestarter{}
	w := New(restarter, []Rule{{UpstreamID: "a", Paths: []string{"/srv/app"}}})

	// A burst of changes collapses into one restart.
	for i := 0; i < 5; i++ {
		w.scheduleRestart("a", "/srv/app/main.py")
	}

	require.Eventually(t, func() bool {
		return restarter.count("a") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The timer is disarmed after firing; a later change restarts again.
	w.scheduleRestart("a", "/srv/app/main.py")
	require.Eventually(t, func() bool {
		return restarter.count("a") == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelPendingStopsTimers(t *testing.T) {
	restarter := &fakeRestarter{}
	w := New(restarter, []Rule{{UpstreamID: "a", Paths: []string{"/srv/app"}}})

	w.scheduleRestart("a", "/srv/app/main.py")
	w.cancelPending()

	time.Sleep(3 * debounceInterval)
	assert.Zero(t, restarter.count("a"))
}

func TestWatcherRestartsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	restarter := &fakeRestarter{}
	w := New(restarter, []Rule{{UpstreamID: "calc", Paths: []string{dir}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give Run a moment to register the watch before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.py"), []byte("print()"), 0o644))

	require.Eventually(t, func() bool {
		return restarter.count("calc") >= 1
	}, 5*time.Second, 20*time.Millisecond, "file change never triggered a restart")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestChangeOutsideRulesIsIgnored(t *testing.T) {
	restarter := &fakeRestarter{}
	w := New(restarter, []Rule{{UpstreamID: "a", Paths: []string{"/srv/app"}}})

	w.handleChange("/srv/other/file.py")

	time.Sleep(3 * debounceInterval)
	assert.Empty(t, restarter.restarts)
}
