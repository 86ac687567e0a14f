// Package watcher implements the development-mode file watcher: it watches
// the paths configured for stdio upstreams and restarts the upstream's child
// process when they change. Back-to-back events are coalesced so a build
// that touches many files triggers one restart.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpgate/pkg/logging"
)

// debounceInterval coalesces bursts of change events per upstream.
const debounceInterval = 100 * time.Millisecond

// Restarter is the watcher's handle on the upstream registry: the ability to
// restart one upstream by id.
type Restarter interface {
	Restart(upstreamID string) error
}

// Rule binds one upstream to the paths whose changes restart it.
type Rule struct {
	UpstreamID string
	Paths      []string
}

// Watcher restarts stdio upstreams when their watched paths change.
type Watcher struct {
	restarter Restarter
	rules     []Rule

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher over the given rules. Rules without paths are
// dropped.
func New(restarter Restarter, rules []Rule) *Watcher {
	kept := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if len(rule.Paths) > 0 {
			kept = append(kept, rule)
		}
	}
	return &Watcher{
		restarter: restarter,
		rules:     kept,
		pending:   make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. With no rules it returns immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.rules) == 0 {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	watched := 0
	for _, rule := range w.rules {
		for _, path := range rule.Paths {
			if err := fsw.Add(path); err != nil {
				logging.Warn("DevWatcher", "Cannot watch %s for upstream %s: %v", path, rule.UpstreamID, err)
				continue
			}
			watched++
		}
	}
	logging.Info("DevWatcher", "Watching %d paths for %d upstreams", watched, len(w.rules))

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.handleChange(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("DevWatcher", "Watch error: %v", err)
		}
	}
}

// handleChange schedules a debounced restart for every upstream whose rule
// covers the changed path.
func (w *Watcher) handleChange(path string) {
	for _, rule := range w.rules {
		if !ruleCovers(rule, path) {
			continue
		}
		w.scheduleRestart(rule.UpstreamID, path)
	}
}

func ruleCovers(rule Rule, path string) bool {
	for _, watched := range rule.Paths {
		if path == watched || strings.HasPrefix(path, watched+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// scheduleRestart arms (or re-arms) the upstream's debounce timer.
func (w *Watcher) scheduleRestart(upstreamID, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[upstreamID]; ok {
		timer.Reset(debounceInterval)
		return
	}

	logging.Debug("DevWatcher", "Change at %s, restarting upstream %s after debounce", path, upstreamID)
	w.pending[upstreamID] = time.AfterFunc(debounceInterval, func() {
		w.mu.Lock()
		delete(w.pending, upstreamID)
		w.mu.Unlock()

		logging.Info("DevWatcher", "Restarting upstream %s after file change", upstreamID)
		if err := w.restarter.Restart(upstreamID); err != nil {
			logging.Error("DevWatcher", err, "Failed to restart upstream %s", upstreamID)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, timer := range w.pending {
		timer.Stop()
		delete(w.pending, id)
	}
}
