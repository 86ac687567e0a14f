package session

import (
	"encoding/json"
	"sync"
	"time"

	"mcpgate/pkg/logging"
)

// Store defaults. The idle timeout and sweep cadence are part of the
// gateway's external contract.
const (
	DefaultIdleTimeout     = 60 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
	DefaultMaxSessions     = 10000
)

// Stream is the store's view of one response stream bound to a session. The
// concrete streams live in the gateway; the store only needs to be able to
// close them when the session ends.
type Stream interface {
	// CloseStream asks the stream's owner to shut it down. It must be safe
	// to call more than once and from any goroutine.
	CloseStream()
}

// Session is one client conversation bound to an upstream endpoint.
type Session struct {
	ID           string
	UpstreamID   string
	APIKeyID     string
	Capabilities json.RawMessage
	CreatedAt    time.Time

	mu           sync.Mutex
	lastActivity time.Time
	background   Stream
	postStreams  map[Stream]struct{}
	closed       bool
}

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity, deferring idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// AttachBackground registers the session's single background push stream,
// returning the previous one so the caller can close it. Attaching to a
// closed session fails.
func (s *Session) AttachBackground(stream Stream) (evicted Stream, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	evicted = s.background
	s.background = stream
	s.lastActivity = time.Now()
	return evicted, true
}

// DetachBackground removes the background stream if it is still the given
// one. Streams deregister themselves on exit; by then a newer stream may have
// evicted them.
func (s *Session) DetachBackground(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.background == stream {
		s.background = nil
	}
}

// Background returns the current background push stream, or nil.
func (s *Session) Background() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background
}

// TrackPostStream registers a per-POST response stream for the session's
// lifetime bookkeeping.
func (s *Session) TrackPostStream(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.postStreams == nil {
		s.postStreams = make(map[Stream]struct{})
	}
	s.postStreams[stream] = struct{}{}
}

// UntrackPostStream deregisters a finished POST response stream.
func (s *Session) UntrackPostStream(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.postStreams, stream)
}

// closeStreams closes every bound stream and marks the session closed. It
// collects the streams under the lock but closes them outside it, because
// CloseStream implementations may call back into the session to deregister.
func (s *Session) closeStreams() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	streams := make([]Stream, 0, len(s.postStreams)+1)
	if s.background != nil {
		streams = append(streams, s.background)
		s.background = nil
	}
	for stream := range s.postStreams {
		streams = append(streams, stream)
	}
	s.postStreams = nil
	s.mu.Unlock()

	for _, stream := range streams {
		stream.CloseStream()
	}
}

// Store holds all live sessions and runs their idle expiry. It is the only
// component that creates or removes sessions.
type Store struct {
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	maxSessions     int

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates a session store with the default timeout, sweep interval
// and session limit, and starts the cleanup loop. Callers must Stop it.
func NewStore() *Store {
	return NewStoreWithLimits(DefaultIdleTimeout, DefaultCleanupInterval, DefaultMaxSessions)
}

// NewStoreWithLimits creates a session store with explicit limits. Tests use
// short timeouts here.
func NewStoreWithLimits(idleTimeout, cleanupInterval time.Duration, maxSessions int) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	store := &Store{
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
		maxSessions:     maxSessions,
		sessions:        make(map[string]*Session),
		stop:            make(chan struct{}),
	}
	go store.cleanupLoop()
	return store
}

// Create allocates a session bound to the upstream. Session ids are never
// reused: a generated id that already exists (which the entropy makes all but
// impossible) is regenerated rather than handed out twice.
func (st *Store) Create(upstreamID, apiKeyID string, capabilities json.RawMessage) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.sessions) >= st.maxSessions {
		return nil, &LimitError{Limit: st.maxSessions}
	}

	id := NewID()
	for _, exists := st.sessions[id]; exists; _, exists = st.sessions[id] {
		id = NewID()
	}

	now := time.Now()
	session := &Session{
		ID:           id,
		UpstreamID:   upstreamID,
		APIKeyID:     apiKeyID,
		Capabilities: capabilities,
		CreatedAt:    now,
		lastActivity: now,
	}
	st.sessions[id] = session

	logging.Debug("SessionStore", "Created session %s for upstream %s (%d active)",
		TruncateID(id), upstreamID, len(st.sessions))
	return session, nil
}

// Get returns the session for id, enforcing that it is bound to upstreamID.
// A session created on one upstream endpoint is invisible on every other.
func (st *Store) Get(id, upstreamID string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	st.mu.RLock()
	session, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok || session.UpstreamID != upstreamID {
		return nil, &NotFoundError{SessionID: id}
	}
	session.Touch()
	return session, nil
}

// Delete removes the session and closes all its streams.
func (st *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	st.mu.Lock()
	session, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return &NotFoundError{SessionID: id}
	}
	session.closeStreams()
	logging.Debug("SessionStore", "Deleted session %s", TruncateID(id))
	return nil
}

// ForUpstream returns the sessions bound to an upstream. The push fan-out
// uses it to find background streams.
func (st *Store) ForUpstream(upstreamID string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var sessions []*Session
	for _, session := range st.sessions {
		if session.UpstreamID == upstreamID {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Stop halts the cleanup loop and closes every remaining session.
func (st *Store) Stop() {
	st.stopOnce.Do(func() { close(st.stop) })

	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		sessions = append(sessions, session)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, session := range sessions {
		session.closeStreams()
	}
}

func (st *Store) cleanupLoop() {
	ticker := time.NewTicker(st.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

// sweep removes sessions idle past the timeout, closing their streams. Each
// expired session is handled independently; the sweep holds the store lock
// only while collecting.
func (st *Store) sweep() {
	cutoff := time.Now().Add(-st.idleTimeout)

	st.mu.Lock()
	var expired []*Session
	for id, session := range st.sessions {
		if session.LastActivity().Before(cutoff) {
			expired = append(expired, session)
			delete(st.sessions, id)
		}
	}
	remaining := len(st.sessions)
	st.mu.Unlock()

	for _, session := range expired {
		session.closeStreams()
	}
	if len(expired) > 0 {
		logging.Info("SessionStore", "Expired %d idle sessions (%d active)", len(expired), remaining)
	}
}
