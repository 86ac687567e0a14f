package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mcpgate/pkg/logging"
)

// Stream timing. A peer that cannot absorb a frame within the write timeout
// loses its stream; the keep-alive comment defeats idle proxies.
const (
	streamWriteTimeout = 10 * time.Second
	keepAliveInterval  = 25 * time.Second

	// backgroundQueueSize bounds undelivered frames per background stream.
	// Beyond it the oldest frames are dropped.
	backgroundQueueSize = 256
)

// sseHeaders stamps the response as an event stream.
func sseHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// postStream is the short-lived SSE response carrying the answers to one
// POST batch. The handler goroutine is the only writer; the mutex exists
// because CloseStream may race the final write when the session is deleted
// mid-batch.
type postStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu     sync.Mutex
	closed bool
	cancel func()
}

func newPostStream(w http.ResponseWriter, cancel func()) *postStream {
	return &postStream{w: w, rc: http.NewResponseController(w), cancel: cancel}
}

// writeFrame emits one data: frame and flushes it, bounded by the stream
// write timeout.
func (p *postStream) writeFrame(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("stream closed")
	}

	_ = p.rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if _, err := fmt.Fprintf(p.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := p.rc.Flush(); err != nil {
		return fmt.Errorf("flushing frame: %w", err)
	}
	return nil
}

// writeMessage marshals v and emits it as one frame.
func (p *postStream) writeMessage(v interface{}) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshaling frame: %w", err)
	}
	return len(payload), p.writeFrame(payload)
}

// CloseStream cancels the request the stream belongs to. The session store
// calls it when the session is deleted or expires.
func (p *postStream) CloseStream() {
	p.mu.Lock()
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// backgroundStream is the session's long-lived push stream. Producers
// enqueue frames; the GET handler goroutine drains the queue onto the wire,
// which serializes all writes for the stream.
type backgroundStream struct {
	sessionID string
	frames    chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newBackgroundStream(sessionID string) *backgroundStream {
	return &backgroundStream{
		sessionID: sessionID,
		frames:    make(chan []byte, backgroundQueueSize),
		closed:    make(chan struct{}),
	}
}

// Enqueue hands a frame to the stream without blocking. When the queue is
// full the oldest undelivered frame is dropped to make room; a slow consumer
// loses history, not the stream.
func (b *backgroundStream) Enqueue(frame []byte) {
	select {
	case <-b.closed:
		return
	default:
	}

	select {
	case b.frames <- frame:
		return
	default:
	}

	select {
	case <-b.frames:
		logging.Warn("Gateway", "Background stream for session %s is slow, dropped oldest frame",
			logging.TruncateSessionID(b.sessionID))
	default:
	}
	select {
	case b.frames <- frame:
	default:
	}
}

// CloseStream wakes the writer loop so it can exit and release the response.
func (b *backgroundStream) CloseStream() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// serve drains the stream onto the response until the client disconnects,
// the stream is closed, or a write fails. It owns all writes to w.
func (b *backgroundStream) serve(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	write := func(format string, args ...interface{}) error {
		_ = rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := write(": background stream open\n\n"); err != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-b.closed:
			return
		case frame := <-b.frames:
			if err := write("data: %s\n\n", frame); err != nil {
				logging.Debug("Gateway", "Dropping background stream for session %s: %v",
					logging.TruncateSessionID(b.sessionID), err)
				return
			}
		case <-keepAlive.C:
			if err := write(": keepalive\n\n"); err != nil {
				return
			}
		}
	}
}
