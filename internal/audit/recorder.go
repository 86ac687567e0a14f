package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpgate/internal/storage"
	"mcpgate/pkg/logging"
)

const (
	queueSize     = 1024
	batchSize     = 64
	flushInterval = 500 * time.Millisecond
	writeTimeout  = 10 * time.Second
)

// Recorder is the single writer of traffic rows. Handlers call Record and
// move on; the worker owns persistence.
type Recorder struct {
	store *storage.Store
	queue chan *storage.TrafficRecord

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewRecorder starts the audit worker. A nil store produces a recorder that
// drops everything, which keeps storage optional in tests.
func NewRecorder(store *storage.Store) *Recorder {
	r := &Recorder{
		store:  store,
		queue:  make(chan *storage.TrafficRecord, queueSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.worker()
	return r
}

// Record enqueues one traffic row, filling in the id and timestamp when
// absent. It never blocks: when the queue is full the row is dropped with a
// warning.
func (r *Recorder) Record(record *storage.TrafficRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	select {
	case <-r.closed:
	case r.queue <- record:
	default:
		logging.Warn("Audit", "Queue full, dropping traffic record for method %s", record.MCPMethod)
	}
}

// Close stops accepting rows, flushes the queue and waits for the worker.
// The queue channel itself is never closed; Record may race with Close and a
// send on a closed channel would panic.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
	<-r.done
}

// worker drains the queue, batching rows to amortize insert cost. Failures
// are logged and the batch is discarded.
func (r *Recorder) worker() {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*storage.TrafficRecord, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case record := <-r.queue:
			batch = append(batch, record)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.closed:
			// Drain whatever made it into the queue before the close.
			for {
				select {
				case record := <-r.queue:
					batch = append(batch, record)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) write(batch []*storage.TrafficRecord) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.InsertTrafficBatch(ctx, batch); err != nil {
		logging.Error("Audit", err, "Failed to write %d traffic records", len(batch))
	}
}
