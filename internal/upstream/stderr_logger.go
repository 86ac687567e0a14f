package upstream

import (
	"bytes"
	"strings"
	"sync"

	"mcpgate/pkg/logging"
)

// stderrLogger forwards a child process's stderr to the log, one line per
// entry. Partial lines are buffered until the newline arrives.
type stderrLogger struct {
	label string
	emit  func(line string)

	mu  sync.Mutex
	buf []byte
}

func newStderrLogger(label string) *stderrLogger {
	return &stderrLogger{
		label: label,
		emit: func(line string) {
			logging.Debug("Connector", "Upstream %s stderr: %s", label, line)
		},
	}
}

// Write implements io.Writer for exec.Cmd.Stderr.
func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			return len(p), nil
		}
		line := strings.TrimSuffix(string(w.buf[:idx]), "\r")
		w.buf = w.buf[idx+1:]
		if line != "" {
			w.emit(line)
		}
	}
}

// Flush logs whatever is buffered as a final line. Called after the child
// exits.
func (w *stderrLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
