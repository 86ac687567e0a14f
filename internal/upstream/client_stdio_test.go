package upstream

import (
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startChild(t *testing.T, name string, args ...string) (*exec.Cmd, chan struct{}) {
	t.Helper()
	cmd := exec.Command(name, args...)
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return cmd, done
}

func TestTerminateProcessReapsCooperativeChild(t *testing.T) {
	cmd, done := startChild(t, "sleep", "60")

	start := time.Now()
	terminateProcess(cmd, done, "sleeper", 5*time.Second)

	select {
	case <-done:
	default:
		t.Fatal("child not reaped")
	}
	assert.Less(t, time.Since(start), 2*time.Second, "a child that honors SIGTERM must not wait out the grace")
}

func TestTerminateProcessKillsChildIgnoringSigterm(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; echo ready; while true; do sleep 1; done")
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	// Wait for the shell to report the trap is installed; signalling earlier
	// races its startup and the SIGTERM it is meant to ignore would kill it.
	buf := make([]byte, len("ready\n"))
	_, err = io.ReadFull(stdout, buf)
	require.NoError(t, err)

	start := time.Now()
	terminateProcess(cmd, done, "stubborn", 100*time.Millisecond)

	select {
	case <-done:
	default:
		t.Fatal("child survived the kill escalation")
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTerminateProcessNoopOnExitedChild(t *testing.T) {
	cmd, done := startChild(t, "true")
	<-done

	start := time.Now()
	terminateProcess(cmd, done, "gone", 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStdioKillReapsRunningChild(t *testing.T) {
	cmd, done := startChild(t, "sh", "-c", "trap '' TERM; while true; do sleep 1; done")

	cli := NewStdioClient("stubborn", nil, nil)
	cli.procMu.Lock()
	cli.cmd = cmd
	cli.done = done
	cli.procMu.Unlock()

	cli.Kill()
	select {
	case <-done:
	default:
		t.Fatal("Kill returned before the child was reaped")
	}

	// A second Kill on the dead child must not block or panic.
	cli.Kill()
}

func TestStdioKillWithoutChildIsNoop(t *testing.T) {
	NewStdioClient("calc-server", nil, nil).Kill()
}

func TestStderrLoggerBuffersPartialLines(t *testing.T) {
	var lines []string
	w := newStderrLogger("calc")
	w.emit = func(line string) { lines = append(lines, line) }

	_, err := w.Write([]byte("warming "))
	require.NoError(t, err)
	assert.Empty(t, lines, "partial line must not be emitted")

	_, err = w.Write([]byte("up\r\nready\nloading"))
	require.NoError(t, err)
	assert.Equal(t, []string{"warming up", "ready"}, lines)

	w.Flush()
	assert.Equal(t, []string{"warming up", "ready", "loading"}, lines)

	// Blank lines are dropped, a second flush emits nothing.
	_, err = w.Write([]byte("\n\n"))
	require.NoError(t, err)
	w.Flush()
	assert.Len(t, lines, 3)
}
