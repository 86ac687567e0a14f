package upstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/pkg/logging"
)

// stdioTermGrace is how long a child process gets to exit after SIGTERM
// before it is killed.
const stdioTermGrace = 5 * time.Second

// StdioClient implements the MCPClient interface over a child process's
// stdin and stdout. The client spawns the process itself and keeps the
// handle, so shutdown can escalate from SIGTERM to SIGKILL when the child
// ignores the termination grace. Stderr is forwarded to the log line by
// line.
type StdioClient struct {
	baseMCPClient
	command string
	args    []string
	env     map[string]string

	procMu sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
}

// NewStdioClient creates a new stdio-based MCP client. The child process is
// not started until Initialize.
func NewStdioClient(command string, args []string, env map[string]string) *StdioClient {
	if env == nil {
		env = make(map[string]string)
	}
	return &StdioClient{
		command: command,
		args:    args,
		env:     env,
	}
}

// Initialize spawns the child process and performs the protocol handshake
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("Connector", "Spawning stdio child: %s %v", c.command, c.args)

	cmd := exec.Command(c.command, c.args...)
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	stderr := newStderrLogger(c.command)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("failed to start %s: %w", c.command, err)
	}

	// The reaper owns cmd.Wait. An unexpected exit while connected is a
	// lost connection; intentional termination flips connected off first.
	done := make(chan struct{})
	go func() {
		waitErr := cmd.Wait()
		stderr.Flush()
		logging.Debug("Connector", "Child process %s (pid %d) exited: %v", c.command, cmd.Process.Pid, waitErr)
		close(done)

		c.mu.RLock()
		connected := c.connected
		handler := c.lostHandler
		c.mu.RUnlock()
		if connected && handler != nil {
			handler(fmt.Errorf("child process %s exited: %v", c.command, waitErr))
		}
	}()

	mcpClient := client.NewClient(transport.NewIO(stdout, stdin, io.NopCloser(strings.NewReader(""))))
	c.registerHandlers(mcpClient)

	if err := mcpClient.Start(ctx); err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("Connector", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		terminateProcess(cmd, done, c.command, stdioTermGrace)
		return fmt.Errorf("failed to start stdio transport: %w", err)
	}

	initResult, err := initializeProtocol(ctx, mcpClient)
	if err != nil {
		logging.Error("Connector", err, "Failed to initialize MCP protocol for %s", c.command)
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("Connector", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		terminateProcess(cmd, done, c.command, stdioTermGrace)
		return err
	}

	c.procMu.Lock()
	c.cmd = cmd
	c.done = done
	c.procMu.Unlock()
	c.client = mcpClient
	c.connected = true

	logging.Debug("Connector", "Stdio client initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// Close shuts down the transport and reaps the child process.
func (c *StdioClient) Close() error {
	err := c.closeClient()

	c.procMu.Lock()
	cmd, done := c.cmd, c.done
	c.procMu.Unlock()
	if cmd != nil {
		terminateProcess(cmd, done, c.command, stdioTermGrace)
	}
	return err
}

// Kill force-kills the child process without waiting out the termination
// grace. The connector escalates to it when a graceful close stalls.
func (c *StdioClient) Kill() {
	c.procMu.Lock()
	cmd, done := c.cmd, c.done
	c.procMu.Unlock()
	if cmd == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}
	logging.Warn("Connector", "Killing child process %s (pid %d)", c.command, cmd.Process.Pid)
	_ = cmd.Process.Kill()
	<-done
}

// terminateProcess reaps a spawned child: SIGTERM first, SIGKILL when it is
// still alive after the grace. It returns once the child has been reaped.
func terminateProcess(cmd *exec.Cmd, done chan struct{}, label string, grace time.Duration) {
	select {
	case <-done:
		return
	default:
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		logging.Warn("Connector", "Child process %s (pid %d) ignored SIGTERM for %s, killing it", label, cmd.Process.Pid, grace)
		_ = cmd.Process.Kill()
		<-done
	}
}

// ListTools returns all available tools from the server
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// ListResources returns all available resources from the server
func (c *StdioClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return c.listResources(ctx)
}

// ReadResource retrieves a specific resource
func (c *StdioClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.readResource(ctx, uri)
}

// ListPrompts returns all available prompts from the server
func (c *StdioClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return c.listPrompts(ctx)
}

// GetPrompt retrieves a specific prompt
func (c *StdioClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return c.getPrompt(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
