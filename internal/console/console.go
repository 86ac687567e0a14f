// Package console is the interactive developer REPL speaking MCP to a
// running gateway over streamable HTTP. It reuses the gateway's own upstream
// client, so what works here works for any MCP client pointed at the same
// endpoint.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/internal/upstream"
	pkgstrings "mcpgate/pkg/strings"
)

// EnvAPIKey names the environment variable the console reads the API key
// from. There is no bypass here; the console authenticates like any client.
const EnvAPIKey = "MCPGATE_API_KEY"

const callTimeout = 60 * time.Second

// Console is one REPL session against a gateway endpoint.
type Console struct {
	endpoint string
	client   *upstream.StreamableHTTPClient
	out      io.Writer
}

// New creates a console for the gateway MCP endpoint. The API key, when
// present, travels as the X-Api-Key header.
func New(endpoint, apiKey string) *Console {
	headers := map[string]string{}
	if apiKey != "" {
		headers["X-Api-Key"] = apiKey
	}
	return &Console{
		endpoint: endpoint,
		client:   upstream.NewStreamableHTTPClient(endpoint, headers),
		out:      os.Stdout,
	}
}

// Run connects, then reads commands until exit or EOF.
func (c *Console) Run(ctx context.Context) error {
	if err := c.client.Initialize(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.endpoint, err)
	}
	defer c.client.Close()

	fmt.Fprintf(c.out, "Connected to %s. Commands: list, call <tool> [json-args], status, exit\n", c.endpoint)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mcpgate> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".mcpgate_console_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("list"),
			readline.PcItem("call"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return fmt.Errorf("creating readline: %w", err)
	}
	defer rl.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("readline: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := c.execute(ctx, input); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *Console) execute(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "help":
		fmt.Fprintln(c.out, "list                      list aggregated tools")
		fmt.Fprintln(c.out, "call <tool> [json-args]   invoke a tool")
		fmt.Fprintln(c.out, "status                    ping the gateway")
		fmt.Fprintln(c.out, "exit                      leave the console")
		return nil
	case "list":
		return c.listTools(ctx)
	case "call":
		if len(fields) < 2 {
			return fmt.Errorf("usage: call <tool> [json-args]")
		}
		argsJSON := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(input, "call"), " "+fields[1]))
		return c.callTool(ctx, fields[1], argsJSON)
	case "status":
		if err := c.client.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "gateway is up")
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

func (c *Console) listTools(ctx context.Context) error {
	tools, err := withSpinner("listing tools", func(ctx context.Context) ([]mcp.Tool, error) {
		return c.client.ListTools(ctx)
	})
	if err != nil {
		return err
	}
	for _, tool := range tools {
		fmt.Fprintf(c.out, "  %-40s %s\n", tool.Name,
			pkgstrings.TruncateDescription(tool.Description, pkgstrings.DefaultDescriptionMaxLen))
	}
	fmt.Fprintf(c.out, "%d tools\n", len(tools))
	return nil
}

func (c *Console) callTool(ctx context.Context, name, argsJSON string) error {
	args := map[string]interface{}{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	result, err := withSpinner("calling "+name, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return c.client.CallTool(ctx, name, args)
	})
	if err != nil {
		return err
	}

	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			fmt.Fprintln(c.out, text.Text)
			continue
		}
		raw, _ := json.MarshalIndent(content, "", "  ")
		fmt.Fprintln(c.out, string(raw))
	}
	if result.IsError {
		fmt.Fprintln(c.out, "(tool reported an error)")
	}
	return nil
}

// withSpinner runs op with a terminal spinner and a call timeout.
func withSpinner[T any](label string, op func(context.Context) (T, error)) (T, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + label
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return op(ctx)
}
