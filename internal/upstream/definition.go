package upstream

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/storage"
)

// Default timeouts for upstream connections. A per-upstream request timeout
// can be set through the mcp_options column.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Definition carries everything a connector needs to reach one upstream. It
// is assembled from a managed_mcp_server row or a static config entry; the
// connector itself never touches storage.
type Definition struct {
	ID        string
	Name      string
	Alias     string
	Transport config.TransportType

	// Command, Args and Env apply to the stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// URL and Headers apply to the network transports.
	URL     string
	Headers map[string]string

	// WatchPaths feed the dev watcher. Only stdio upstreams are restarted
	// on file changes.
	WatchPaths []string

	// RequestTimeout overrides DefaultRequestTimeout when positive.
	RequestTimeout time.Duration
}

// Options is the decoded mcp_options JSON column of a managed server row.
type Options struct {
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds,omitempty"`
}

// Label returns the operator-facing name: the alias when set, else the name.
func (d Definition) Label() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

func (d Definition) requestTimeout() time.Duration {
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return DefaultRequestTimeout
}

// Fingerprint digests the connection-relevant fields. Two definitions with
// the same fingerprint can be swapped without restarting the transport;
// anything else requires a stop-and-start.
func (d Definition) Fingerprint() string {
	var b strings.Builder
	b.WriteString(string(d.Transport))
	b.WriteByte('|')
	b.WriteString(d.Command)
	for _, arg := range d.Args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	b.WriteByte('|')
	for _, pair := range sortedPairs(d.Env) {
		b.WriteString(pair)
		b.WriteByte(';')
	}
	b.WriteByte('|')
	b.WriteString(d.URL)
	b.WriteByte('|')
	for _, pair := range sortedPairs(d.Headers) {
		b.WriteString(pair)
		b.WriteByte(';')
	}
	return b.String()
}

func sortedPairs(m map[string]string) []string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Validate checks that the definition is connectable. It mirrors the static
// config checks so rows created through the CLI or marketplace installs get
// the same treatment as file entries.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("upstream definition requires a name")
	}
	switch d.Transport {
	case config.TransportStdio:
		if d.Command == "" {
			return fmt.Errorf("upstream %s: stdio transport requires a command", d.Name)
		}
	case config.TransportSSE, config.TransportStreamableHTTP, config.TransportWebSocket:
		if d.URL == "" {
			return fmt.Errorf("upstream %s: %s transport requires a url", d.Name, d.Transport)
		}
	default:
		return fmt.Errorf("upstream %s: unknown transport %q", d.Name, d.Transport)
	}
	return nil
}

// FromConfig builds a Definition from a static config entry. File entries
// use their name as the upstream id so development setups get stable
// endpoint paths without a database row.
func FromConfig(uc config.UpstreamConfig) Definition {
	return Definition{
		ID:         uc.Name,
		Name:       uc.Name,
		Alias:      uc.Alias,
		Transport:  uc.Transport,
		Command:    uc.Command,
		Args:       uc.Args,
		Env:        uc.Env,
		URL:        uc.URL,
		Headers:    uc.Headers,
		WatchPaths: uc.WatchPaths,
	}
}

// FromRecord builds a Definition from a managed_mcp_server row.
func FromRecord(rec *storage.ManagedServer) (Definition, error) {
	def := Definition{
		ID:        rec.ID,
		Name:      rec.Name,
		Alias:     rec.ConnectionDetails.Alias,
		Transport: config.TransportType(rec.ServerType),
		Command:   rec.ConnectionDetails.Command,
		Args:      rec.ConnectionDetails.Args,
		Env:       rec.ConnectionDetails.Env,
		URL:       rec.ConnectionDetails.URL,
		Headers:   rec.ConnectionDetails.Headers,
	}
	if len(rec.MCPOptions) > 0 {
		var opts Options
		if err := json.Unmarshal(rec.MCPOptions, &opts); err != nil {
			return Definition{}, fmt.Errorf("decoding mcp options for %s: %w", rec.Name, err)
		}
		if opts.RequestTimeoutSeconds > 0 {
			def.RequestTimeout = time.Duration(opts.RequestTimeoutSeconds) * time.Second
		}
	}
	return def, nil
}
