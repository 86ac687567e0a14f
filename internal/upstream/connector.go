package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/internal/events"
	"mcpgate/pkg/logging"
)

// State is the connector lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateStopping     State = "stopping"
)

// Reconnect schedule. The first retry waits backoffBase, each further retry
// doubles the wait up to backoffCap, and every wait gets up to backoffJitter
// of random slack so a fleet of connectors does not retry in lockstep.
const (
	backoffBase          = 5 * time.Second
	backoffFactor        = 2
	backoffCap           = 60 * time.Second
	backoffJitter        = time.Second
	maxReconnectAttempts = 5
)

// closeGrace bounds how long Stop waits for the transport to shut down
// before force-killing the child process, where the transport has one.
const closeGrace = 5 * time.Second

// livenessProbeTimeout bounds the ping issued after a request-level
// transport error.
const livenessProbeTimeout = 5 * time.Second

const methodToolsListChanged = "notifications/tools/list_changed"

// backoffSchedule parameterizes reconnection. Tests compress it so the
// exhaustion path runs in milliseconds.
type backoffSchedule struct {
	base        time.Duration
	factor      int
	cap         time.Duration
	jitter      time.Duration
	maxAttempts int
}

var defaultBackoff = backoffSchedule{
	base:        backoffBase,
	factor:      backoffFactor,
	cap:         backoffCap,
	jitter:      backoffJitter,
	maxAttempts: maxReconnectAttempts,
}

// delay computes the wait before reconnect attempt n (1-based).
func (s backoffSchedule) delay(attempt int) time.Duration {
	delay := s.base
	for i := 1; i < attempt && delay < s.cap; i++ {
		delay *= time.Duration(s.factor)
	}
	if delay > s.cap {
		delay = s.cap
	}
	if s.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(s.jitter)))
	}
	return delay
}

// Connector owns the connection to one upstream: the transport client, the
// lifecycle state machine around it and the reconnect schedule. All state
// transitions are published on the event bus.
//
// The generation counter invalidates asynchronous work: Stop and Start bump
// it, and every callback, timer and connect attempt re-checks it under the
// lock before touching connector state.
type Connector struct {
	bus *events.Bus

	// newClient builds the transport client; tests swap in fakes.
	newClient func(Definition) (MCPClient, error)

	// backoff is the reconnect schedule; tests compress it.
	backoff backoffSchedule

	mu         sync.Mutex
	def        Definition
	state      State
	lastErr    error
	client     MCPClient
	tools      []mcp.Tool
	attempts   int
	generation uint64
	reconnect  *time.Timer
	probing    bool
}

// NewConnector creates a connector in the stopped state. Start must be
// called to begin connecting.
func NewConnector(def Definition, bus *events.Bus) *Connector {
	return NewConnectorWithClientFactory(def, bus, NewClient)
}

// NewConnectorWithClientFactory creates a connector whose transport clients
// come from newClient instead of the default factory. Callers with custom
// transports, and tests with in-memory ones, use this.
func NewConnectorWithClientFactory(def Definition, bus *events.Bus, newClient func(Definition) (MCPClient, error)) *Connector {
	return &Connector{
		bus:       bus,
		newClient: newClient,
		backoff:   defaultBackoff,
		def:       def,
		state:     StateStopped,
	}
}

// ID returns the upstream id. It never changes over the connector's life.
func (c *Connector) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def.ID
}

// Definition returns the current definition.
func (c *Connector) Definition() Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the most recent error or reconnecting
// transition, if any.
func (c *Connector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Tools returns a copy of the most recently fetched tool set. It is empty
// whenever the connector is not running.
func (c *Connector) Tools() []mcp.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// setStateLocked transitions the state machine and publishes the change.
// Caller holds mu.
func (c *Connector) setStateLocked(next State, err error) {
	if c.state == next {
		return
	}
	old := c.state
	c.state = next
	c.lastErr = err

	if err != nil {
		logging.Warn("Connector", "Upstream %s: %s -> %s: %v", c.def.Label(), old, next, err)
	} else {
		logging.Info("Connector", "Upstream %s: %s -> %s", c.def.Label(), old, next)
	}

	c.bus.Publish(events.Event{
		Type:       events.TypeStatusChange,
		UpstreamID: c.def.ID,
		OldState:   string(old),
		NewState:   string(next),
		Err:        err,
	})
}

// Start begins connecting. It is a no-op while an attempt is in flight or a
// connection is established, and it cancels any scheduled reconnect in favor
// of an immediate attempt.
func (c *Connector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStarting, StateRunning:
		return
	}

	c.stopReconnectTimerLocked()
	c.attempts = 0
	c.generation++
	gen := c.generation
	c.setStateLocked(StateStarting, nil)
	go c.connect(gen)
}

// Stop closes the transport and disables reconnection until the next Start.
// Requests in flight fail with NotReadyError.
func (c *Connector) Stop() {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}

	c.generation++
	c.stopReconnectTimerLocked()
	cli := c.client
	label := c.def.Label()
	c.client = nil
	c.tools = nil
	c.attempts = 0
	c.setStateLocked(StateStopping, nil)
	c.mu.Unlock()

	if cli != nil {
		closeWithGrace(cli, label, closeGrace)
	}

	c.mu.Lock()
	c.setStateLocked(StateStopped, nil)
	c.mu.Unlock()
}

// Restart stops and starts the connector. The dev watcher uses it after a
// watched path changes.
func (c *Connector) Restart() {
	c.Stop()
	c.Start()
}

// UpdateConfig applies a new definition. A change to the connection-relevant
// fields restarts the transport; anything else is swapped in place.
func (c *Connector) UpdateConfig(def Definition) {
	c.mu.Lock()
	materialChange := c.def.Fingerprint() != def.Fingerprint()
	active := c.state != StateStopped && c.state != StateStopping
	c.def = def
	c.mu.Unlock()

	if materialChange && active {
		logging.Info("Connector", "Upstream %s: connection settings changed, restarting", def.Label())
		c.Restart()
	}
}

// processKiller is implemented by transports that own a child process and can
// force-kill it when a graceful close stalls.
type processKiller interface {
	Kill()
}

// closeWithGrace closes the client with a bounded wait. A transport that owns
// a child process gets the child killed when the grace expires; anything else
// that wedges is abandoned so the caller cannot hang.
func closeWithGrace(cli MCPClient, label string, grace time.Duration) {
	done := make(chan error, 1)
	go func() { done <- cli.Close() }()

	select {
	case err := <-done:
		if err != nil {
			logging.Debug("Connector", "Upstream %s: close error: %v", label, err)
		}
	case <-time.After(grace):
		killer, ok := cli.(processKiller)
		if !ok {
			logging.Warn("Connector", "Upstream %s: transport did not close within %s, abandoning it", label, grace)
			return
		}
		logging.Warn("Connector", "Upstream %s: transport did not close within %s, killing the child process", label, grace)
		killer.Kill()
		select {
		case err := <-done:
			if err != nil {
				logging.Debug("Connector", "Upstream %s: close error: %v", label, err)
			}
		case <-time.After(grace):
			logging.Warn("Connector", "Upstream %s: transport still did not close after kill, abandoning it", label)
		}
	}
}

func (c *Connector) stopReconnectTimerLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// connect runs one connection attempt. It holds no locks while dialing; the
// generation guard discards the result if the connector was stopped or
// restarted in the meantime.
func (c *Connector) connect(gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	def := c.def
	c.mu.Unlock()

	cli, err := c.newClient(def)
	if err != nil {
		c.connectFailed(gen, err)
		return
	}

	cli.OnNotification(func(method string, message json.RawMessage) {
		c.handleNotification(gen, method, message)
	})
	cli.OnConnectionLost(func(err error) {
		c.handleConnectionLost(gen, err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), DefaultConnectTimeout)
	defer cancel()

	if err := cli.Initialize(ctx); err != nil {
		c.connectFailed(gen, err)
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		closeWithGrace(cli, def.Label(), closeGrace)
		return
	}
	c.client = cli
	c.attempts = 0
	c.setStateLocked(StateRunning, nil)
	c.mu.Unlock()

	c.refreshTools(gen)
}

// connectFailed records a failed attempt and schedules the next one unless
// the schedule is exhausted or the connector was stopped.
func (c *Connector) connectFailed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return
	}

	c.setStateLocked(StateError, err)

	if c.attempts >= c.backoff.maxAttempts {
		logging.Error("Connector", err, "Upstream %s: giving up after %d reconnect attempts",
			c.def.Label(), c.attempts)
		return
	}
	c.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the reconnect timer for the next attempt.
// Caller holds mu and has already transitioned the state.
func (c *Connector) scheduleReconnectLocked(gen uint64) {
	c.attempts++
	delay := c.backoff.delay(c.attempts)
	logging.Info("Connector", "Upstream %s: reconnect attempt %d/%d in %s",
		c.def.Label(), c.attempts, c.backoff.maxAttempts, delay.Round(time.Millisecond))

	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		c.setStateLocked(StateStarting, nil)
		c.mu.Unlock()
		c.connect(gen)
	})
}

// handleConnectionLost reacts to a transport drop that was not initiated by
// Stop.
func (c *Connector) handleConnectionLost(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.state != StateRunning {
		return
	}

	if c.client != nil {
		cli := c.client
		c.client = nil
		go closeWithGrace(cli, c.def.Label(), closeGrace)
	}
	c.tools = nil
	c.setStateLocked(StateReconnecting, err)
	c.scheduleReconnectLocked(gen)
}

// handleNotification publishes a server-initiated frame on the bus. A tool
// list change additionally triggers a tool refresh.
func (c *Connector) handleNotification(gen uint64, method string, message json.RawMessage) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	id := c.def.ID
	c.mu.Unlock()

	if method == methodToolsListChanged {
		go c.refreshTools(gen)
	}

	c.bus.Publish(events.Event{
		Type:       events.TypePushMessage,
		UpstreamID: id,
		Message:    message,
	})
}

// refreshTools fetches the tool list and publishes toolsChanged. It runs off
// the state lock and discards results from stale generations.
func (c *Connector) refreshTools(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateRunning || c.client == nil {
		c.mu.Unlock()
		return
	}
	cli := c.client
	def := c.def
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), def.requestTimeout())
	defer cancel()

	tools, err := cli.ListTools(ctx)
	if err != nil {
		logging.Error("Connector", err, "Upstream %s: failed to list tools", def.Label())
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.tools = tools
	c.mu.Unlock()

	logging.Info("Connector", "Upstream %s: %d tools", def.Label(), len(tools))
	c.bus.Publish(events.Event{
		Type:       events.TypeToolsChanged,
		UpstreamID: def.ID,
	})
}

// SendRequest forwards one JSON-RPC request to the upstream and returns the
// raw result. It fails fast with NotReadyError unless the connector is
// running, and enforces the per-upstream request timeout.
func (c *Connector) SendRequest(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateRunning || c.client == nil {
		err := &NotReadyError{Upstream: c.def.Label(), State: c.state}
		c.mu.Unlock()
		return nil, err
	}
	cli := c.client
	def := c.def
	gen := c.generation
	c.mu.Unlock()

	timeout := def.requestTimeout()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := dispatch(reqCtx, cli, method, params)
	if err != nil {
		return nil, c.classifyError(ctx, gen, method, timeout, err)
	}
	return result, nil
}

// notificationSender is implemented by transports that can forward arbitrary
// client-to-server notifications. The SDK-backed transports cannot; they
// manage their own handshake notifications internally.
type notificationSender interface {
	SendNotification(ctx context.Context, method string, params json.RawMessage) error
}

// ForwardNotification sends a client notification upstream without waiting
// for anything. Transports without a raw notification channel drop the frame
// with a debug log; the POST contract is fire-and-forget either way.
func (c *Connector) ForwardNotification(method string, params json.RawMessage) error {
	c.mu.Lock()
	cli := c.client
	state := c.state
	label := c.def.Label()
	timeout := c.def.requestTimeout()
	c.mu.Unlock()

	if state != StateRunning || cli == nil {
		return &NotReadyError{Upstream: label, State: state}
	}

	sender, ok := cli.(notificationSender)
	if !ok {
		logging.Debug("Connector", "Upstream %s: transport cannot forward notification %s, dropping", label, method)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sender.SendNotification(ctx, method, params)
}

// Ping checks upstream liveness outside the regular request path.
func (c *Connector) Ping(ctx context.Context) error {
	c.mu.Lock()
	cli := c.client
	state := c.state
	label := c.def.Label()
	c.mu.Unlock()

	if state != StateRunning || cli == nil {
		return &NotReadyError{Upstream: label, State: state}
	}
	return cli.Ping(ctx)
}

// dispatch maps a JSON-RPC method onto the typed client operation.
func dispatch(ctx context.Context, cli MCPClient, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "ping":
		if err := cli.Ping(ctx); err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil

	case "tools/list":
		tools, err := cli.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		if tools == nil {
			tools = []mcp.Tool{}
		}
		return marshalResult(mcp.ListToolsResult{Tools: tools})

	case "tools/call":
		var p struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := unmarshalParams(method, params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, &InvalidParamsError{Method: method, Err: fmt.Errorf("missing tool name")}
		}
		result, err := cli.CallTool(ctx, p.Name, p.Arguments)
		if err != nil {
			return nil, err
		}
		return marshalResult(result)

	case "resources/list":
		resources, err := cli.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		if resources == nil {
			resources = []mcp.Resource{}
		}
		return marshalResult(mcp.ListResourcesResult{Resources: resources})

	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(method, params, &p); err != nil {
			return nil, err
		}
		if p.URI == "" {
			return nil, &InvalidParamsError{Method: method, Err: fmt.Errorf("missing resource uri")}
		}
		result, err := cli.ReadResource(ctx, p.URI)
		if err != nil {
			return nil, err
		}
		return marshalResult(result)

	case "prompts/list":
		prompts, err := cli.ListPrompts(ctx)
		if err != nil {
			return nil, err
		}
		if prompts == nil {
			prompts = []mcp.Prompt{}
		}
		return marshalResult(mcp.ListPromptsResult{Prompts: prompts})

	case "prompts/get":
		var p struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := unmarshalParams(method, params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, &InvalidParamsError{Method: method, Err: fmt.Errorf("missing prompt name")}
		}
		result, err := cli.GetPrompt(ctx, p.Name, p.Arguments)
		if err != nil {
			return nil, err
		}
		return marshalResult(result)

	default:
		return nil, &UnsupportedMethodError{Method: method}
	}
}

func unmarshalParams(method string, params json.RawMessage, into interface{}) error {
	if len(params) == 0 {
		return &InvalidParamsError{Method: method, Err: fmt.Errorf("missing params")}
	}
	if err := json.Unmarshal(params, into); err != nil {
		return &InvalidParamsError{Method: method, Err: err}
	}
	return nil
}

func marshalResult(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

// classifyError maps a dispatch failure onto the typed error surface. Errors
// already typed pass through; deadline expiry becomes RequestTimeoutError;
// everything else is a transport-level failure, which also triggers a
// liveness probe in case the transport is actually gone.
func (c *Connector) classifyError(ctx context.Context, gen uint64, method string, timeout time.Duration, err error) error {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr
	}
	var invalidParams *InvalidParamsError
	if errors.As(err, &invalidParams) {
		return invalidParams
	}
	var unsupported *UnsupportedMethodError
	if errors.As(err, &unsupported) {
		return unsupported
	}

	c.mu.Lock()
	label := c.def.Label()
	state := c.state
	c.mu.Unlock()

	// The caller going away is not an upstream failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{Upstream: label, Method: method, Timeout: timeout}
	}
	if state != StateRunning {
		return &NotReadyError{Upstream: label, State: state}
	}

	go c.verifyLiveness(gen)
	return &ConnectionError{Upstream: label, Err: err}
}

// verifyLiveness pings the upstream after a request-level transport error.
// It catches transports that fail requests without reporting the connection
// lost, like a child process that is alive but no longer answering.
func (c *Connector) verifyLiveness(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateRunning || c.client == nil || c.probing {
		c.mu.Unlock()
		return
	}
	c.probing = true
	cli := c.client
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), livenessProbeTimeout)
	err := cli.Ping(ctx)
	cancel()

	c.mu.Lock()
	c.probing = false
	c.mu.Unlock()

	if err != nil {
		c.handleConnectionLost(gen, fmt.Errorf("liveness probe failed: %w", err))
	}
}
