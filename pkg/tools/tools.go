// Package tools discovers tools exposed by external tool servers and routes
// invocations to the server that owns each tool.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds discovery and each call when a server sets none.
const DefaultTimeout = 10 * time.Second

// ServerConfig describes how to reach one tool server.
type ServerConfig struct {
	Name      string
	Transport string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Result is the output of a successful tool call.
type Result struct {
	Tool    string
	Server  string
	Content string
}

// CallResult is what a server connection reports for one call.
type CallResult struct {
	Content string
	IsError bool
}

// Server is an open connection to a tool server.
type Server interface {
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	Close() error
}

// Connector opens a Server for a configuration.
type Connector interface {
	Connect(ctx context.Context, cfg ServerConfig) (Server, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg ServerConfig) (Server, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg ServerConfig) (Server, error) {
	return f(ctx, cfg)
}

// Discovery is the outcome of one Discover call.
type Discovery struct {
	Tools    []protocol.Tool
	Failures []DiscoveryFailure
	Servers  int
}

// Empty reports the "no tools available" state.
func (d Discovery) Empty() bool {
	return len(d.Tools) == 0
}

// Registry owns the tool server connections.
type Registry struct {
	servers   []ServerConfig
	connector Connector
	logger    loggerpkg.Logger
	verbose   bool

	mu     sync.RWMutex
	conns  map[string]Server
	routes map[string]ServerConfig
	tools  []protocol.Tool
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger injects a logger dependency.
func WithLogger(l loggerpkg.Logger) Option {
	return func(r *Registry) {
		r.logger = loggerpkg.OrNop(l)
	}
}

// WithConnector replaces the default MCP connector.
func WithConnector(c Connector) Option {
	return func(r *Registry) {
		if c != nil {
			r.connector = c
		}
	}
}

// WithVerbose enables debug logging.
func WithVerbose(v bool) Option {
	return func(r *Registry) {
		r.verbose = v
	}
}

// New builds a registry for the given servers. Nothing is contacted until
// Discover.
func New(servers []ServerConfig, opts ...Option) *Registry {
	r := &Registry{
		servers:   append([]ServerConfig(nil), servers...),
		connector: &MCPConnector{},
		logger:    loggerpkg.NopLogger{},
		conns:     map[string]Server{},
		routes:    map[string]ServerConfig{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type discovered struct {
	conn  Server
	tools []protocol.Tool
	err   error
}

// Discover connects to every configured server concurrently and replaces the
// registry's tool set with the union of what reachable servers report.
// Unreachable servers are logged and recorded, never returned as an error.
func (r *Registry) Discover(ctx context.Context) Discovery {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]discovered, len(r.servers))
	var g errgroup.Group
	for i, cfg := range r.servers {
		g.Go(func() error {
			results[i] = r.discoverOne(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.closed = false

	out := Discovery{Servers: len(r.servers)}
	routes := map[string]ServerConfig{}
	for i, res := range results {
		cfg := r.servers[i]
		if res.err != nil {
			f := DiscoveryFailure{Server: cfg.Name, Err: res.err}
			out.Failures = append(out.Failures, f)
			r.logger.Warn("tool server unavailable", map[string]any{
				"server": cfg.Name,
				"error":  res.err.Error(),
			})
			continue
		}
		r.conns[cfg.Name] = res.conn
		for _, t := range res.tools {
			if owner, dup := routes[t.Name]; dup {
				r.logger.Warn("duplicate tool name ignored", map[string]any{
					"tool":   t.Name,
					"server": cfg.Name,
					"owner":  owner.Name,
				})
				continue
			}
			t.Server = cfg.Name
			routes[t.Name] = cfg
			out.Tools = append(out.Tools, t)
		}
		loggerpkg.Debug(r.verbose, r.logger, "tool server discovered", map[string]any{
			"server": cfg.Name,
			"tools":  len(res.tools),
		})
	}
	sort.Slice(out.Tools, func(i, j int) bool { return out.Tools[i].Name < out.Tools[j].Name })

	r.routes = routes
	r.tools = out.Tools
	out.Tools = cloneTools(out.Tools)
	return out
}

func (r *Registry) discoverOne(ctx context.Context, cfg ServerConfig) discovered {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	conn, err := r.connector.Connect(ctx, cfg)
	if err != nil {
		return discovered{err: fmt.Errorf("connect: %w", err)}
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warn("close tool server", map[string]any{"server": cfg.Name, "error": cerr.Error()})
		}
		return discovered{err: fmt.Errorf("list tools: %w", err)}
	}
	return discovered{conn: conn, tools: tools}
}

// Tools returns a copy of the current tool descriptors, sorted by name.
func (r *Registry) Tools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneTools(r.tools)
}

// Invoke runs a tool on the server that exposed it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.RLock()
	cfg, ok := r.routes[name]
	conn := r.conns[cfg.Name]
	closed := r.closed
	r.mu.RUnlock()

	if !ok {
		return Result{}, &InvocationError{Tool: name, Kind: ErrToolNotFound}
	}
	if closed || conn == nil {
		return Result{}, &InvocationError{Tool: name, Server: cfg.Name, Kind: ErrToolServerUnreachable,
			Err: fmt.Errorf("connection closed")}
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	loggerpkg.Debug(r.verbose, r.logger, "tool call", map[string]any{"tool": name, "server": cfg.Name})
	res, err := conn.CallTool(callCtx, name, args)
	if err != nil {
		return Result{}, &InvocationError{Tool: name, Server: cfg.Name, Kind: ErrToolServerUnreachable, Err: err}
	}
	if res.IsError {
		return Result{}, &InvocationError{Tool: name, Server: cfg.Name, Kind: ErrToolServerError,
			Err: fmt.Errorf("%s", strings.TrimSpace(res.Content))}
	}
	return Result{Tool: name, Server: cfg.Name, Content: res.Content}, nil
}

// Shutdown closes every open connection once. Close failures are logged.
// Calling it again is a no-op.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Registry) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.conns[name].Close(); err != nil {
			r.logger.Warn("close tool server", map[string]any{"server": name, "error": err.Error()})
		}
		delete(r.conns, name)
	}
}

func cloneTools(in []protocol.Tool) []protocol.Tool {
	if in == nil {
		return nil
	}
	out := make([]protocol.Tool, len(in))
	copy(out, in)
	return out
}

type toolResponse struct {
	OK   bool        `json:"ok"`
	Tool string      `json:"tool,omitempty"`
	Data interface{} `json:"data,omitempty"`
	Err  string      `json:"error,omitempty"`
}

// FormatResult renders a tool outcome as the JSON envelope handed back to the
// model. Content that is already JSON is embedded as-is.
func FormatResult(toolName string, content string, err error) string {
	var data interface{}
	if err == nil && content != "" {
		if json.Valid([]byte(content)) {
			data = json.RawMessage(content)
		} else {
			data = content
		}
	}
	out, marshalErr := marshalToolResponse(toolName, data, err)
	if marshalErr != nil {
		return fmt.Sprintf(`{"ok":false,"tool":%q,"error":%q}`, toolName, marshalErr.Error())
	}
	return out
}

func marshalToolResponse(toolName string, data interface{}, err error) (string, error) {
	resp := toolResponse{
		OK:   err == nil,
		Tool: toolName,
		Data: data,
	}
	if err != nil {
		resp.Err = err.Error()
	}
	payload, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return "", marshalErr
	}
	return string(payload), nil
}
