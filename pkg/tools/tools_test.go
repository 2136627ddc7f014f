package tools

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	mu     sync.Mutex
	tools  []protocol.Tool
	calls  []string
	closed int
	call   func(name string, args map[string]any) (CallResult, error)
}

func (f *fakeServer) ListTools(context.Context) ([]protocol.Tool, error) {
	return f.tools, nil
}

func (f *fakeServer) CallTool(_ context.Context, name string, args map[string]any) (CallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.call != nil {
		return f.call(name, args)
	}
	return CallResult{Content: `{"name":"` + name + `"}`}, nil
}

func (f *fakeServer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func connectorFor(servers map[string]*fakeServer) Connector {
	return ConnectorFunc(func(_ context.Context, cfg ServerConfig) (Server, error) {
		s, ok := servers[cfg.Name]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return s, nil
	})
}

func TestDiscoverSkipsUnreachableServers(t *testing.T) {
	a := &fakeServer{tools: []protocol.Tool{{Name: "get_monkey"}, {Name: "get_monkeys"}}}
	c := &fakeServer{tools: []protocol.Tool{{Name: "weather"}}}
	reg := New([]ServerConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		WithConnector(connectorFor(map[string]*fakeServer{"a": a, "c": c})))

	d := reg.Discover(context.Background())

	assert.Equal(t, 3, d.Servers)
	require.Len(t, d.Failures, 1)
	assert.Equal(t, "b", d.Failures[0].Server)
	names := make([]string, 0, len(d.Tools))
	for _, tool := range d.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"get_monkey", "get_monkeys", "weather"}, names)
	assert.Equal(t, "c", d.Tools[2].Server)
	assert.Equal(t, d.Tools, reg.Tools())
}

func TestDiscoverWithNoServers(t *testing.T) {
	reg := New(nil)
	d := reg.Discover(context.Background())
	assert.True(t, d.Empty())
	assert.Empty(t, d.Failures)
	assert.Empty(t, reg.Tools())
}

func TestDiscoverDuplicateNameFirstServerWins(t *testing.T) {
	a := &fakeServer{tools: []protocol.Tool{{Name: "lookup", Description: "from a"}}}
	b := &fakeServer{tools: []protocol.Tool{{Name: "lookup", Description: "from b"}}}
	reg := New([]ServerConfig{{Name: "a"}, {Name: "b"}},
		WithConnector(connectorFor(map[string]*fakeServer{"a": a, "b": b})))

	d := reg.Discover(context.Background())
	require.Len(t, d.Tools, 1)
	assert.Equal(t, "from a", d.Tools[0].Description)

	_, err := reg.Invoke(context.Background(), "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"lookup"}, a.calls)
	assert.Empty(t, b.calls)
}

func TestDiscoverRespectsServerTimeout(t *testing.T) {
	slow := ConnectorFunc(func(ctx context.Context, _ ServerConfig) (Server, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	reg := New([]ServerConfig{{Name: "slow", Timeout: 20 * time.Millisecond}}, WithConnector(slow))

	start := time.Now()
	d := reg.Discover(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], context.DeadlineExceeded)
}

func TestInvokeErrors(t *testing.T) {
	srv := &fakeServer{
		tools: []protocol.Tool{{Name: "boom"}, {Name: "down"}},
		call: func(name string, _ map[string]any) (CallResult, error) {
			if name == "boom" {
				return CallResult{Content: "species not found", IsError: true}, nil
			}
			return CallResult{}, errors.New("broken pipe")
		},
	}
	reg := New([]ServerConfig{{Name: "s"}}, WithConnector(connectorFor(map[string]*fakeServer{"s": srv})))
	reg.Discover(context.Background())

	_, err := reg.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = reg.Invoke(context.Background(), "boom", nil)
	assert.ErrorIs(t, err, ErrToolServerError)
	assert.Contains(t, err.Error(), "species not found")

	_, err = reg.Invoke(context.Background(), "down", nil)
	assert.ErrorIs(t, err, ErrToolServerUnreachable)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "s", invErr.Server)
}

func TestShutdownClosesOnce(t *testing.T) {
	a := &fakeServer{tools: []protocol.Tool{{Name: "x"}}}
	reg := New([]ServerConfig{{Name: "a"}, {Name: "gone"}},
		WithConnector(connectorFor(map[string]*fakeServer{"a": a})))
	reg.Discover(context.Background())

	reg.Shutdown()
	reg.Shutdown()
	assert.Equal(t, 1, a.closed)

	_, err := reg.Invoke(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrToolServerUnreachable)
}

func TestShutdownWithoutDiscover(t *testing.T) {
	reg := New([]ServerConfig{{Name: "a"}})
	assert.NotPanics(t, reg.Shutdown)
}

func TestFormatResult(t *testing.T) {
	assert.JSONEq(t, `{"ok":true,"tool":"t","data":{"a":1}}`, FormatResult("t", `{"a":1}`, nil))
	assert.JSONEq(t, `{"ok":true,"tool":"t","data":"plain"}`, FormatResult("t", "plain", nil))
	assert.JSONEq(t, `{"ok":false,"tool":"t","error":"nope"}`, FormatResult("t", "", errors.New("nope")))
}

func TestSanitizedEnv(t *testing.T) {
	t.Setenv("SECRET_TOKEN", "x")
	t.Setenv("HOME", "/home/test")

	env := sanitizedEnv(map[string]string{"HOME": "/override", "SPECIES_DATA": "a.yaml"})
	joined := strings.Join(env, "\n")
	assert.NotContains(t, joined, "SECRET_TOKEN")
	assert.Contains(t, env, "HOME=/override")
	assert.NotContains(t, env, "HOME=/home/test")
	assert.Contains(t, env, "SPECIES_DATA=a.yaml")
	if os.Getenv("PATH") != "" {
		assert.Contains(t, joined, "PATH=")
	}
}

func newEchoServer() *server.MCPServer {
	s := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo a message"),
		mcp.WithString("message", mcp.Required(), mcp.Description("Text to echo")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg := req.GetString("message", "")
		if msg == "" {
			return mcp.NewToolResultError("message is required"), nil
		}
		return mcp.NewToolResultText(msg), nil
	})
	return s
}

func TestMCPBuiltinConnection(t *testing.T) {
	reg := New([]ServerConfig{{Name: "echo", Transport: TransportBuiltin}},
		WithConnector(&MCPConnector{Builtin: map[string]*server.MCPServer{"echo": newEchoServer()}}))
	t.Cleanup(reg.Shutdown)

	d := reg.Discover(context.Background())
	require.Empty(t, d.Failures)
	require.Len(t, d.Tools, 1)
	tool := d.Tools[0]
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, "Echo a message", tool.Description)
	assert.Equal(t, "object", tool.Parameters["type"])
	assert.Equal(t, []any{"message"}, tool.Parameters["required"])

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)

	_, err = reg.Invoke(context.Background(), "echo", map[string]any{})
	assert.ErrorIs(t, err, ErrToolServerError)
}

func TestMCPConnectorRejectsBadConfig(t *testing.T) {
	c := &MCPConnector{}
	for _, cfg := range []ServerConfig{
		{Name: "a", Transport: "stdio"},
		{Name: "b", Transport: "http"},
		{Name: "c", Transport: "sse"},
		{Name: "d", Transport: "builtin"},
		{Name: "e", Transport: "carrier-pigeon"},
	} {
		_, err := c.Connect(context.Background(), cfg)
		assert.Error(t, err, cfg.Name)
	}
}
