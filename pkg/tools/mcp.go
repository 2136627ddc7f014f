package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
)

// Transport names accepted in ServerConfig.Transport.
const (
	TransportStdio   = "stdio"
	TransportHTTP    = "http"
	TransportSSE     = "sse"
	TransportBuiltin = "builtin"
)

const (
	clientName    = "mcp-chat"
	clientVersion = "0.1.0"
)

// MCPConnector opens Model Context Protocol connections. Builtin holds
// in-process servers addressed by the "builtin" transport.
type MCPConnector struct {
	Builtin map[string]*server.MCPServer
}

func (c *MCPConnector) Connect(ctx context.Context, cfg ServerConfig) (Server, error) {
	// The connection outlives the discovery deadline, so its transport and
	// any spawned process run on their own context.
	life, cancel := context.WithCancel(context.Background())
	conn := &mcpServer{name: cfg.Name, cancel: cancel, grace: closeGrace}

	cli, err := c.newClient(life, cfg, conn)
	if err != nil {
		cancel()
		return nil, err
	}
	conn.client = cli

	if needsStart(cfg.Transport) {
		if err := cli.Start(life); err != nil {
			_ = conn.closeWithin(0)
			return nil, fmt.Errorf("start %s transport: %w", cfg.Transport, err)
		}
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = conn.closeWithin(0)
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return conn, nil
}

func needsStart(t string) bool {
	return normalizeTransport(t) != TransportStdio
}

func normalizeTransport(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case "", "command":
		return TransportStdio
	case "streamable-http", "streamable_http":
		return TransportHTTP
	}
	return t
}

// newClient builds the client for cfg. Stdio servers are spawned on life and
// recorded on conn so Close can reap them.
func (c *MCPConnector) newClient(life context.Context, cfg ServerConfig, conn *mcpServer) (*client.Client, error) {
	switch normalizeTransport(cfg.Transport) {
	case TransportStdio:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("server %s: command is required for stdio transport", cfg.Name)
		}
		env := sanitizedEnv(cfg.Env)
		return client.NewStdioMCPClientWithOptions(cfg.Command, nil, cfg.Args,
			transport.WithCommandFunc(func(_ context.Context, command string, _ []string, args []string) (*exec.Cmd, error) {
				cmd := exec.CommandContext(life, command, args...)
				cmd.Env = env
				conn.cmd = cmd
				return cmd, nil
			}))
	case TransportHTTP:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("server %s: url is required for http transport", cfg.Name)
		}
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return client.NewStreamableHttpClient(cfg.URL, opts...)
	case TransportSSE:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("server %s: url is required for sse transport", cfg.Name)
		}
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		return client.NewSSEMCPClient(cfg.URL, opts...)
	case TransportBuiltin:
		srv, ok := c.Builtin[cfg.Name]
		if !ok || srv == nil {
			return nil, fmt.Errorf("server %s: no builtin server registered", cfg.Name)
		}
		return client.NewInProcessClient(srv)
	default:
		return nil, fmt.Errorf("server %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}
}

// closeGrace is how long a server may take to exit after Close before it is
// killed.
const closeGrace = time.Second

type mcpServer struct {
	name   string
	client *client.Client
	cancel context.CancelFunc
	grace  time.Duration
	// cmd is the spawned process of a stdio server.
	cmd *exec.Cmd
}

func (s *mcpServer) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, protocol.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaMap(t.InputSchema),
			Server:      s.name,
		})
	}
	return out, nil
}

func schemaMap(schema mcp.ToolInputSchema) map[string]any {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func (s *mcpServer) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Content: contentText(res.Content), IsError: res.IsError}, nil
}

// contentText joins the text parts of a result; other content kinds are
// rendered as JSON.
func contentText(parts []mcp.Content) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch c := part.(type) {
		case mcp.TextContent:
			texts = append(texts, c.Text)
		case *mcp.TextContent:
			texts = append(texts, c.Text)
		default:
			if b, err := json.Marshal(c); err == nil {
				texts = append(texts, string(b))
			}
		}
	}
	return strings.Join(texts, "\n")
}

func (s *mcpServer) Close() error {
	return s.closeWithin(s.grace)
}

// closeWithin closes the client and cancels the connection context. A close
// still running after grace is cut short by the cancel, which kills a spawned
// process.
func (s *mcpServer) closeWithin(grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- s.client.Close() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		s.cancel()
		return err
	case <-timer.C:
		s.cancel()
		<-done
		return fmt.Errorf("server %s did not exit within %s: killed", s.name, grace)
	}
}
