// Package main provides the mcp-chat command line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/minhyannv/mcp-chat-go/pkg/backend"
	"github.com/minhyannv/mcp-chat-go/pkg/chat"
	configpkg "github.com/minhyannv/mcp-chat-go/pkg/config"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
	"github.com/minhyannv/mcp-chat-go/pkg/memory"
	"github.com/minhyannv/mcp-chat-go/pkg/species"
	"github.com/minhyannv/mcp-chat-go/pkg/tools"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const version = "0.1.0"

// errReported marks failures whose message was already printed.
var errReported = errors.New("reported")

// appEnv carries the process dependencies so tests can replace them.
type appEnv struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	interactive bool
	interrupts  <-chan os.Signal
	httpClient  *http.Client
	builtins    map[string]*server.MCPServer
}

func main() {
	_ = godotenv.Load()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	env := appEnv{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		interrupts:  interrupts,
		builtins:    defaultBuiltins(),
	}
	os.Exit(run(context.Background(), os.Args[1:], env))
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, env appEnv) int {
	root := newRootCmd(env)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			_, _ = fmt.Fprintln(env.errOut, errorStyle.Render(fmt.Sprintf("✗ Error: %v", err)))
		}
		return 1
	}
	return 0
}

func defaultBuiltins() map[string]*server.MCPServer {
	return map[string]*server.MCPServer{
		species.ServerName: species.NewServer(species.Default(), version),
	}
}

func newRootCmd(env appEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "mcp-chat",
		Short:         "Chat with a language model that can call MCP tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.out)
	root.SetErr(env.errOut)

	chatFlags := &cliFlags{}
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cmd, chatFlags, env)
		},
	}
	bindChatFlags(chatCmd, chatFlags)

	toolsFlags := &cliFlags{}
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by the configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTools(cmd.Context(), cmd, toolsFlags, env)
		},
	}
	bindCommonFlags(toolsCmd, toolsFlags)

	root.AddCommand(chatCmd, toolsCmd)
	return root
}

func newLogger(env appEnv) loggerpkg.Logger {
	return loggerpkg.NewWriterLogger(env.errOut)
}

func newRegistry(cfg configpkg.Config, env appEnv, log loggerpkg.Logger) *tools.Registry {
	return tools.New(cfg.ServerConfigs(),
		tools.WithLogger(log),
		tools.WithVerbose(cfg.Verbose),
		tools.WithConnector(&tools.MCPConnector{Builtin: env.builtins}),
	)
}

func openStore(cfg configpkg.Config) (memory.Store, error) {
	if strings.TrimSpace(cfg.HistoryDB) == "" {
		return memory.NewInMemoryStore(cfg.MaxMessages), nil
	}
	return memory.OpenSQLite(cfg.HistoryDB, cfg.MaxMessages)
}

func newSessionID() string {
	return "user-" + uuid.NewString()[:8]
}

func runChat(ctx context.Context, cmd *cobra.Command, flags *cliFlags, env appEnv) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	log := newLogger(env)

	provider, err := backend.ParseProvider(cfg.Provider)
	if err != nil {
		_, _ = fmt.Fprintln(env.errOut, errorStyle.Render(fmt.Sprintf("✗ Unsupported provider: %s", cfg.Provider)))
		_, _ = fmt.Fprintf(env.errOut, "  Supported providers: %s\n", joinProviders())
		return errReported
	}
	model := cfg.Model
	if model == "" {
		if d, ok := backend.DefaultsFor(provider); ok {
			model = d.Model
		}
	}

	bcfg := cfg.BackendConfig()
	bcfg.HTTPClient = env.httpClient
	b, err := backend.New(ctx, bcfg)
	if err != nil {
		reportBackendError(env.errOut, provider, model, err)
		return errReported
	}

	store, err := openStore(cfg)
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("open history: %w", err)
	}

	discoverCtx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	defer cancel()
	orch, err := chat.New(discoverCtx, b, newRegistry(cfg, env, log), store,
		chat.WithLogger(log),
		chat.WithInstructions(cfg.SystemPrompt),
		chat.WithMaxToolHops(cfg.MaxToolHops),
		chat.WithVerbose(cfg.Verbose),
	)
	if err != nil {
		_ = b.Close()
		_ = store.Close()
		return err
	}

	info := orch.Info()
	_, _ = fmt.Fprintln(env.out, successStyle.Render(
		fmt.Sprintf("✓ Chat initialized with %s (%s)!", providerLabel(info.Provider), info.Model)))
	if d := orch.Discovery(); len(d.Failures) > 0 {
		_, _ = fmt.Fprintln(env.out, warningStyle.Render(
			fmt.Sprintf("⚠ %d tool server(s) unavailable; continuing with %d tool(s)", len(d.Failures), len(d.Tools))))
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	var reader lineReader
	if env.interactive {
		reader = newLinerReader()
	} else {
		reader = newScannerReader(env.in, env.out)
	}
	defer func() { _ = reader.Close() }()

	return runREPL(ctx, orch, replOptions{
		SessionID:  sessionID,
		Verbose:    cfg.Verbose,
		Logger:     log,
		Interrupts: env.interrupts,
	}, reader, env.out)
}

func reportBackendError(w io.Writer, p backend.Provider, model string, err error) {
	switch {
	case errors.Is(err, backend.ErrUnsupportedProvider):
		_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("✗ Unsupported provider: %s", p)))
	case errors.Is(err, backend.ErrMissingCredential):
		d, _ := backend.DefaultsFor(p)
		_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf(
			"✗ Error: %s environment variable is required when using %s provider.", d.CredentialEnv, providerLabel(p))))
		_, _ = fmt.Fprintf(w, "  Please set your %s API key: export %s=your_api_key_here\n", providerLabel(p), d.CredentialEnv)
	default:
		_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf(
			"✗ Failed to connect to %s model (%s): %v", providerLabel(p), model, err)))
		_, _ = fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf(
			"✗ Chat service is not available. Please check the %s model connection.", providerLabel(p))))
	}
}

func joinProviders() string {
	names := make([]string, 0, 3)
	for _, p := range backend.Providers() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

func runTools(ctx context.Context, cmd *cobra.Command, flags *cliFlags, env appEnv) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	reg := newRegistry(cfg, env, newLogger(env))
	defer reg.Shutdown()

	discoverCtx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	defer cancel()
	d := reg.Discover(discoverCtx)
	printTools(env.out, d.Tools)
	for _, f := range d.Failures {
		_, _ = fmt.Fprintln(env.out, dimStyle.Render(fmt.Sprintf("   ✗ %s: %v", f.Server, f.Err)))
	}
	return nil
}
