package main

import (
	"fmt"
	"strings"

	configpkg "github.com/minhyannv/mcp-chat-go/pkg/config"
	"github.com/minhyannv/mcp-chat-go/pkg/tools"
	"github.com/spf13/cobra"
)

// cliFlags holds the flags shared by the chat and tools commands.
type cliFlags struct {
	configPath string
	provider   string
	model      string
	baseURL    string
	sessionID  string
	historyDB  string
	verbose    bool
	servers    stringSliceFlag
}

func bindCommonFlags(cmd *cobra.Command, f *cliFlags) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Config file (yaml, toml or json); defaults to ./mcp-chat.yaml when present")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "Verbose logging to stderr")
	cmd.Flags().Var(&f.servers, "server", "Extra tool server as NAME=COMMAND [ARGS...], NAME=URL or NAME=builtin. Repeat for more servers")
}

func bindChatFlags(cmd *cobra.Command, f *cliFlags) {
	bindCommonFlags(cmd, f)
	cmd.Flags().StringVar(&f.provider, "provider", "", "Chat provider: ollama (default), openai or anthropic")
	cmd.Flags().StringVar(&f.model, "model", "", "Model name (default: llama3.2 for ollama, gpt-4o-mini for openai)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Provider endpoint override")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "Session id; a random user-XXXXXXXX id is used when empty")
	cmd.Flags().StringVar(&f.historyDB, "history-db", "", "SQLite file that keeps session history across runs")
}

// resolveConfig loads file and environment configuration, then applies the
// flags the user actually set.
func resolveConfig(cmd *cobra.Command, f *cliFlags) (configpkg.Config, error) {
	cfg, err := configpkg.Load(f.configPath)
	if err != nil {
		return configpkg.Config{}, err
	}

	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("provider") {
		cfg.Provider = f.provider
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if changed("session") {
		cfg.SessionID = f.sessionID
	}
	if changed("history-db") {
		cfg.HistoryDB = f.historyDB
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}
	for _, spec := range f.servers.values() {
		server, err := parseServerFlag(spec)
		if err != nil {
			return configpkg.Config{}, err
		}
		cfg.ToolServers = append(cfg.ToolServers, server)
	}

	cfg = configpkg.Normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return configpkg.Config{}, err
	}
	return cfg, nil
}

// parseServerFlag turns NAME=COMMAND [ARGS...], NAME=URL or NAME=builtin into
// a tool server entry. URLs ending in /sse use the SSE transport.
func parseServerFlag(spec string) (configpkg.ToolServer, error) {
	name, target, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	target = strings.TrimSpace(target)
	if !ok || name == "" || target == "" {
		return configpkg.ToolServer{}, fmt.Errorf("invalid --server %q: want NAME=COMMAND, NAME=URL or NAME=builtin", spec)
	}

	switch {
	case target == tools.TransportBuiltin:
		return configpkg.ToolServer{Name: name, Transport: tools.TransportBuiltin}, nil
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		transport := tools.TransportHTTP
		if strings.HasSuffix(strings.TrimRight(target, "/"), "/sse") {
			transport = tools.TransportSSE
		}
		return configpkg.ToolServer{Name: name, Transport: transport, URL: target}, nil
	default:
		fields := strings.Fields(target)
		return configpkg.ToolServer{
			Name:      name,
			Transport: tools.TransportStdio,
			Command:   fields[0],
			Args:      fields[1:],
		}, nil
	}
}

// stringSliceFlag supports repeatable --server flags.
type stringSliceFlag []string

func (f *stringSliceFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(*f, ",")
}

func (f *stringSliceFlag) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty server value")
	}
	*f = append(*f, value)
	return nil
}

func (f *stringSliceFlag) Type() string {
	return "server"
}

func (f stringSliceFlag) values() []string {
	out := make([]string, len(f))
	copy(out, f)
	return out
}
