// Package main serves the species dataset as a standalone MCP server.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
	"github.com/minhyannv/mcp-chat-go/pkg/species"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type serveFlags struct {
	transport string
	addr      string
	data      string
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:           "species-server",
		Short:         "Serve monkey species tools over MCP",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return serve(f, logOut)
		},
	}
	cmd.Flags().StringVar(&f.transport, "transport", "stdio", "Transport: stdio, http or sse")
	cmd.Flags().StringVar(&f.addr, "addr", ":8080", "Listen address for http and sse")
	cmd.Flags().StringVar(&f.data, "data", "", "YAML dataset replacing the embedded one")
	return cmd
}

func loadStore(path string) (*species.Store, error) {
	if strings.TrimSpace(path) == "" {
		return species.Default(), nil
	}
	return species.LoadFile(path)
}

// serve blocks until the transport stops. Logs go to logOut because stdout
// carries the protocol in stdio mode.
func serve(f *serveFlags, logOut io.Writer) error {
	log := loggerpkg.NewSlogLogger(slog.New(slog.NewTextHandler(logOut, nil)))

	store, err := loadStore(f.data)
	if err != nil {
		return err
	}
	s := species.NewServer(store, version)

	transport := strings.ToLower(strings.TrimSpace(f.transport))
	log.Info("species server starting", map[string]any{
		"transport": transport,
		"addr":      f.addr,
		"species":   store.Count(),
	})

	switch transport {
	case "stdio":
		return server.ServeStdio(s)
	case "http":
		return server.NewStreamableHTTPServer(s).Start(f.addr)
	case "sse":
		return server.NewSSEServer(s).Start(f.addr)
	default:
		return fmt.Errorf("unsupported transport %q", f.transport)
	}
}
