package species

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is the MCP implementation name reported by NewServer.
const ServerName = "species"

// NewServer exposes the store as MCP tools. Results are JSON text; unknown
// species come back as MCP error results.
func NewServer(store *Store, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("get_monkeys",
		mcp.WithDescription("Get a list of all monkey species with their location, population and details"),
	), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(store.All())
	})

	s.AddTool(mcp.NewTool("get_monkey",
		mcp.WithDescription("Get details for a monkey species by name"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Species name, case-insensitive")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sp, err := store.ByName(req.GetString("name", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(sp)
	})

	s.AddTool(mcp.NewTool("get_random_monkey",
		mcp.WithDescription("Get a random monkey species"),
	), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sp, ok := store.Random()
		if !ok {
			return mcp.NewToolResultError(ErrNotFound.Error()), nil
		}
		return jsonResult(sp)
	})

	s.AddTool(mcp.NewTool("monkey_exists",
		mcp.WithDescription("Check whether a monkey species exists in the dataset"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Species name, case-insensitive")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		return jsonResult(map[string]any{"name": name, "exists": store.Exists(name)})
	})

	s.AddTool(mcp.NewTool("monkey_count",
		mcp.WithDescription("Get the number of monkey species in the dataset"),
	), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]int{"count": store.Count()})
	})

	s.AddTool(mcp.NewTool("list_monkey_names",
		mcp.WithDescription("List the names of all monkey species"),
	), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(store.Names())
	})

	return s
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
