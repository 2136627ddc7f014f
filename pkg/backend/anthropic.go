package backend

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
)

type anthropicCompleter struct {
	client anthropic.Client
	cfg    resolved
}

func newAnthropicCompleter(cfg resolved) *anthropicCompleter {
	opts := []option.RequestOption{
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.timeout),
		option.WithAPIKey(cfg.apiKey),
	}
	if cfg.baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.baseURL, "/")+"/"))
	}
	return &anthropicCompleter{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (c *anthropicCompleter) complete(ctx context.Context, req Request) (Reply, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.model),
		MaxTokens:   c.cfg.maxTokens,
		Messages:    anthropicMessages(req.Messages),
		Temperature: anthropic.Float(c.cfg.temperature),
	}
	if system := strings.TrimSpace(req.Instructions); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Reply{}, err
	}

	var reply Reply
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			var args []byte
			if use.Input != nil {
				if b, err := json.Marshal(use.Input); err == nil {
					args = rawArguments(string(b))
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, protocol.ToolCall{
				ID:        use.ID,
				Name:      use.Name,
				Arguments: args,
			})
		}
	}
	reply.Content = text.String()
	return reply, nil
}

// anthropicMessages folds consecutive tool results into one user message,
// which is how the Messages API expects tool_result blocks.
func anthropicMessages(msgs []protocol.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		if m.Role == protocol.RoleTool {
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isErrorResult(m.Content)))
			continue
		}
		flush()

		switch m.Role {
		case protocol.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						input = string(tc.Arguments)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case protocol.RoleSystem:
			// System text travels in MessageNewParams.System.
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return out
}

// isErrorResult reports whether a tool result carries the {"ok":false} envelope.
func isErrorResult(content string) bool {
	var env struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil || env.OK == nil {
		return false
	}
	return !*env.OK
}

func anthropicTools(tools []protocol.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(t.Parameters["required"])

		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			out[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
