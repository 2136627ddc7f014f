package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAICompleter serves OpenAI and any OpenAI-compatible endpoint, which
// includes Ollama's /v1 API.
type openAICompleter struct {
	client openai.Client
	cfg    resolved
}

func newOpenAICompleter(cfg resolved) *openAICompleter {
	opts := []option.RequestOption{
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		opts = append(opts, option.WithBaseURL(openAIBaseURL(cfg.provider, cfg.baseURL)))
	}
	apiKey := cfg.apiKey
	if apiKey == "" && cfg.provider == ProviderOllama {
		apiKey = "ollama"
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &openAICompleter{client: openai.NewClient(opts...), cfg: cfg}
}

// openAIBaseURL points Ollama at its OpenAI-compatible prefix.
func openAIBaseURL(p Provider, base string) string {
	base = strings.TrimRight(base, "/")
	if p == ProviderOllama && !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func (c *openAICompleter) complete(ctx context.Context, req Request) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.model),
		Messages:    openAIMessages(req),
		Temperature: openai.Float(c.cfg.temperature),
	}
	if c.cfg.provider == ProviderOpenAI {
		params.MaxCompletionTokens = openai.Int(c.cfg.maxTokens)
	} else {
		params.MaxTokens = openai.Int(c.cfg.maxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = openAITools(req.Tools)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Reply{}, err
	}
	if len(completion.Choices) == 0 {
		return Reply{}, errors.New("empty completion choices")
	}

	msg := completion.Choices[0].Message
	reply := Reply{Content: msg.Content}
	for _, call := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, protocol.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: rawArguments(call.Function.Arguments),
		})
	}
	return reply, nil
}

func openAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.Instructions) != "" {
		out = append(out, openai.SystemMessage(req.Instructions))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case protocol.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case protocol.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: argumentsText(tc.Arguments),
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case protocol.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func openAITools(tools []protocol.Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schemaOrEmpty(t.Parameters),
			},
		}
	}
	return out
}

func schemaOrEmpty(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}

func rawArguments(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []byte(s)
}

func argumentsText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
