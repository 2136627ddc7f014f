// Package backend adapts hosted and local language-model providers to a
// single turn-oriented interface.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
)

// Provider names a supported model provider.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ProbeMessage is the single user message sent by the health probe.
const ProbeMessage = "Say YES if you are ready to chat"

// DefaultTemperature is used for every provider unless configured otherwise.
const DefaultTemperature = 0.7

// Defaults describes the fixed per-provider settings.
type Defaults struct {
	Model         string
	BaseURL       string
	CredentialEnv string
	Timeout       time.Duration
	Remote        bool
}

var providers = map[Provider]Defaults{
	ProviderOllama: {
		Model:   "llama3.2",
		BaseURL: "http://localhost:11434",
		Timeout: 10 * time.Second,
	},
	ProviderOpenAI: {
		Model:         "gpt-4o-mini",
		CredentialEnv: "OPENAI_API_KEY",
		Timeout:       30 * time.Second,
		Remote:        true,
	},
	ProviderAnthropic: {
		Model:         "claude-3-5-haiku-latest",
		CredentialEnv: "ANTHROPIC_API_KEY",
		Timeout:       30 * time.Second,
		Remote:        true,
	},
}

// ParseProvider matches a provider name case-insensitively.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := providers[p]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, strings.TrimSpace(name))
	}
	return p, nil
}

// Providers lists the supported provider names in sorted order.
func Providers() []Provider {
	out := make([]Provider, 0, len(providers))
	for p := range providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultsFor returns the fixed settings of a provider.
func DefaultsFor(p Provider) (Defaults, bool) {
	d, ok := providers[p]
	return d, ok
}

// Config selects and parameterizes a backend. It is not modified after New.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Temperature *float64
	MaxTokens   int64

	// HTTPClient replaces the network layer. Tests inject fakes here.
	HTTPClient *http.Client
}

// resolved is Config after provider defaults were applied.
type resolved struct {
	provider    Provider
	model       string
	baseURL     string
	apiKey      string
	timeout     time.Duration
	temperature float64
	maxTokens   int64
	httpClient  *http.Client
}

func resolve(cfg Config) (resolved, error) {
	p, err := ParseProvider(cfg.Provider)
	if err != nil {
		return resolved{}, err
	}
	d := providers[p]

	r := resolved{
		provider:    p,
		model:       strings.TrimSpace(cfg.Model),
		baseURL:     strings.TrimSpace(cfg.BaseURL),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		timeout:     cfg.Timeout,
		temperature: DefaultTemperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  cfg.HTTPClient,
	}
	if r.model == "" {
		r.model = d.Model
	}
	if r.baseURL == "" {
		r.baseURL = d.BaseURL
	}
	if r.apiKey == "" && d.CredentialEnv != "" {
		r.apiKey = strings.TrimSpace(os.Getenv(d.CredentialEnv))
	}
	if r.timeout <= 0 {
		r.timeout = d.Timeout
	}
	if cfg.Temperature != nil {
		r.temperature = *cfg.Temperature
	}
	if r.maxTokens <= 0 {
		r.maxTokens = 1024
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{}
	}

	if d.Remote && r.apiKey == "" {
		return resolved{}, fmt.Errorf("%w: %s environment variable is required when using %s provider",
			ErrMissingCredential, d.CredentialEnv, p)
	}
	return r, nil
}

// Request is one model round trip: instructions, the transcript so far and
// the tools the model may call.
type Request struct {
	Instructions string
	Messages     []protocol.Message
	Tools        []protocol.Tool
}

// ReplyKind tells a final answer apart from a tool request.
type ReplyKind int

const (
	ReplyFinal ReplyKind = iota
	ReplyToolRequest
)

func (k ReplyKind) String() string {
	if k == ReplyToolRequest {
		return "tool_request"
	}
	return "final"
}

// Reply is the model answer for one round trip.
type Reply struct {
	Kind      ReplyKind
	Content   string
	ToolCalls []protocol.ToolCall
}

// Info identifies a constructed backend.
type Info struct {
	Provider Provider
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// Backend sends conversation turns to a model provider.
type Backend interface {
	SendTurn(ctx context.Context, req Request) (Reply, error)
	Info() Info
	Close() error
}

// completer is implemented by every provider variant.
type completer interface {
	complete(ctx context.Context, req Request) (Reply, error)
}

type backend struct {
	cfg  resolved
	impl completer
}

// New validates cfg, builds the provider variant and runs the health probe.
// Validation failures never touch the network.
func New(ctx context.Context, cfg Config) (Backend, error) {
	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	var impl completer
	switch r.provider {
	case ProviderOpenAI, ProviderOllama:
		impl = newOpenAICompleter(r)
	case ProviderAnthropic:
		impl = newAnthropicCompleter(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, r.provider)
	}

	b := &backend{cfg: r, impl: impl}
	if err := b.probe(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backend) probe(ctx context.Context) error {
	_, err := b.SendTurn(ctx, Request{
		Messages: []protocol.Message{protocol.NewMessage(protocol.RoleUser, ProbeMessage)},
	})
	if err != nil {
		return fmt.Errorf("%w: health probe: %w", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *backend) SendTurn(ctx context.Context, req Request) (Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.timeout)
	defer cancel()

	reply, err := b.impl.complete(ctx, req)
	if err != nil {
		return Reply{}, classify(b.cfg.provider, b.cfg.model, err)
	}
	if len(reply.ToolCalls) > 0 {
		reply.Kind = ReplyToolRequest
	} else {
		reply.Kind = ReplyFinal
	}
	return reply, nil
}

func (b *backend) Info() Info {
	return Info{
		Provider: b.cfg.provider,
		Model:    b.cfg.model,
		BaseURL:  b.cfg.baseURL,
		Timeout:  b.cfg.timeout,
	}
}

func (b *backend) Close() error {
	b.cfg.httpClient.CloseIdleConnections()
	return nil
}
