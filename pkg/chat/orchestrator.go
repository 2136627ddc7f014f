// Package chat runs conversation turns against a model backend, routing tool
// requests through the tool registry and recording completed turns in
// session memory.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/minhyannv/mcp-chat-go/pkg/backend"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
	"github.com/minhyannv/mcp-chat-go/pkg/memory"
	"github.com/minhyannv/mcp-chat-go/pkg/prompt"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"github.com/minhyannv/mcp-chat-go/pkg/tools"
)

var (
	ErrShutDown     = errors.New("chat session is shut down")
	ErrBusy         = errors.New("a turn is already in progress")
	ErrToolHopLimit = errors.New("tool call limit reached before the assistant produced a final response")
	ErrEmptyInput   = errors.New("user input is required")
)

// State is the lifecycle position of an Orchestrator.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateAwaitingReply
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateShutDown:
		return "shut_down"
	default:
		return "uninitialized"
	}
}

// ToolRegistry is the subset of *tools.Registry the orchestrator uses.
type ToolRegistry interface {
	Discover(ctx context.Context) tools.Discovery
	Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error)
	Tools() []protocol.Tool
	Shutdown()
}

// Orchestrator owns one backend, one tool registry and one memory store.
type Orchestrator struct {
	backend  backend.Backend
	registry ToolRegistry
	store    memory.Store

	instructions string
	discovery    tools.Discovery
	maxToolHops  int

	logger  loggerpkg.Logger
	verbose bool

	mu           sync.Mutex
	state        State
	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a constructed backend to the registry and store, runs tool
// discovery once and returns a Ready orchestrator. Zero discovered tools is
// not an error.
func New(ctx context.Context, b backend.Backend, reg ToolRegistry, store memory.Store, opts ...Option) (*Orchestrator, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if reg == nil {
		return nil, errors.New("tool registry is required")
	}
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d := deps{logger: loggerpkg.NopLogger{}, maxToolHops: DefaultMaxToolHops}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}

	o := &Orchestrator{
		backend:     b,
		registry:    reg,
		store:       store,
		maxToolHops: d.maxToolHops,
		logger:      d.logger,
		verbose:     d.verbose,
	}

	o.discovery = reg.Discover(ctx)
	for _, f := range o.discovery.Failures {
		loggerpkg.Debug(o.verbose, o.logger, "tool discovery failure", map[string]any{
			"server": f.Server,
			"error":  f.Err.Error(),
		})
	}
	o.instructions = prompt.BuildSystemPrompt(d.instructions, o.discovery.Tools)

	info := b.Info()
	loggerpkg.Debug(o.verbose, o.logger, "chat ready", map[string]any{
		"provider":      info.Provider,
		"model":         info.Model,
		"tools":         len(o.discovery.Tools),
		"max_tool_hops": o.maxToolHops,
	})

	o.state = StateReady
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Info describes the backend serving this session.
func (o *Orchestrator) Info() backend.Info {
	return o.backend.Info()
}

// Discovery returns the outcome of the startup discovery.
func (o *Orchestrator) Discovery() tools.Discovery {
	return o.discovery
}

// Tools returns the tools exposed to the model.
func (o *Orchestrator) Tools() []protocol.Tool {
	return o.registry.Tools()
}

// Instructions returns the system text sent with every turn.
func (o *Orchestrator) Instructions() string {
	return o.instructions
}

// Chat runs one user turn for sessionID and returns the assistant reply.
// A failed turn leaves the session memory untouched.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := o.begin(); err != nil {
		return "", err
	}
	defer o.end()

	window, err := o.store.Window(sessionID)
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", sessionID, err)
	}
	userMsg := protocol.NewMessage(protocol.RoleUser, input)
	transcript := append(window, userMsg)

	reply, err := o.runIteration(ctx, transcript)
	if err != nil {
		return "", err
	}

	assistantMsg := protocol.NewMessage(protocol.RoleAssistant, reply)
	if err := o.store.Append(sessionID, userMsg, assistantMsg); err != nil {
		return "", fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return reply, nil
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateReady:
		o.state = StateAwaitingReply
		return nil
	case StateAwaitingReply:
		return ErrBusy
	default:
		return ErrShutDown
	}
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateAwaitingReply {
		o.state = StateReady
	}
}

// runIteration sends the transcript, executing requested tools between round
// trips until the model produces a final answer.
func (o *Orchestrator) runIteration(ctx context.Context, transcript []protocol.Message) (string, error) {
	toolDefs := o.registry.Tools()
	for hop := 0; ; hop++ {
		o.debugf("turn: round trip %d, %d message(s)", hop+1, len(transcript))
		reply, err := o.backend.SendTurn(ctx, backend.Request{
			Instructions: o.instructions,
			Messages:     transcript,
			Tools:        toolDefs,
		})
		if err != nil {
			return "", err
		}
		if reply.Kind == backend.ReplyFinal {
			return reply.Content, nil
		}
		if hop >= o.maxToolHops {
			return "", fmt.Errorf("%w (%d)", ErrToolHopLimit, o.maxToolHops)
		}

		o.debugf("turn: assistant requested %d tool call(s)", len(reply.ToolCalls))
		transcript = append(transcript, protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		transcript, err = o.appendToolResponses(ctx, transcript, reply.ToolCalls)
		if err != nil {
			return "", err
		}
	}
}

func (o *Orchestrator) appendToolResponses(
	ctx context.Context,
	transcript []protocol.Message,
	calls []protocol.ToolCall,
) ([]protocol.Message, error) {
	for _, call := range calls {
		var output string
		args, err := call.ArgumentsMap()
		if err != nil {
			output = tools.FormatResult(call.Name, "", fmt.Errorf("invalid arguments: %w", err))
		} else {
			res, err := o.registry.Invoke(ctx, call.Name, args)
			switch {
			case errors.Is(err, tools.ErrToolServerUnreachable):
				return nil, err
			case err != nil:
				o.logger.Warn("tool call failed", map[string]any{"tool": call.Name, "error": err.Error()})
				output = tools.FormatResult(call.Name, "", err)
			default:
				output = tools.FormatResult(call.Name, res.Content, nil)
			}
		}
		transcript = append(transcript, protocol.Message{
			Role:       protocol.RoleTool,
			Content:    output,
			ToolCallID: call.ID,
		})
	}
	return transcript, nil
}

// Shutdown closes the registry, the backend and the store. Later calls
// return the first result; later turns fail with ErrShutDown.
func (o *Orchestrator) Shutdown() error {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		o.state = StateShutDown
		o.mu.Unlock()

		o.registry.Shutdown()
		var errs []error
		if err := o.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
		if err := o.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memory: %w", err))
		}
		o.shutdownErr = errors.Join(errs...)
		loggerpkg.Debug(o.verbose, o.logger, "chat shut down", nil)
	})
	return o.shutdownErr
}

func (o *Orchestrator) debugf(format string, args ...any) {
	loggerpkg.Debugf(o.verbose, o.logger, format, args...)
}
