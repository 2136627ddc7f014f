package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/minhyannv/mcp-chat-go/pkg/backend"
	"github.com/minhyannv/mcp-chat-go/pkg/memory"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"github.com/minhyannv/mcp-chat-go/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBackend struct {
	mu       sync.Mutex
	replies  []backend.Reply
	errs     []error
	requests []backend.Request
	closed   int
	block    chan struct{}
}

func (b *scriptedBackend) SendTurn(ctx context.Context, req backend.Request) (backend.Reply, error) {
	b.mu.Lock()
	idx := len(b.requests)
	b.requests = append(b.requests, backend.Request{
		Instructions: req.Instructions,
		Messages:     protocol.CloneMessages(req.Messages),
		Tools:        req.Tools,
	})
	block := b.block
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return backend.Reply{}, ctx.Err()
		}
	}
	if idx < len(b.errs) && b.errs[idx] != nil {
		return backend.Reply{}, b.errs[idx]
	}
	if idx < len(b.replies) {
		return b.replies[idx], nil
	}
	return backend.Reply{Kind: backend.ReplyFinal, Content: "ok"}, nil
}

func (b *scriptedBackend) Info() backend.Info {
	return backend.Info{Provider: backend.ProviderOllama, Model: "m1"}
}

func (b *scriptedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *scriptedBackend) sent() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Request(nil), b.requests...)
}

type fakeRegistry struct {
	mu        sync.Mutex
	tools     []protocol.Tool
	results   map[string]string
	errs      map[string]error
	invoked   []string
	shutdowns int
}

func (r *fakeRegistry) Discover(context.Context) tools.Discovery {
	return tools.Discovery{Tools: r.tools}
}

func (r *fakeRegistry) Invoke(_ context.Context, name string, args map[string]any) (tools.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, _ := json.Marshal(args)
	r.invoked = append(r.invoked, fmt.Sprintf("%s %s", name, b))
	if err := r.errs[name]; err != nil {
		return tools.Result{}, err
	}
	if _, ok := r.results[name]; !ok {
		return tools.Result{}, &tools.InvocationError{Tool: name, Kind: tools.ErrToolNotFound}
	}
	return tools.Result{Tool: name, Content: r.results[name]}, nil
}

func (r *fakeRegistry) Tools() []protocol.Tool {
	return r.tools
}

func (r *fakeRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
}

func final(text string) backend.Reply {
	return backend.Reply{Kind: backend.ReplyFinal, Content: text}
}

func toolRequest(calls ...protocol.ToolCall) backend.Reply {
	return backend.Reply{Kind: backend.ReplyToolRequest, ToolCalls: calls}
}

func newOrchestrator(t *testing.T, b backend.Backend, reg ToolRegistry, store memory.Store, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), b, reg, store, opts...)
	require.NoError(t, err)
	return o
}

func TestChatRecordsOneExchange(t *testing.T) {
	b := &scriptedBackend{replies: []backend.Reply{final("Hello there!")}}
	reg := &fakeRegistry{}
	store := memory.NewInMemoryStore(20)
	o := newOrchestrator(t, b, reg, store)
	assert.Equal(t, StateReady, o.State())
	assert.True(t, o.Discovery().Empty())

	reply, err := o.Chat(context.Background(), "s1", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", reply)
	assert.Equal(t, StateReady, o.State())

	window, err := store.Window("s1")
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, protocol.NewMessage(protocol.RoleUser, "hello"), window[0])
	assert.Equal(t, protocol.NewMessage(protocol.RoleAssistant, "Hello there!"), window[1])

	require.NoError(t, o.Shutdown())
	require.NoError(t, o.Shutdown())
	assert.Equal(t, StateShutDown, o.State())
	assert.Equal(t, 1, reg.shutdowns)
	assert.Equal(t, 1, b.closed)

	_, err = o.Chat(context.Background(), "s1", "again")
	assert.ErrorIs(t, err, ErrShutDown)
}

func TestChatSendsWindowAndInstructions(t *testing.T) {
	b := &scriptedBackend{}
	reg := &fakeRegistry{tools: []protocol.Tool{{Name: "get_monkey", Description: "Lookup"}}}
	store := memory.NewInMemoryStore(20)
	require.NoError(t, store.Append("s1",
		protocol.NewMessage(protocol.RoleUser, "earlier"),
		protocol.NewMessage(protocol.RoleAssistant, "answer")))
	o := newOrchestrator(t, b, reg, store, WithInstructions("Be terse."))

	_, err := o.Chat(context.Background(), "s1", "now")
	require.NoError(t, err)

	reqs := b.sent()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "Be terse.")
	assert.Contains(t, reqs[0].Instructions, "get_monkey")
	require.Len(t, reqs[0].Messages, 3)
	assert.Equal(t, "now", reqs[0].Messages[2].Content)
	assert.Equal(t, reg.tools, reqs[0].Tools)
}

func TestChatRejectsBlankInput(t *testing.T) {
	b := &scriptedBackend{}
	o := newOrchestrator(t, b, &fakeRegistry{}, memory.NewInMemoryStore(20))
	_, err := o.Chat(context.Background(), "s1", " \t ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, b.sent())
}

func TestBackendTimeoutLeavesMemoryUnchanged(t *testing.T) {
	timeout := fmt.Errorf("%w: ollama (m1): %w", backend.ErrBackendTimeout, context.DeadlineExceeded)
	b := &scriptedBackend{errs: []error{nil, timeout}, replies: []backend.Reply{final("first")}}
	store := memory.NewInMemoryStore(20)
	o := newOrchestrator(t, b, &fakeRegistry{}, store)

	_, err := o.Chat(context.Background(), "s1", "one")
	require.NoError(t, err)

	_, err = o.Chat(context.Background(), "s1", "two")
	require.ErrorIs(t, err, backend.ErrBackendTimeout)
	assert.Equal(t, StateReady, o.State())

	window, err := store.Window("s1")
	require.NoError(t, err)
	assert.Len(t, window, 2)

	_, err = o.Chat(context.Background(), "s1", "three")
	require.NoError(t, err)
}

func TestToolRequestsRouteThroughRegistry(t *testing.T) {
	b := &scriptedBackend{replies: []backend.Reply{
		toolRequest(protocol.ToolCall{ID: "c1", Name: "get_monkey", Arguments: []byte(`{"name":"Baboon"}`)}),
		final("Baboons live in Africa."),
	}}
	reg := &fakeRegistry{
		tools:   []protocol.Tool{{Name: "get_monkey"}},
		results: map[string]string{"get_monkey": `{"name":"Baboon","location":"Africa"}`},
	}
	store := memory.NewInMemoryStore(20)
	o := newOrchestrator(t, b, reg, store)

	reply, err := o.Chat(context.Background(), "s1", "Tell me about baboons")
	require.NoError(t, err)
	assert.Equal(t, "Baboons live in Africa.", reply)
	assert.Equal(t, []string{`get_monkey {"name":"Baboon"}`}, reg.invoked)

	reqs := b.sent()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, protocol.RoleAssistant, second[1].Role)
	assert.Equal(t, "c1", second[1].ToolCalls[0].ID)
	assert.Equal(t, protocol.RoleTool, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.JSONEq(t, `{"ok":true,"tool":"get_monkey","data":{"name":"Baboon","location":"Africa"}}`, second[2].Content)

	window, err := store.Window("s1")
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Empty(t, window[1].ToolCalls)
}

func TestToolErrorsAreFedBack(t *testing.T) {
	b := &scriptedBackend{replies: []backend.Reply{
		toolRequest(
			protocol.ToolCall{ID: "c1", Name: "nope"},
			protocol.ToolCall{ID: "c2", Name: "get_monkey", Arguments: []byte(`{"name":"Yeti"}`)},
			protocol.ToolCall{ID: "c3", Name: "get_monkey", Arguments: []byte(`not json`)},
		),
		final("I could not find that."),
	}}
	reg := &fakeRegistry{
		tools: []protocol.Tool{{Name: "get_monkey"}},
		errs: map[string]error{"get_monkey": &tools.InvocationError{
			Tool: "get_monkey", Kind: tools.ErrToolServerError, Err: errors.New("species not found"),
		}},
	}
	o := newOrchestrator(t, b, reg, memory.NewInMemoryStore(20))

	reply, err := o.Chat(context.Background(), "s1", "Tell me about the yeti")
	require.NoError(t, err)
	assert.Equal(t, "I could not find that.", reply)

	msgs := b.sent()[1].Messages
	require.Len(t, msgs, 5)
	for _, m := range msgs[2:] {
		assert.Contains(t, m.Content, `"ok":false`)
	}
	assert.Contains(t, msgs[3].Content, "species not found")
	assert.Contains(t, msgs[4].Content, "invalid arguments")
	assert.Len(t, reg.invoked, 2)
}

func TestUnreachableToolServerAbortsTurn(t *testing.T) {
	b := &scriptedBackend{replies: []backend.Reply{
		toolRequest(protocol.ToolCall{ID: "c1", Name: "get_monkey"}),
	}}
	reg := &fakeRegistry{
		tools: []protocol.Tool{{Name: "get_monkey"}},
		errs: map[string]error{"get_monkey": &tools.InvocationError{
			Tool: "get_monkey", Kind: tools.ErrToolServerUnreachable, Err: errors.New("EOF"),
		}},
	}
	store := memory.NewInMemoryStore(20)
	o := newOrchestrator(t, b, reg, store)

	_, err := o.Chat(context.Background(), "s1", "hi")
	require.ErrorIs(t, err, tools.ErrToolServerUnreachable)
	window, _ := store.Window("s1")
	assert.Empty(t, window)
	assert.Equal(t, StateReady, o.State())
}

func TestToolHopLimit(t *testing.T) {
	loop := toolRequest(protocol.ToolCall{ID: "c", Name: "monkey_count"})
	b := &scriptedBackend{replies: []backend.Reply{loop, loop, loop, loop}}
	reg := &fakeRegistry{results: map[string]string{"monkey_count": "26"}}
	store := memory.NewInMemoryStore(20)
	o := newOrchestrator(t, b, reg, store, WithMaxToolHops(2))

	_, err := o.Chat(context.Background(), "s1", "count forever")
	require.ErrorIs(t, err, ErrToolHopLimit)
	assert.Len(t, b.sent(), 3)
	assert.Len(t, reg.invoked, 2)
	window, _ := store.Window("s1")
	assert.Empty(t, window)
}

func TestOverlappingTurnIsBusy(t *testing.T) {
	b := &scriptedBackend{block: make(chan struct{})}
	o := newOrchestrator(t, b, &fakeRegistry{}, memory.NewInMemoryStore(20))

	done := make(chan error, 1)
	go func() {
		_, err := o.Chat(context.Background(), "s1", "slow")
		done <- err
	}()
	require.Eventually(t, func() bool { return o.State() == StateAwaitingReply }, time.Second, 5*time.Millisecond)

	_, err := o.Chat(context.Background(), "s1", "fast")
	assert.ErrorIs(t, err, ErrBusy)

	close(b.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, o.State())
}

func TestCancelledTurnLeavesMemoryUnchanged(t *testing.T) {
	b := &scriptedBackend{block: make(chan struct{})}
	store := memory.NewInMemoryStore(20)
	o := newOrchestrator(t, b, &fakeRegistry{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Chat(ctx, "s1", "never mind")
	require.ErrorIs(t, err, context.Canceled)
	window, _ := store.Window("s1")
	assert.Empty(t, window)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(context.Background(), nil, &fakeRegistry{}, memory.NewInMemoryStore(0))
	assert.Error(t, err)
	_, err = New(context.Background(), &scriptedBackend{}, nil, memory.NewInMemoryStore(0))
	assert.Error(t, err)
	_, err = New(context.Background(), &scriptedBackend{}, &fakeRegistry{}, nil)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "awaiting_reply", StateAwaitingReply.String())
	assert.Equal(t, "shut_down", StateShutDown.String())
}
