package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minhyannv/mcp-chat-go/pkg/backend"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu        sync.Mutex
	inputs    []string
	sessions  []string
	reply     func(ctx context.Context, input string) (string, error)
	tools     []protocol.Tool
	shutdowns int
}

func (f *fakeSession) Chat(ctx context.Context, sessionID, input string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(ctx, input)
	}
	return "echo: " + input, nil
}

func (f *fakeSession) Tools() []protocol.Tool { return f.tools }

func (f *fakeSession) Info() backend.Info {
	return backend.Info{Provider: backend.ProviderOllama, Model: "llama3.2"}
}

func (f *fakeSession) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func runScript(t *testing.T, s *fakeSession, opts replOptions, input string) string {
	t.Helper()
	var out bytes.Buffer
	err := runREPL(context.Background(), s, opts, newScannerReader(strings.NewReader(input), &out), &out)
	require.NoError(t, err)
	return out.String()
}

func TestREPLExchangesAndExitWords(t *testing.T) {
	for _, word := range []string{"exit", "QUIT", "bye", "/exit", "/q"} {
		t.Run(word, func(t *testing.T) {
			s := &fakeSession{}
			out := runScript(t, s, replOptions{SessionID: "s1"}, "hello\n\n   \n"+word+"\nnever sent\n")

			assert.Equal(t, []string{"hello"}, s.inputs)
			assert.Equal(t, []string{"s1"}, s.sessions)
			assert.Contains(t, out, "→ Starting chat with Ollama (llama3.2) + MCP Tools")
			assert.Contains(t, out, "AI: echo: hello")
			assert.Contains(t, out, "👋 Goodbye!")
			assert.Equal(t, 1, s.shutdowns)
		})
	}
}

func TestREPLEndOfInputShutsDown(t *testing.T) {
	s := &fakeSession{}
	out := runScript(t, s, replOptions{}, "hi")

	assert.Equal(t, []string{"hi"}, s.inputs)
	assert.Contains(t, out, "👋 Goodbye!")
	assert.Equal(t, 1, s.shutdowns)
}

func TestREPLErrorsDoNotEndSession(t *testing.T) {
	s := &fakeSession{reply: func(_ context.Context, input string) (string, error) {
		if input == "first" {
			return "", errors.New("backend timeout: ollama (llama3.2)")
		}
		return "fine", nil
	}}
	out := runScript(t, s, replOptions{}, "first\nsecond\nexit\n")

	assert.Contains(t, out, "Error: backend timeout: ollama (llama3.2)")
	assert.Contains(t, out, "AI: fine")
	assert.Equal(t, []string{"first", "second"}, s.inputs)
}

func TestREPLCommands(t *testing.T) {
	s := &fakeSession{tools: []protocol.Tool{{
		Name:        "get_monkey",
		Description: "Get details for a monkey species by name",
		Server:      "species",
		Parameters:  map[string]any{"type": "object"},
	}}}
	out := runScript(t, s, replOptions{}, "/help\n/tools\n/unknown\n/quit\n")

	assert.Empty(t, s.inputs)
	assert.Contains(t, out, "/tools - List the tools the model can call")
	assert.Contains(t, out, "Tool: get_monkey")
	assert.Contains(t, out, "  Parameters: {\"type\":\"object\"}")
	assert.Contains(t, out, "Total: 1 tool available")
	assert.Contains(t, out, "Unknown command: /unknown")
}

func TestREPLInterruptCancelsTurn(t *testing.T) {
	interrupts := make(chan os.Signal, 1)
	started := make(chan struct{})
	s := &fakeSession{reply: func(ctx context.Context, input string) (string, error) {
		if input == "slow" {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "quick", nil
	}}

	go func() {
		<-started
		interrupts <- os.Interrupt
	}()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		in := newScannerReader(strings.NewReader("slow\nnext\nexit\n"), &out)
		done <- runREPL(context.Background(), s, replOptions{Interrupts: interrupts}, in, &out)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
		out := out.String()
		assert.Contains(t, out, "[Cancelled]")
		assert.Contains(t, out, "AI: quick")
		assert.Equal(t, 1, s.shutdowns)
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not cancel the turn")
	}
}

func TestREPLInterruptWhileIdleEndsInput(t *testing.T) {
	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt

	// The pipe never delivers a line, so only the interrupt can end the read.
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	s := &fakeSession{}
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runREPL(context.Background(), s, replOptions{Interrupts: interrupts}, newScannerReader(pr, &out), &out)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Contains(t, out.String(), "👋 Goodbye!")
		assert.Empty(t, s.inputs)
		assert.Equal(t, 1, s.shutdowns)
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not end a blocked read")
	}
}

type failingReader struct{}

func (failingReader) ReadLine(string) (string, error) { return "", io.ErrClosedPipe }
func (failingReader) Close() error                    { return nil }

func TestREPLReadErrorStillShutsDown(t *testing.T) {
	s := &fakeSession{}
	err := runREPL(context.Background(), s, replOptions{}, failingReader{}, io.Discard)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 1, s.shutdowns)
}

func TestREPLRequiresSessionAndReader(t *testing.T) {
	assert.Error(t, runREPL(context.Background(), nil, replOptions{}, failingReader{}, nil))
	assert.Error(t, runREPL(context.Background(), &fakeSession{}, replOptions{}, nil, nil))
}

func TestPrintToolsEmpty(t *testing.T) {
	var out bytes.Buffer
	printTools(&out, nil)
	assert.Contains(t, out.String(), "═ MCP Tools ═")
	assert.Contains(t, out.String(), "Please ensure MCP servers are running and properly configured.")
	assert.NotContains(t, out.String(), "Total:")
}
