package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minhyannv/mcp-chat-go/pkg/backend"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
	"github.com/peterh/liner"
)

// chatSession is the part of the orchestrator the REPL drives.
type chatSession interface {
	Chat(ctx context.Context, sessionID, input string) (string, error)
	Tools() []protocol.Tool
	Info() backend.Info
	Shutdown() error
}

// replOptions configures REPL behavior.
type replOptions struct {
	SessionID string
	Verbose   bool
	Logger    loggerpkg.Logger
	// Interrupts cancels the turn in flight. Nil disables cancellation.
	Interrupts <-chan os.Signal
}

// lineReader reads one line of user input after printing prompt.
// io.EOF ends the session.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// interruptible readers end a pending ReadLine with io.EOF on Interrupt.
type interruptible interface {
	Interrupt()
}

var exitWords = map[string]bool{
	"exit": true, "quit": true, "bye": true,
	"/exit": true, "/quit": true, "/q": true,
}

func isExitCommand(input string) bool {
	return exitWords[strings.ToLower(strings.TrimSpace(input))]
}

// runREPL reads user lines until an exit word or end of input, then shuts the
// session down exactly once.
func runREPL(ctx context.Context, session chatSession, opts replOptions, in lineReader, out io.Writer) (err error) {
	if session == nil {
		return fmt.Errorf("chat session is required")
	}
	if in == nil {
		return fmt.Errorf("input reader is required")
	}
	if out == nil {
		out = io.Discard
	}
	defer func() {
		if shutdownErr := session.Shutdown(); shutdownErr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", shutdownErr)
		}
	}()

	loggerpkg.Debug(opts.Verbose, opts.Logger, "repl start", map[string]any{"session": opts.SessionID})

	// An interrupt between turns ends input the way EOF does.
	turns := newTurnCanceller(opts.Interrupts, func() {
		if r, ok := in.(interruptible); ok {
			r.Interrupt()
		}
	})
	defer turns.stop()

	printWelcome(out, session.Info())

	for {
		line, readErr := in.ReadLine("You: ")
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, liner.ErrPromptAborted) {
				_, _ = fmt.Fprintln(out)
				printGoodbye(out)
				return nil
			}
			return fmt.Errorf("read input: %w", readErr)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if isExitCommand(input) {
			printGoodbye(out)
			return nil
		}
		if strings.HasPrefix(input, "/") {
			handleCommand(input, session, out)
			continue
		}

		turnCtx := turns.begin(ctx)
		reply, chatErr := session.Chat(turnCtx, opts.SessionID, input)
		turns.end()
		if chatErr != nil {
			if errors.Is(chatErr, context.Canceled) && ctx.Err() == nil {
				_, _ = fmt.Fprintln(out, warningStyle.Render("[Cancelled]"))
				_, _ = fmt.Fprintln(out)
				continue
			}
			_, _ = fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("Error: %v", chatErr)))
			_, _ = fmt.Fprintln(out)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		_, _ = fmt.Fprintf(out, "%s %s\n\n", highlightStyle.Render("AI:"), reply)
	}
}

// turnCanceller cancels the in-flight turn when an interrupt arrives, or
// calls idle when no turn is running.
type turnCanceller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	idle   func()
	done   chan struct{}
}

func newTurnCanceller(signals <-chan os.Signal, idle func()) *turnCanceller {
	t := &turnCanceller{idle: idle, done: make(chan struct{})}
	if signals == nil {
		return t
	}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-signals:
				t.mu.Lock()
				if t.cancel != nil {
					t.cancel()
				} else if t.idle != nil {
					t.idle()
				}
				t.mu.Unlock()
			}
		}
	}()
	return t
}

func (t *turnCanceller) begin(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	return ctx
}

func (t *turnCanceller) end() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
}

func (t *turnCanceller) stop() {
	close(t.done)
}

func printWelcome(out io.Writer, info backend.Info) {
	rule := strings.Repeat("═", 60)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, titleStyle.Render(rule))
	_, _ = fmt.Fprintln(out, titleStyle.Render("                    MCP Chat Client"))
	_, _ = fmt.Fprintln(out, titleStyle.Render(rule))
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "→ Starting chat with %s (%s) + MCP Tools\n", providerLabel(info.Provider), info.Model)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "💡 Try asking:")
	_, _ = fmt.Fprintln(out, dimStyle.Render("   • 'What monkey species do you know?'"))
	_, _ = fmt.Fprintln(out, dimStyle.Render("   • 'Tell me about a random monkey'"))
	_, _ = fmt.Fprintln(out, dimStyle.Render("   • 'Is the Mandrill in your list?'"))
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Type 'exit', 'quit', or 'bye' to end the conversation, /help for commands")
	_, _ = fmt.Fprintln(out, dimStyle.Render(strings.Repeat("─", 60)))
	_, _ = fmt.Fprintln(out)
}

func printGoodbye(out io.Writer) {
	_, _ = fmt.Fprintln(out, "👋 Goodbye!")
}

func handleCommand(input string, session chatSession, out io.Writer) {
	switch strings.ToLower(input) {
	case "/help", "/h":
		printHelp(out)
	case "/tools":
		printTools(out, session.Tools())
	default:
		_, _ = fmt.Fprintf(out, "Unknown command: %s. Type /help for available commands.\n\n", input)
	}
}

func printHelp(out io.Writer) {
	_, _ = fmt.Fprintln(out, "Commands:")
	_, _ = fmt.Fprintln(out, "  /help  - Show this help message")
	_, _ = fmt.Fprintln(out, "  /tools - List the tools the model can call")
	_, _ = fmt.Fprintln(out, "  /quit  - Exit the program (also: exit, quit, bye)")
	_, _ = fmt.Fprintln(out, "  Ctrl+C - Cancel the reply in progress, or exit while waiting for input")
	_, _ = fmt.Fprintln(out)
}

// printTools renders the tool listing shared by /tools and the tools command.
func printTools(out io.Writer, list []protocol.Tool) {
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, titleStyle.Render("═════════════════ MCP Tools ═════════════════"))
	_, _ = fmt.Fprintln(out)

	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, warningStyle.Render("   → No tools available from registered MCP servers."))
		_, _ = fmt.Fprintln(out, dimStyle.Render("   → Please ensure MCP servers are running and properly configured."))
		_, _ = fmt.Fprintln(out)
		return
	}

	for _, tool := range list {
		_, _ = fmt.Fprintf(out, "%s %s\n", highlightStyle.Render("Tool:"), tool.Name)
		if tool.Description != "" {
			_, _ = fmt.Fprintf(out, "  Description: %s\n", tool.Description)
		}
		if tool.Server != "" {
			_, _ = fmt.Fprintf(out, "  Server: %s\n", tool.Server)
		}
		if params := tool.ParametersJSON(); params != "" && params != "{}" {
			_, _ = fmt.Fprintf(out, "  Parameters: %s\n", params)
		}
		_, _ = fmt.Fprintln(out)
	}

	suffix := "s"
	if len(list) == 1 {
		suffix = ""
	}
	_, _ = fmt.Fprintln(out, dimStyle.Render(strings.Repeat("─", 45)))
	_, _ = fmt.Fprintf(out, "Total: %d tool%s available\n\n", len(list), suffix)
}

func providerLabel(p backend.Provider) string {
	switch p {
	case backend.ProviderOpenAI:
		return "OpenAI"
	case backend.ProviderAnthropic:
		return "Anthropic"
	case backend.ProviderOllama:
		return "Ollama"
	default:
		return string(p)
	}
}

// scannerReader reads lines from a non-terminal input such as a pipe. Lines
// are scanned on a goroutine so Interrupt can end a blocked read.
type scannerReader struct {
	out       io.Writer
	lines     chan scanResult
	abort     chan struct{}
	abortOnce sync.Once
}

type scanResult struct {
	line string
	err  error
}

func newScannerReader(in io.Reader, out io.Writer) *scannerReader {
	r := &scannerReader{
		out:   out,
		lines: make(chan scanResult),
		abort: make(chan struct{}),
	}
	go r.scan(bufio.NewScanner(in))
	return r
}

func (r *scannerReader) scan(scanner *bufio.Scanner) {
	defer close(r.lines)
	for scanner.Scan() {
		select {
		case r.lines <- scanResult{line: scanner.Text()}:
		case <-r.abort:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case r.lines <- scanResult{err: err}:
		case <-r.abort:
		}
	}
}

func (r *scannerReader) ReadLine(prompt string) (string, error) {
	_, _ = fmt.Fprint(r.out, prompt)
	select {
	case res, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	case <-r.abort:
		return "", io.EOF
	}
}

func (r *scannerReader) Interrupt() {
	r.abortOnce.Do(func() { close(r.abort) })
}

func (r *scannerReader) Close() error {
	r.Interrupt()
	return nil
}

// linerReader provides line editing and persistent history on a terminal.
type linerReader struct {
	line        *liner.State
	historyPath string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	r := &linerReader{line: line, historyPath: historyFile()}
	if r.historyPath != "" {
		if f, err := os.Open(r.historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
	}
	return r
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *linerReader) Close() error {
	if r.historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o755); err == nil {
			if f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = r.line.WriteHistory(f)
				_ = f.Close()
			}
		}
	}
	return r.line.Close()
}

func historyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mcp-chat", "history")
}
