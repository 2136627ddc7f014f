package chat

import loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"

// DefaultMaxToolHops bounds the tool rounds of a single turn.
const DefaultMaxToolHops = 5

// Option configures optional runtime dependencies for an Orchestrator.
type Option func(*deps)

type deps struct {
	logger       loggerpkg.Logger
	instructions string
	maxToolHops  int
	verbose      bool
}

// WithLogger injects a logger dependency.
func WithLogger(l loggerpkg.Logger) Option {
	return func(d *deps) {
		d.logger = loggerpkg.OrNop(l)
	}
}

// WithInstructions replaces the base system instructions.
func WithInstructions(text string) Option {
	return func(d *deps) {
		d.instructions = text
	}
}

// WithMaxToolHops sets how many tool rounds a turn may take. Values below 1
// keep the default.
func WithMaxToolHops(n int) Option {
	return func(d *deps) {
		if n > 0 {
			d.maxToolHops = n
		}
	}
}

// WithVerbose enables debug logging of each round trip.
func WithVerbose(v bool) Option {
	return func(d *deps) {
		d.verbose = v
	}
}
