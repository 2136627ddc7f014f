package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound means no discovered server exposes the requested tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolServerError means the server ran the tool and reported a failure.
	ErrToolServerError = errors.New("tool server error")
	// ErrToolServerUnreachable covers transport failures, timeouts and closed
	// connections.
	ErrToolServerUnreachable = errors.New("tool server unreachable")
)

// InvocationError describes a failed Invoke. It matches its Kind sentinel
// with errors.Is and unwraps to the underlying cause.
type InvocationError struct {
	Tool   string
	Server string
	Kind   error
	Err    error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Tool)
	if e.Server != "" {
		msg += " on " + e.Server
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Is(target error) bool {
	return target == e.Kind
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// DiscoveryFailure records a server that contributed no tools during Discover.
type DiscoveryFailure struct {
	Server string
	Err    error
}

func (f DiscoveryFailure) Error() string {
	return fmt.Sprintf("discover %s: %v", f.Server, f.Err)
}

func (f DiscoveryFailure) Unwrap() error {
	return f.Err
}
