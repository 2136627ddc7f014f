package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnsupportedProvider is returned when the provider name is not in the
	// supported table. No network traffic happens in this case.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrMissingCredential is returned when a remote provider has no API key.
	ErrMissingCredential = errors.New("missing credential")
	// ErrBackendUnavailable wraps transport and API failures, including a
	// failed health probe.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendTimeout is returned when a request exceeds the configured timeout.
	ErrBackendTimeout = errors.New("backend timeout")
)

// classify maps a raw SDK error onto the package sentinels.
func classify(p Provider, model string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %s (%s): %w", ErrBackendTimeout, p, model, err)
	}
	return fmt.Errorf("%w: %s (%s): %w", ErrBackendUnavailable, p, model, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
