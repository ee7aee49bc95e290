package grafikeye

import (
	"errors"
	"fmt"
)

// Sentinel errors for Grafik Eye operations.
// Use errors.Is() to check for these in calling code.
var (
	// ErrConnectionFailed indicates the TCP link could not be opened
	// (refused, timed out, or the host did not resolve).
	ErrConnectionFailed = errors.New("grafikeye: connection failed")

	// ErrLoginRejected indicates the controller refused the login token or
	// already has a client attached. Use errors.As with *LoginError for details.
	ErrLoginRejected = errors.New("grafikeye: login rejected")

	// ErrWriteFailed indicates a write to the link failed (closed stream,
	// reset, broken pipe).
	ErrWriteFailed = errors.New("grafikeye: write failed")

	// ErrReadFailed indicates the link closed or errored while reading.
	ErrReadFailed = errors.New("grafikeye: read failed")

	// ErrReadTimeout indicates no delimiter arrived before the read deadline.
	// The link is still usable.
	ErrReadTimeout = errors.New("grafikeye: read timeout")

	// ErrSessionClosed is returned by Session methods after Close.
	ErrSessionClosed = errors.New("grafikeye: session closed")

	// ErrControllerClosed is returned by Connect after Close.
	ErrControllerClosed = errors.New("grafikeye: controller closed")

	// ErrInvalidControlUnit indicates a control unit outside 1..8.
	ErrInvalidControlUnit = errors.New("grafikeye: control unit out of range")

	// ErrInvalidScene indicates an empty or unknown scene.
	ErrInvalidScene = errors.New("grafikeye: invalid scene")
)

// LoginError describes a rejected login handshake.
type LoginError struct {
	Result LoginResult
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLoginRejected.Error(), e.Result)
}

// Unwrap lets errors.Is(err, ErrLoginRejected) match.
func (e *LoginError) Unwrap() error {
	return ErrLoginRejected
}
