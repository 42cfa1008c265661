package errs

import (
	"errors"
	"fmt"
)

// ProxyError is the base interface for all proxy errors.
type ProxyError interface {
	error
	IsProxyError() bool
}

// IsProxyError reports whether err or any error it wraps originated in the
// proxy itself, as opposed to a tool server or the standard library.
func IsProxyError(err error) bool {
	var proxyErr ProxyError

	return errors.As(err, &proxyErr)
}

// Compile-time verification that all error types implement ProxyError.
var (
	_ ProxyError = (*SpawnError)(nil)
	_ ProxyError = (*ProcessError)(nil)
	_ ProxyError = (*ProtocolDecodeError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionNotConnected indicates the targeted session has no live entry
	// in the registry.
	ErrSessionNotConnected = errors.New("session not connected")

	// ErrEmptyCommand indicates a spawn configuration with an empty command.
	ErrEmptyCommand = errors.New("command must not be empty")

	// ErrTransportClosed indicates the transport has been closed and can no
	// longer carry messages.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTransportNotStarted indicates a read or write before the child
	// process was spawned.
	ErrTransportNotStarted = errors.New("transport not started")
)

// SpawnError indicates the tool-server child process could not be started
// or its protocol handshake failed.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn tool server %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsProxyError implements ProxyError.
func (e *SpawnError) IsProxyError() bool { return true }

// ProcessError indicates the tool-server child process exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tool server process failed (exit %d): %s", e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("tool server process failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsProxyError implements ProxyError.
func (e *ProcessError) IsProxyError() bool { return true }

// ProtocolDecodeError indicates a line read from the child process could not
// be decoded as a JSON-RPC message. The raw line is preserved for diagnosis.
type ProtocolDecodeError struct {
	RawData string
	Err     error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("failed to decode message from tool server: %v", e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

// IsProxyError implements ProxyError.
func (e *ProtocolDecodeError) IsProxyError() bool { return true }
