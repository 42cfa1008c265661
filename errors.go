package mcpgate

import "github.com/substratelabs/mcpgate/internal/errs"

// Re-export error types from internal package

// ProxyError is the base interface for all proxy errors.
type ProxyError = errs.ProxyError

// IsProxyError reports whether err or any error it wraps originated in the
// proxy itself.
func IsProxyError(err error) bool {
	return errs.IsProxyError(err)
}

// SpawnError indicates a tool-server process could not be started or its
// handshake failed.
type SpawnError = errs.SpawnError

// ProcessError indicates a tool-server process exited abnormally.
type ProcessError = errs.ProcessError

// ProtocolDecodeError indicates a malformed message from a tool server.
type ProtocolDecodeError = errs.ProtocolDecodeError

// Re-export sentinel errors from internal package.
var (
	// ErrSessionNotConnected indicates the targeted session has no live entry.
	ErrSessionNotConnected = errs.ErrSessionNotConnected

	// ErrEmptyCommand indicates a spawn configuration without a command.
	ErrEmptyCommand = errs.ErrEmptyCommand

	// ErrTransportClosed indicates the transport has been closed.
	ErrTransportClosed = errs.ErrTransportClosed
)
