package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnError(t *testing.T) {
	cause := errors.New("executable file not found in $PATH")
	err := &SpawnError{Command: "tool-server", Err: cause}

	assert.Contains(t, err.Error(), "tool-server")
	assert.Contains(t, err.Error(), "executable file not found")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsProxyError(err))
}

func TestProcessError(t *testing.T) {
	withStderr := &ProcessError{ExitCode: 2, Stderr: "panic: out of cheese"}
	assert.Contains(t, withStderr.Error(), "exit 2")
	assert.Contains(t, withStderr.Error(), "out of cheese")

	cause := errors.New("broken pipe")
	withoutStderr := &ProcessError{ExitCode: 1, Err: cause}
	assert.Contains(t, withoutStderr.Error(), "exit 1")
	assert.Contains(t, withoutStderr.Error(), "broken pipe")
	assert.ErrorIs(t, withoutStderr, cause)
	assert.True(t, IsProxyError(withoutStderr))
}

func TestProtocolDecodeError(t *testing.T) {
	cause := errors.New("invalid character 'h'")
	err := &ProtocolDecodeError{RawData: "hello", Err: cause}

	assert.Contains(t, err.Error(), "invalid character")
	assert.Equal(t, "hello", err.RawData)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsProxyError(err))
}

func TestIsProxyError_Wrapped(t *testing.T) {
	err := fmt.Errorf("register: %w", &SpawnError{Command: "tool-server", Err: errors.New("boom")})
	assert.True(t, IsProxyError(err))

	assert.False(t, IsProxyError(errors.New("plain error")))
	assert.False(t, IsProxyError(nil))
}

func TestSentinels(t *testing.T) {
	wrapped := fmt.Errorf("session %q: %w", "a", ErrSessionNotConnected)

	require.ErrorIs(t, wrapped, ErrSessionNotConnected)
	assert.Contains(t, wrapped.Error(), "session not connected")
}
