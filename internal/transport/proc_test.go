package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substratelabs/mcpgate/internal/errs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClose_Idempotent(t *testing.T) {
	p := New(testLogger(), "tool-server", nil, nil)

	// Closing a transport that was never started is a no-op, repeatedly.
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestConnect_AfterClose(t *testing.T) {
	p := New(testLogger(), "tool-server", nil, nil)
	require.NoError(t, p.Close())

	_, err := p.Connect(context.Background())
	require.ErrorIs(t, err, errs.ErrTransportClosed)
}

func TestConnect_CancelledContext(t *testing.T) {
	p := New(testLogger(), "tool-server", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConnect_SpawnFailure(t *testing.T) {
	p := New(testLogger(), "definitely-not-a-real-binary-1f2e3d", nil, nil)

	_, err := p.Connect(context.Background())
	require.Error(t, err)

	var spawnErr *errs.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "definitely-not-a-real-binary-1f2e3d", spawnErr.Command)
	assert.True(t, errs.IsProxyError(err))
}

func TestBuildEnvironment(t *testing.T) {
	t.Setenv("MCPGATE_TEST_INHERITED", "parent")

	env := buildEnvironment(map[string]string{"EXTRA_KEY": "extra-value"})

	assert.Contains(t, env, "MCPGATE_TEST_INHERITED=parent")
	assert.Contains(t, env, "EXTRA_KEY=extra-value")
}

// pipeConn builds a conn over in-memory streams so the codec can be tested
// without a child process.
func pipeConn(stdout string) (*conn, *bytes.Buffer) {
	var stdin bytes.Buffer

	p := &Proc{log: testLogger()}

	return newConn(p, &stdin, strings.NewReader(stdout)), &stdin
}

func TestConn_ReadWriteRoundTrip(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	c, stdin := pipeConn(line + "\n")

	ctx := context.Background()

	msg, err := c.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Writing the decoded message back produces one newline-terminated line
	// with the same payload.
	require.NoError(t, c.Write(ctx, msg))

	written := stdin.String()
	require.True(t, strings.HasSuffix(written, "\n"))
	assert.JSONEq(t, line, strings.TrimSuffix(written, "\n"))
}

func TestConn_ReadSkipsBlankLines(t *testing.T) {
	c, _ := pipeConn("\n\n" + `{"jsonrpc":"2.0","id":7,"method":"ping"}` + "\n")

	msg, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, msg)
}

func TestConn_ReadEOF(t *testing.T) {
	c, _ := pipeConn("")

	_, err := c.Read(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestConn_ReadMalformedLine(t *testing.T) {
	c, _ := pipeConn("this is not json\n")

	_, err := c.Read(context.Background())
	require.Error(t, err)

	var decodeErr *errs.ProtocolDecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "this is not json", decodeErr.RawData)
}

func TestConn_ReadCancelledContext(t *testing.T) {
	c, _ := pipeConn(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConn_WriteAfterClose(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	c, _ := pipeConn(line + "\n")

	msg, err := c.Read(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Close())

	err = c.Write(context.Background(), msg)
	require.ErrorIs(t, err, errs.ErrTransportClosed)
}

func TestConn_SessionID(t *testing.T) {
	c, _ := pipeConn("")

	assert.Empty(t, c.SessionID())
}
