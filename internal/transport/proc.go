package transport

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/substratelabs/mcpgate/internal/errs"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading tool-server
	// output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr tail kept for error reporting.
	// Stderr draining continues past the cap so the child never blocks on a
	// full pipe; the buffer just stops growing.
	maxStderrBufferSize = 256 * 1024 // 256KB
)

// Proc spawns a tool-server child process and exposes its stdin/stdout as a
// line-delimited JSON-RPC message stream. It implements mcp.Transport so a
// protocol client can be connected directly over it.
//
// Lifecycle: Spawning (Connect called) -> Open -> Closed. Close is idempotent
// and kills the child; a child that refuses to exit cleanly cannot make
// Close fail.
type Proc struct {
	log     *slog.Logger
	command string
	args    []string
	env     map[string]string

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	started  bool
	closing  bool
	stderrWg sync.WaitGroup

	stderrMu   sync.Mutex
	stderrTail strings.Builder
}

// Compile-time verification that Proc implements the MCP transport interface.
var _ mcp.Transport = (*Proc)(nil)

// New creates a transport that will spawn the given command with the given
// arguments and extra environment variables. The child is not started until
// Connect is called.
func New(log *slog.Logger, command string, args []string, env map[string]string) *Proc {
	return &Proc{
		log:     log.With("component", "proc_transport", "command", command),
		command: command,
		args:    args,
		env:     env,
	}
}

// Connect spawns the child process and returns a connection carrying
// JSON-RPC messages over its stdio. Implements mcp.Transport.
//
// The child process deliberately outlives ctx: ctx bounds the spawn itself,
// not the session, which ends only when the connection (or Proc) is closed.
func (p *Proc) Connect(ctx context.Context) (mcp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		return nil, errs.ErrTransportClosed
	}

	if p.started {
		return nil, &errs.SpawnError{Command: p.command, Err: stderrors.New("transport already started")}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.log.Info("Spawning tool server process")

	//nolint:gosec // G204: spawning caller-supplied commands is the point of the proxy
	cmd := exec.Command(p.command, p.args...)
	cmd.Env = buildEnvironment(p.env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errs.SpawnError{Command: p.command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	p.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errs.SpawnError{Command: p.command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	p.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errs.SpawnError{Command: p.command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	p.stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &errs.SpawnError{Command: p.command, Err: fmt.Errorf("start process: %w", err)}
	}

	p.cmd = cmd
	p.started = true

	p.stderrWg.Add(1)
	go p.drainStderr(stderr)

	p.log.Info("Tool server process started", "pid", cmd.Process.Pid)

	return newConn(p, stdin, stdout), nil
}

// drainStderr consumes the child's stderr until the pipe closes, logging each
// line and keeping a bounded tail for error reports. Relies on process kill
// to close the pipe and unblock Scan.
func (p *Proc) drainStderr(stderr io.Reader) {
	defer p.stderrWg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		p.stderrMu.Lock()

		if p.stderrTail.Len() < maxStderrBufferSize {
			if p.stderrTail.Len() > 0 {
				p.stderrTail.WriteString("\n")
			}

			p.stderrTail.WriteString(line)
		}

		p.stderrMu.Unlock()

		p.log.Debug("Tool server stderr", "line", line)
	}

	// Scanner errors are expected when the process is killed.
	if err := scanner.Err(); err != nil {
		p.log.Debug("Stderr scanner stopped", "error", err)
	}
}

// StderrTail returns the buffered stderr output captured so far.
func (p *Proc) StderrTail() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	return p.stderrTail.String()
}

// Close terminates the child process and releases the stream. It is safe to
// call Close multiple times or on a transport that was never started.
//
// Teardown is best-effort by design: the process is killed, reaped, and any
// teardown failure beyond the kill itself is discarded so a wedged child can
// never block session destruction.
func (p *Proc) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		return nil
	}

	p.closing = true

	if !p.started {
		return nil
	}

	if p.stdin != nil {
		_ = p.stdin.Close()
	}

	if p.cmd != nil && p.cmd.Process != nil {
		p.log.Debug("Killing tool server process", "pid", p.cmd.Process.Pid)

		if err := p.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			p.log.Warn("Failed to kill tool server process", "pid", p.cmd.Process.Pid, "error", err)
		}

		// The kill closes the pipes, which unblocks the stderr drain; wait
		// for it before reaping so the pipe reads have completed.
		p.stderrWg.Wait()

		if err := p.cmd.Wait(); err != nil {
			p.log.Debug("Tool server process exited", "error", err)
		}
	}

	return nil
}

// exitError inspects a terminated child and builds a ProcessError carrying
// the exit code and stderr tail. Returns nil when the child is still running.
func (p *Proc) exitError(cause error) error {
	p.mu.Lock()
	cmd := p.cmd
	closing := p.closing
	p.mu.Unlock()

	if closing || cmd == nil || cmd.ProcessState == nil {
		return cause
	}

	return &errs.ProcessError{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stderr:   p.StderrTail(),
		Err:      cause,
	}
}

// buildEnvironment merges the caller-supplied variables over the current
// process environment, matching how the spawn config captured them.
func buildEnvironment(env map[string]string) []string {
	merged := os.Environ()

	for key, value := range env {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}

	return merged
}

// conn is the mcp.Connection view over a spawned process.
type conn struct {
	proc    *Proc
	scanner *bufio.Scanner

	writeMu sync.Mutex
	stdin   io.Writer

	mu     sync.Mutex
	closed bool
}

// Compile-time verification that conn implements the MCP connection interface.
var _ mcp.Connection = (*conn)(nil)

func newConn(proc *Proc, stdin io.Writer, stdout io.Reader) *conn {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	return &conn{
		proc:    proc,
		scanner: scanner,
		stdin:   stdin,
	}
}

// SessionID implements mcp.Connection. Stdio transports carry no session
// identifier.
func (c *conn) SessionID() string { return "" }

// Read returns the next JSON-RPC message from the child's stdout.
//
// A blocked Scan does not observe ctx directly; closing the connection kills
// the process, which closes the pipe and reliably unblocks the read.
func (c *conn) Read(ctx context.Context) (jsonrpc.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return nil, c.proc.exitError(fmt.Errorf("read from tool server: %w", err))
			}

			return nil, c.proc.exitError(io.EOF)
		}

		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := jsonrpc.DecodeMessage(line)
		if err != nil {
			return nil, &errs.ProtocolDecodeError{RawData: string(line), Err: err}
		}

		return msg, nil
	}
}

// Write sends a JSON-RPC message to the child's stdin, newline-terminated.
// Safe for concurrent use.
func (c *conn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return errs.ErrTransportClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return c.proc.exitError(fmt.Errorf("write to tool server: %w", err))
	}

	return nil
}

// Close implements mcp.Connection by tearing the whole process down.
func (c *conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return c.proc.Close()
}
