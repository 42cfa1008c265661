package mcpgate

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/substratelabs/mcpgate/internal/errs"
	"github.com/substratelabs/mcpgate/internal/protocol"
	"github.com/substratelabs/mcpgate/internal/transport"
)

const (
	// clientName and clientVersion identify the proxy during the protocol
	// handshake with tool servers.
	clientName    = "mcpgate"
	clientVersion = "0.1.0"
)

// ToolClient is the stable two-operation protocol surface a session owns:
// list the available tools, and invoke one by name with arguments.
//
// The default implementation wraps an MCP session over a spawned child
// process. Custom implementations can be injected via WithConnector for
// testing or alternative protocols.
type ToolClient interface {
	// ListTools returns the tools advertised by the connected server as a
	// bare sequence of tool descriptors.
	ListTools(ctx context.Context) ([]map[string]any, error)

	// CallTool invokes the named tool. The result is opaque to the proxy and
	// returned exactly as produced.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)

	// Close shuts down the underlying session.
	Close() error
}

// Compile-time verification that the protocol client implements ToolClient.
var _ ToolClient = (*protocol.Client)(nil)

// SpawnConfig is the immutable connection configuration captured at session
// creation: the command to spawn, its arguments, and extra environment
// variables for the child process.
type SpawnConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// Connector establishes a protocol client and its transport for a spawn
// configuration. The two are created together and the returned closer tears
// the transport down; a connector must not leave a live transport behind when
// it returns an error.
type Connector func(ctx context.Context, cfg SpawnConfig) (ToolClient, io.Closer, error)

// Session is a live, registered binding between a caller-chosen identifier
// and one connected tool server. The protocol client and transport are owned
// exclusively by the session and destroyed together.
type Session struct {
	id        string
	config    SpawnConfig
	client    ToolClient
	transport io.Closer
}

// ID returns the caller-assigned session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the spawn configuration captured at creation.
func (s *Session) Config() SpawnConfig { return s.config }

// Client returns the session's protocol client.
func (s *Session) Client() ToolClient { return s.client }

// shutdown closes the protocol client, then the transport, discarding any
// error raised during either close. Best-effort by design: a child process
// that refuses to exit cleanly must never block or fail session teardown.
func (s *Session) shutdown(log *slog.Logger) {
	if err := s.client.Close(); err != nil {
		log.Warn("Error closing protocol client during teardown", "server_id", s.id, "error", err)
	}

	if err := s.transport.Close(); err != nil {
		log.Warn("Error closing transport during teardown", "server_id", s.id, "error", err)
	}
}

// Registry is the in-memory session table and the single source of truth for
// which sessions are live. It is the only mutable shared state in the proxy
// and is safe for concurrent use.
type Registry struct {
	log     *slog.Logger
	connect Connector

	mu       sync.RWMutex
	sessions map[string]*Session

	// creating serializes spawn-and-handshake per identifier so concurrent
	// registrations of the same ID cannot race check-then-insert and spawn
	// two transports.
	creating singleflight.Group
}

// NewRegistry creates an empty session registry. A nil logger discards all
// output. By default sessions connect by spawning a child process over stdio;
// inject a Connector via WithConnector to override.
func NewRegistry(log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = NopLogger()
	}

	r := &Registry{
		log:      log.With("component", "registry"),
		sessions: make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.connect == nil {
		r.connect = stdioConnector(log)
	}

	return r
}

// stdioConnector spawns the configured command as a child process and
// performs the protocol handshake over its stdio.
func stdioConnector(log *slog.Logger) Connector {
	return func(ctx context.Context, cfg SpawnConfig) (ToolClient, io.Closer, error) {
		proc := transport.New(log, cfg.Command, cfg.Args, cfg.Env)

		client, err := protocol.Connect(ctx, log, proc, clientName, clientVersion)
		if err != nil {
			// The pair is created atomically: a failed handshake must not
			// leave a live child process behind.
			_ = proc.Close()

			return nil, nil, &errs.SpawnError{Command: cfg.Command, Err: err}
		}

		return client, proc, nil
	}
}

// flightResult carries a creation outcome through the singleflight group.
type flightResult struct {
	session *Session
	existed bool
}

// Create connects a new session under the given identifier, or returns the
// existing one. The returned bool reports whether the session already existed
// ("already connected"), which makes registration safe to retry.
//
// On handshake or spawn failure the error propagates and no entry is left in
// the table.
func (r *Registry) Create(ctx context.Context, id string, cfg SpawnConfig) (*Session, bool, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, false, errs.ErrEmptyCommand
	}

	// Normalize missing args/env to empty values so the captured config is
	// always well-formed.
	if cfg.Args == nil {
		cfg.Args = []string{}
	}

	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}

	if sess, ok := r.Get(id); ok {
		return sess, true, nil
	}

	v, err, _ := r.creating.Do(id, func() (any, error) {
		// Re-check inside the flight: a racing create may have inserted the
		// session between our fast-path check and joining the flight.
		if sess, ok := r.Get(id); ok {
			return flightResult{session: sess, existed: true}, nil
		}

		client, tr, err := r.connect(ctx, cfg)
		if err != nil {
			return flightResult{}, err
		}

		sess := &Session{
			id:        id,
			config:    cfg,
			client:    client,
			transport: tr,
		}

		r.mu.Lock()
		r.sessions[id] = sess
		r.mu.Unlock()

		r.log.Info("Session connected", "server_id", id, "command", cfg.Command)

		return flightResult{session: sess}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(flightResult)

	return res.session, res.existed, nil
}

// Get looks up a live session by identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]

	return sess, ok
}

// List returns a snapshot of all live sessions, ordered by identifier. Safe
// to call concurrently with Create and Destroy.
func (r *Registry) List() []*Session {
	r.mu.RLock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}

	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })

	return sessions
}

// Destroy removes the session and tears down its client and transport,
// discarding teardown errors. Returns false when no such session exists,
// making disconnect idempotent.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()

	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}

	r.mu.Unlock()

	if !ok {
		return false
	}

	sess.shutdown(r.log)
	r.log.Info("Session disconnected", "server_id", id)

	return true
}

// Close destroys all live sessions. Used on daemon shutdown so no child
// processes are leaked.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for id, sess := range sessions {
		sess.shutdown(r.log)
		r.log.Info("Session disconnected", "server_id", id)
	}
}
