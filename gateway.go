package mcpgate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/substratelabs/mcpgate/internal/errs"
)

// errorKind is the stable discriminant carried by every error response body,
// suitable for programmatic branching.
type errorKind string

const (
	errKindUnauthorized errorKind = "UNAUTHORIZED"
	errKindBadRequest   errorKind = "BAD_REQUEST"
	errKindNotFound     errorKind = "NOT_FOUND"
	errKindInternal     errorKind = "INTERNAL_ERROR"
)

// errorResponse is the JSON body rendered for every failure.
type errorResponse struct {
	Error   errorKind `json:"error"`
	Message string    `json:"message,omitempty"`
}

// Gateway is the HTTP surface over a session registry. It authenticates
// requests, validates payloads, dispatches to the registry, and renders
// protocol results or structured errors. The gateway itself holds no session
// state.
type Gateway struct {
	log       *slog.Logger
	registry  *Registry
	authToken string
	handler   http.Handler
}

// Compile-time verification that Gateway is an http.Handler.
var _ http.Handler = (*Gateway)(nil)

// NewGateway builds the HTTP gateway over the given registry. A nil logger
// discards all output. Without WithAuthToken the gateway is an open proxy,
// intended only for same-host, already-isolated deployments.
func NewGateway(log *slog.Logger, registry *Registry, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = NopLogger()
	}

	g := &Gateway{
		log:      log.With("component", "gateway"),
		registry: registry,
	}

	for _, opt := range opts {
		opt(g)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /servers", g.handleListServers)
	mux.HandleFunc("POST /servers/register", g.handleRegister)
	mux.HandleFunc("GET /servers/{id}/tools", g.handleListTools)
	mux.HandleFunc("POST /servers/{id}/call", g.handleCallTool)
	mux.HandleFunc("DELETE /servers/{id}", g.handleDisconnect)
	mux.HandleFunc("/", g.handleNotFound)

	g.handler = g.recoverRequests(g.logRequests(g.authenticate(mux)))

	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// authenticate rejects requests lacking the configured bearer token before
// any routing or body parsing happens. Every route is gated, including the
// health check. An empty configured token disables the check entirely.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.authToken != "" {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if token != g.authToken {
				writeError(w, http.StatusUnauthorized, errKindUnauthorized, "missing or invalid token")

				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// logRequests tags each request with a ULID and logs method, path, status,
// and duration on completion.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := ulid.Make().String()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		g.log.Info("Request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// recoverRequests converts handler panics into INTERNAL_ERROR responses so a
// single bad request cannot take the proxy down.
func (g *Gateway) recoverRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.log.Error("Panic while handling request", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, errKindInternal, fmt.Sprintf("%v", rec))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// serverInfo is the per-session shape returned by the listing route. The
// environment is never exposed: it may carry secrets.
type serverInfo struct {
	ServerID string   `json:"serverId"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
}

func (g *Gateway) handleListServers(w http.ResponseWriter, _ *http.Request) {
	sessions := g.registry.List()

	servers := make([]serverInfo, 0, len(sessions))
	for _, sess := range sessions {
		cfg := sess.Config()
		servers = append(servers, serverInfo{
			ServerID: sess.ID(),
			Command:  cfg.Command,
			Args:     cfg.Args,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// registerRequest is the payload accepted by the register route.
type registerRequest struct {
	ServerID string            `json:"serverId"`
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env"`
}

// registerResponse reports a fresh connection or an idempotent hit on an
// already-connected session; exactly one of the two flags is set.
type registerResponse struct {
	ServerID         string           `json:"serverId"`
	Connected        bool             `json:"connected,omitempty"`
	AlreadyConnected bool             `json:"alreadyConnected,omitempty"`
	Tools            []map[string]any `json:"tools"`
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errKindBadRequest, "invalid JSON body: "+err.Error())

		return
	}

	if strings.TrimSpace(req.ServerID) == "" {
		writeError(w, http.StatusBadRequest, errKindBadRequest, "serverId is required")

		return
	}

	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, errKindBadRequest, "command is required")

		return
	}

	sess, already, err := g.registry.Create(r.Context(), req.ServerID, SpawnConfig{
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, errKindInternal, err.Error())

		return
	}

	tools, err := sess.Client().ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errKindInternal, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		ServerID:         req.ServerID,
		Connected:        !already,
		AlreadyConnected: already,
		Tools:            tools,
	})
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, ok := g.registry.Get(id)
	if !ok {
		writeError(w, http.StatusInternalServerError, errKindInternal, notConnectedError(id).Error())

		return
	}

	tools, err := sess.Client().ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errKindInternal, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serverId": id,
		"tools":    tools,
	})
}

// callRequest is the payload accepted by the tool-call route. Arguments are
// an opaque structured value owned by the tool.
type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errKindBadRequest, "invalid JSON body: "+err.Error())

		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errKindBadRequest, "name is required")

		return
	}

	sess, ok := g.registry.Get(id)
	if !ok {
		writeError(w, http.StatusInternalServerError, errKindInternal, notConnectedError(id).Error())

		return
	}

	result, err := sess.Client().CallTool(r.Context(), req.Name, req.Arguments)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errKindInternal, err.Error())

		return
	}

	// The result passes through unmodified: tool results are opaque payloads
	// defined by each tool, not by the proxy.
	writeJSON(w, http.StatusOK, map[string]any{
		"serverId": id,
		"name":     req.Name,
		"result":   result,
	})
}

func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	disconnected := g.registry.Destroy(id)

	writeJSON(w, http.StatusOK, map[string]any{
		"serverId":     id,
		"disconnected": disconnected,
	})
}

func (g *Gateway) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, errKindNotFound, "")
}

// notConnectedError wraps the not-connected sentinel with the targeted
// identifier. It deliberately surfaces as INTERNAL_ERROR rather than a
// distinct not-found kind; callers depend on that shape.
func notConnectedError(id string) error {
	return fmt.Errorf("session %q: %w", id, errs.ErrSessionNotConnected)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind errorKind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
