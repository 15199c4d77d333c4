// Package enginesrv exposes an engine.Engine over HTTP: health and
// Prometheus endpoints plus a small JSON API for session lifecycle
// (create/run/snapshot). It owns the listener lifecycle; it owns none of
// the engine's collaborators.
//
// Grounded on internal/gateway/http_server.go's mux/listener pattern and
// internal/gateway/managed_server.go's Start/Stop-with-context lifecycle,
// narrowed from the teacher's channel-adapter gateway down to the
// Engine Facade's own surface, and built on internal/infra's
// ComponentManager/Lifecycle interfaces rather than bespoke manager types.
package enginesrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgerun/core/internal/config"
	"github.com/forgerun/core/internal/convloop"
	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/engine"
	"github.com/forgerun/core/internal/observability"
)

// Config configures a Server.
type Config struct {
	Server  config.ServerConfig
	Metrics config.MetricsConfig

	Engine    *engine.Engine
	Registry  *prometheus.Registry
	Logger    *observability.Logger
	StartTime time.Time
}

// Server hosts the Engine Facade's HTTP surface.
type Server struct {
	cfg    Config
	engine *engine.Engine
	logger *observability.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server. It does not start listening until Start is called.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("enginesrv: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &Server{cfg: cfg, engine: cfg.Engine, logger: logger}, nil
}

// Start binds the listener and begins serving in the background. It
// returns once the listener is ready; Serve errors surface through the
// background goroutine's log output, matching the teacher's
// startHTTPServer.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)
	mux := http.NewServeMux()

	if s.cfg.Metrics.Enabled && s.cfg.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("/v1/sessions/", s.handleSessionSubroute)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("enginesrv: listen: %w", err)
	}
	s.httpServer = srv
	s.listener = listener

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "enginesrv: http server error", "error", err)
		}
	}()

	s.logger.Info(ctx, "engine server started", "addr", addr)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"started": s.cfg.StartTime,
	})
}

type createSessionRequest struct {
	WorkerID string                `json:"worker_id"`
	Context  core.ContextVariables `json:"context"`
}

type sessionResponse struct {
	ID             string                `json:"id"`
	ActiveWorkerID string                `json:"active_worker_id"`
	Context        core.ContextVariables `json:"context"`
	History        []core.Message        `json:"history"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	sess, err := s.engine.CreateSession(req.WorkerID, req.Context)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func toSessionResponse(sess *core.Session) sessionResponse {
	return sessionResponse{
		ID:             sess.ID,
		ActiveWorkerID: sess.ActiveWorkerID,
		Context:        sess.ContextVariables,
		History:        sess.History,
	}
}

type runRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSessionSubroute(w http.ResponseWriter, r *http.Request) {
	sessionID, action, ok := splitSessionPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleSnapshot(w, r, sessionID)
	case action == "run" && r.Method == http.MethodPost:
		s.handleRun(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.engine.SnapshotSession(sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg := core.Message{
		Role:      core.RoleUser,
		Content:   []core.ContentBlock{{Type: core.ContentText, Text: req.Message}},
		Timestamp: time.Now(),
	}
	result, err := s.engine.Run(r.Context(), sessionID, msg, convloop.Options{})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func splitSessionPath(path string) (sessionID, action string, ok bool) {
	const prefix = "/v1/sessions/"
	if len(path) <= len(prefix) {
		return "", "", false
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], true
		}
	}
	return rest, "", true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}
