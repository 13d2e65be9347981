package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipbench/clipbench-agent/internal/logging"
	"github.com/clipbench/clipbench-agent/internal/playback"
	"github.com/clipbench/clipbench-agent/internal/project"
	"github.com/clipbench/clipbench-agent/internal/render"
	"github.com/clipbench/clipbench-agent/internal/session"
)

// Server is the agent's HTTP API, bound to the loopback interface only.
type Server struct {
	logger   *slog.Logger
	sessions *session.Service
	projects *project.Service
	player   *playback.Server
	runner   *render.Runner
	token    string
	version  string

	httpSrv *http.Server
}

func NewServer(logger *slog.Logger, sessions *session.Service, projects *project.Service,
	player *playback.Server, runner *render.Runner, token, version string, port int) *Server {
	s := &Server{
		logger:   logging.WithComponent(logger, "api"),
		sessions: sessions,
		projects: projects,
		player:   player,
		runner:   runner,
		token:    token,
		version:  version,
	}
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // playback of large artifacts
	}
	return s
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
