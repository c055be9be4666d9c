package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ytauto/internal/logging"
	"ytauto/internal/queue"
	"ytauto/internal/services"
	"ytauto/internal/workflow"
)

// EnqueueResponse is returned by POST /api/lines/{line}/jobs.
type EnqueueResponse struct {
	ID   string `json:"id"`
	Line string `json:"line"`
}

// JobsResponse is returned by GET /api/jobs.
type JobsResponse struct {
	Jobs []queue.Record `json:"jobs"`
}

// APIServer serves the daemon's HTTP API.
type APIServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the HTTP API. It returns nil when no bind address is
// configured.
func NewAPIServer(d *Daemon, logger *slog.Logger) *APIServer {
	if d == nil {
		return nil
	}
	bind := strings.TrimSpace(d.cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &APIServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Routes returns the router. /metrics is served without authentication.
func (s *APIServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	if m := s.daemon.Metrics(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.daemon.cfg.Paths.APIToken))
		r.Get("/status", s.handleStatus)
		r.Post("/lines/{line}/jobs", s.handleEnqueue)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJob)
		r.Delete("/jobs/{id}", s.handleCancel)
	})
	return r
}

// Start begins serving in the background.
func (s *APIServer) Start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address once started.
func (s *APIServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *APIServer) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *APIServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	line := chi.URLParam(r, "line")
	id, err := s.daemon.Enqueue(r.Context(), line)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, EnqueueResponse{ID: id, Line: line})
}

func (s *APIServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	jobs, err := s.daemon.Jobs(r.Context(), query.Get("line"), limit)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

func (s *APIServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daemon.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *APIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.Cancel(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	rec, err := s.daemon.Job(r.Context(), id)
	if err != nil {
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
		return
	}
	s.writeJSON(w, http.StatusAccepted, rec)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNotRunning), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
