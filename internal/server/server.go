package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/localclipper/clipper/internal/auth"
	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/health"
	"github.com/localclipper/clipper/internal/logger"
	"github.com/localclipper/clipper/internal/metrics"
	"github.com/localclipper/clipper/internal/middleware"
	"github.com/localclipper/clipper/internal/registry"
	"github.com/localclipper/clipper/internal/storage"
	"github.com/localclipper/clipper/internal/websocket"
)

// ArchiveLoader looks up jobs that are no longer in the registry
type ArchiveLoader interface {
	Load(ctx context.Context, jobID string) (*storage.ArchivedJob, error)
}

// Config wires the live-view server to the running client
type Config struct {
	Addr           string
	Auth           *auth.Service
	Jobs           *registry.Registry
	Hub            *websocket.Hub
	Health         *health.Checker
	Metrics        *metrics.Metrics
	Archive        ArchiveLoader
	AllowedOrigins []string
}

// Server exposes job progress to remote viewers over HTTP and WebSocket
type Server struct {
	cfg  Config
	http *http.Server
	log  *logger.Logger
}

// JobResponse is one job as served by the jobs endpoints
type JobResponse struct {
	domain.Job
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// New builds the router. Nothing listens until ListenAndServe.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		log: logger.Default().WithComponent("server"),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the full handler chain
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	healthHandler := health.NewHandler(s.cfg.Health)
	mux.HandleFunc("GET /health", healthHandler.HealthHandler)
	mux.HandleFunc("GET /health/live", healthHandler.LivenessHandler)
	mux.HandleFunc("GET /health/ready", healthHandler.ReadinessHandler)

	if s.cfg.Metrics != nil {
		mux.HandleFunc("GET /metrics", s.cfg.Metrics.Handler())
	}

	mux.HandleFunc("POST /token", auth.TokenHandler(s.cfg.Auth))

	wsHandler := websocket.NewHandler(s.cfg.Hub, s.cfg.Auth, s.cfg.Jobs)
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)

	requireViewer := auth.Middleware(s.cfg.Auth)
	mux.Handle("GET /jobs", requireViewer(http.HandlerFunc(s.listJobs)))
	mux.Handle("GET /jobs/{id}", requireViewer(http.HandlerFunc(s.getJob)))

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recoverer(s.log),
		middleware.Logging(s.log),
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		chain = append(chain, middleware.CORS(s.cfg.AllowedOrigins))
	}
	if s.cfg.Metrics != nil {
		chain = append(chain, metrics.Middleware(s.cfg.Metrics))
	}
	return middleware.Chain(mux, chain...)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	entries := s.cfg.Jobs.All()
	out := make([]JobResponse, 0, len(entries))
	for _, e := range entries {
		created := e.CreatedAt
		out = append(out, JobResponse{Job: e.Job, CreatedAt: &created})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if job, ok := s.cfg.Jobs.Get(id); ok {
		writeJSON(w, http.StatusOK, JobResponse{Job: job})
		return
	}

	if s.cfg.Archive != nil {
		archived, err := s.cfg.Archive.Load(r.Context(), id)
		if err == nil {
			at := archived.ArchivedAt
			writeJSON(w, http.StatusOK, JobResponse{Job: archived.Job, ArchivedAt: &at})
			return
		}
		if !apperrors.IsNotFound(err) {
			s.log.Warn(r.Context(), "archive lookup failed", err, map[string]interface{}{"job_id": id})
			writeError(w, apperrors.StorageError("archive lookup failed").WithCause(err))
			return
		}
	}

	writeError(w, apperrors.JobNotFound(id))
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info(context.Background(), "live view listening", map[string]interface{}{"addr": s.cfg.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	writeJSON(w, err.HTTPStatus, map[string]string{
		"code":    err.Code,
		"message": err.Message,
	})
}
