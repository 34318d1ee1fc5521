// Package server is the HTTP surface: submit a prompt, poll the job, manage
// loaded data. Handlers translate registry and catalog errors into the
// {error, message, details} wire shape.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"querysight/internal/analyzer"
	"querysight/internal/catalog"
	"querysight/internal/config"
	"querysight/internal/jobs"
	"querysight/internal/pipeline"
)

// Server wires the HTTP routes to the pipeline, registry, and catalog.
type Server struct {
	cfg      config.ServerConfig
	orch     *pipeline.Orchestrator
	reg      *jobs.Registry
	cat      *catalog.Catalog
	analyzer *analyzer.Analyzer
	validate *validator.Validate
	logger   *zap.Logger
}

// New builds the server. analyzer may be nil; load-file then skips the
// descriptive index rebuild.
func New(cfg config.ServerConfig, orch *pipeline.Orchestrator, reg *jobs.Registry,
	cat *catalog.Catalog, an *analyzer.Analyzer, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		orch:     orch,
		reg:      reg,
		cat:      cat,
		analyzer: an,
		validate: validator.New(),
		logger:   logger.Named("http"),
	}
}

// Handler assembles the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverMiddleware)

	r.Post("/generate-chart", s.handleGenerateChart)
	r.Get("/job-status/{job_id}", s.handleJobStatus)
	r.Get("/jobs", s.handleListJobs)
	r.Delete("/jobs/{job_id}", s.handleDeleteJob)
	r.Get("/database-status", s.handleDatabaseStatus)
	r.Post("/load-file", s.handleLoadFile)
	r.Get("/health", s.handleHealth)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

type generateChartRequest struct {
	Prompt      string `json:"prompt" validate:"required,min=1"`
	ContainerID *int   `json:"container_id"`
}

func (s *Server) handleGenerateChart(w http.ResponseWriter, r *http.Request) {
	var req generateChartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_failed", "prompt is required", err.Error())
		return
	}

	job := s.orch.Submit(req.Prompt)
	s.logger.Info("chart generation accepted",
		zap.String("job_id", job.ID),
		zap.Int("prompt_chars", len(req.Prompt)))

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Chart generation started",
	})
}

type jobStatusResponse struct {
	JobID         string      `json:"job_id"`
	Status        jobs.Status `json:"status"`
	Progress      int         `json:"progress"`
	Result        string      `json:"result,omitempty"`
	ComponentName string      `json:"component_name,omitempty"`
	ChartType     string      `json:"chart_type,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	job, err := s.reg.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "not_found", "no such job", id)
		return
	}

	resp := jobStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Result != nil {
		resp.Result = job.Result.ArtifactCode
		resp.ComponentName = job.Result.ArtifactName
		resp.ChartType = job.Result.ChartType
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := s.reg.List()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"total": len(list),
	})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	switch err := s.reg.Delete(id); {
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", "no such job", id)
	case errors.Is(err, jobs.ErrNotTerminal):
		s.writeError(w, http.StatusBadRequest, "job_in_flight",
			"job is still pending or processing; cancel it first", id)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete job", err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"job_id":  id,
			"message": "Job deleted",
		})
	}
}

func (s *Server) handleDatabaseStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cat.DatabaseStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to read database status", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type loadFileRequest struct {
	FilePath  string `json:"file_path" validate:"required"`
	TableName string `json:"table_name"`
}

func (s *Server) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	var req loadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_failed", "file_path is required", err.Error())
		return
	}

	report, err := s.cat.Ingest(r.Context(), req.FilePath, req.TableName)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "ingest_failed", "could not load file", err.Error())
		return
	}

	if s.analyzer != nil {
		if err := s.analyzer.IndexTable(r.Context(), report.TableName); err != nil {
			// The table is loaded either way; retrieval just degrades.
			s.logger.Warn("descriptive index update failed",
				zap.String("table", report.TableName), zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "File loaded successfully",
		"table":   report,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// recoverMiddleware keeps the error wire shape on panics.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked",
					zap.String("path", r.URL.Path), zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal_error",
					"unhandled server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, details string) {
	body := map[string]any{
		"error":   code,
		"message": message,
	}
	if details != "" {
		body["details"] = details
	}
	s.writeJSON(w, status, body)
}
