// Package api exposes the backend service over HTTP for the editing session's
// remote client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/metrics"
	"assessment-sync/internal/models"
	"assessment-sync/internal/remote"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 2 << 20

// Service is the backend operation set the API serves. The owner is the
// caller identity taken from the X-User-ID header.
type Service interface {
	LoadApplication(ctx context.Context, ownerID string) (*models.Application, error)
	CreateApplication(ctx context.Context, ownerID string) (*models.Application, error)
	WritePartialChange(ctx context.Context, ownerID, appID string, change remote.PartialChange) (*models.Application, error)
	WriteFullApplication(ctx context.Context, ownerID, appID string, full remote.FullApplication) (*models.Application, error)
	SubmitApplication(ctx context.Context, ownerID, appID string) (*models.Application, error)
	ValidateStep(ctx context.Context, ownerID, appID string, step int) (*models.StepValidation, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	svc    Service
	logger logger.Logger
	checks map[string]ReadinessCheck
	now    func() time.Time
}

func NewServer(svc Service, log logger.Logger, checks map[string]ReadinessCheck) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Server{
		svc:    svc,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
		checks: checks,
		now:    time.Now,
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/v1/application", s.handleLoad)
	s.route(mux, "POST /api/v1/application", s.handleCreate)
	s.route(mux, "PATCH /api/v1/applications/{id}/changes", s.handlePartial)
	s.route(mux, "PUT /api/v1/applications/{id}", s.handleFull)
	s.route(mux, "POST /api/v1/applications/{id}/submit", s.handleSubmit)
	s.route(mux, "GET /api/v1/applications/{id}/steps/{step}/validation", s.handleValidateStep)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("API shutting down", nil)
	return srv.Shutdown(shutdownCtx)
}

// ==========================
// Handlers
// ==========================

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, owner string) {
	app, err := s.svc.LoadApplication(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, owner string) {
	app, err := s.svc.CreateApplication(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handlePartial(w http.ResponseWriter, r *http.Request, owner string) {
	var change remote.PartialChange
	if err := decodeBody(w, r, &change); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.svc.WritePartialChange(r.Context(), owner, r.PathValue("id"), change); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFull(w http.ResponseWriter, r *http.Request, owner string) {
	var full remote.FullApplication
	if err := decodeBody(w, r, &full); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.svc.WriteFullApplication(r.Context(), owner, r.PathValue("id"), full); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, owner string) {
	app, err := s.svc.SubmitApplication(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleValidateStep(w http.ResponseWriter, r *http.Request, owner string) {
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("step must be an integer", r.PathValue("step")))
		return
	}
	v, err := s.svc.ValidateStep(r.Context(), owner, r.PathValue("id"), step)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("Readiness check failed", map[string]interface{}{"checks": failed})
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   s.now().Format(time.RFC3339),
	})
}

// ==========================
// Plumbing
// ==========================

type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

// route registers h behind the identity check and request metrics.
func (s *Server) route(mux *http.ServeMux, pattern string, h ownerHandler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if owner := r.Header.Get(remote.UserHeader); owner == "" {
			writeJSON(rec, http.StatusUnauthorized, errorBody{
				Code:    string(apperrors.ErrCodeValidation),
				Message: "missing " + remote.UserHeader + " header",
			})
		} else {
			h(rec, r, owner)
		}

		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(pattern, r.Method).Observe(elapsed.Seconds())
		s.logger.Debug("Request handled", map[string]interface{}{
			"route":      pattern,
			"status":     rec.status,
			"durationMs": elapsed.Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := apperrors.Normalize("api", err)
	status := apperrors.HTTPStatus(se.Code)
	if status >= 500 {
		s.logger.Error("Request failed", map[string]interface{}{
			"path":  r.URL.Path,
			"code":  string(se.Code),
			"error": err.Error(),
		})
	}
	writeJSON(w, status, errorBody{Code: string(se.Code), Message: se.Message, Details: se.Details})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewValidationError("malformed request body", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
