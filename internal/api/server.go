package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmonitor/internal/config"
	"github.com/JakeFAU/webmonitor/internal/metrics"
	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/registry"
)

const maxBodyBytes = 1 << 20

// Links is the registry surface used by the handlers.
type Links interface {
	Create(ctx context.Context, req registry.CreateRequest) (monitor.Link, error)
	Update(ctx context.Context, id string, patch monitor.LinkPatch) (monitor.Link, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]monitor.Link, error)
}

// Checks runs checks and reads history.
type Checks interface {
	Check(ctx context.Context, linkID string) (monitor.CheckResult, error)
	History(ctx context.Context, linkID string) ([]monitor.Snapshot, error)
}

// Health reports dependency status.
type Health interface {
	Check(ctx context.Context) monitor.HealthStatus
}

// Server wires HTTP handlers to the registry, orchestrator, and health reporter.
type Server struct {
	router chi.Router
	links  Links
	checks Checks
	health Health
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(links Links, checks Checks, health Health, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		links:  links,
		checks: checks,
		health: health,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.getHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/links", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/", s.listLinks)
		r.Post("/", s.createLink)
		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", s.updateLink)
			r.Delete("/", s.deleteLink)
			r.Post("/check", s.runCheck)
			r.Get("/history", s.history)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Check(r.Context()))
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.links.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := s.links.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

type updateLinkRequest struct {
	Label   *string `json:"label"`
	Project *string `json:"project"`
}

func (s *Server) updateLink(w http.ResponseWriter, r *http.Request) {
	var req updateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := s.links.Update(r.Context(), chi.URLParam(r, "id"), monitor.LinkPatch{
		Label:   req.Label,
		Project: req.Project,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	if err := s.links.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.checks.Check(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.checks.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// writeServiceError maps sentinel errors onto status codes. Anything
// unrecognized is a persistence failure and is not echoed to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, monitor.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, monitor.ErrInvalidURL.Error())
	case errors.Is(err, monitor.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, monitor.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, monitor.ErrCapacityExceeded.Error())
	case errors.Is(err, monitor.ErrDuplicate):
		writeError(w, http.StatusConflict, monitor.ErrDuplicate.Error())
	case errors.Is(err, monitor.ErrNotFound):
		writeError(w, http.StatusNotFound, "link not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("client went away", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
