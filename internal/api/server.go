// Package api exposes the report pipeline and the stored condition
// history over HTTP. Callers identify themselves with the X-User-ID
// header set by the gateway in front of this service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kodacare/koda/internal/extractor"
	"github.com/kodacare/koda/internal/input"
	"github.com/kodacare/koda/internal/persona"
	"github.com/kodacare/koda/internal/pipeline"
	"github.com/kodacare/koda/internal/store"
)

// Processor runs one report end to end. *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, userID string, raw input.Raw, opts pipeline.Options) (*pipeline.Result, error)
}

// Storage is the read/manage slice of the store the handlers need.
// *store.Store satisfies it.
type Storage interface {
	GetCard(ctx context.Context, id uuid.UUID) (store.Card, error)
	ListCardsForUser(ctx context.Context, ownerID string, status *store.Status) ([]store.Card, error)
	CountCardsForUser(ctx context.Context, ownerID string, status *store.Status) (int, error)
	ResolveCard(ctx context.Context, id uuid.UUID) (store.Card, error)
	GetLog(ctx context.Context, id uuid.UUID) (store.LogEntry, error)
	ListLogsForUser(ctx context.Context, ownerID string, limit, offset int) ([]store.LogEntry, error)
	ListLogsForCard(ctx context.Context, cardID uuid.UUID, limit, offset int) ([]store.LogEntry, error)
	CountLogsForUser(ctx context.Context, ownerID string) (int, error)
	DeleteLog(ctx context.Context, id uuid.UUID) (bool, error)
	GetOrCreateMemory(ctx context.Context, userID string) (persona.Memory, error)
	UpdatePreferences(ctx context.Context, userID string, patch store.PreferencesPatch) (persona.Memory, error)
}

type Server struct {
	router   *chi.Mux
	pipeline Processor
	store    Storage
	logger   *slog.Logger
	httpSrv  *http.Server
}

func NewServer(port int, pl Processor, db Storage, limiter *rate.Limiter, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		pipeline: pl,
		store:    db,
		logger:   logger,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(limiter))
		r.Use(userIDMiddleware)

		r.Post("/reports", s.createReport)

		r.Route("/conditions", func(r chi.Router) {
			r.Get("/", s.listConditions)
			r.Get("/{id}", s.getCondition)
			r.Patch("/{id}/resolve", s.resolveCondition)
			r.Get("/{id}/logs", s.listConditionLogs)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.listLogs)
			r.Get("/{id}", s.getLog)
			r.Delete("/{id}", s.deleteLog)
		})

		r.Route("/memory", func(r chi.Router) {
			r.Get("/", s.getMemory)
			r.Patch("/", s.updateMemory)
		})
	})

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey int

const userIDKey ctxKey = 0

// userIDMiddleware requires the X-User-ID header on every /api/v1
// route. Authentication itself happens upstream; this service only
// scopes data by the asserted identity.
func userIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps domain errors onto HTTP statuses: bad input is the
// caller's fault, oracle failures are an upstream problem, and unknown
// ids are not found.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, input.ErrNoInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, extractor.ErrEmptyResponse), errors.Is(err, extractor.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseID reads a UUID path parameter, writing a 400 on failure.
func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
