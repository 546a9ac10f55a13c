package api

import (
	"net/http"
	"strconv"

	"github.com/kodacare/koda/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pagination reads ?limit= and ?offset=, clamping to sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// listLogs handles GET /api/v1/logs.
func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	limit, offset := pagination(r)

	logs, err := s.store.ListLogsForUser(r.Context(), owner, limit, offset)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	total, err := s.store.CountLogsForUser(r.Context(), owner)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"count":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// getLog handles GET /api/v1/logs/{id}.
func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entry, err := s.store.GetLog(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if entry.OwnerID != userID(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// deleteLog handles DELETE /api/v1/logs/{id}. Log entries are never
// edited; removal is the only correction a user can make.
func (s *Server) deleteLog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entry, err := s.store.GetLog(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if entry.OwnerID != userID(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if _, err := s.store.DeleteLog(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
