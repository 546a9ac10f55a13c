package api

import (
	"net/http"

	"github.com/kodacare/koda/internal/store"
)

// listConditions handles GET /api/v1/conditions. An optional ?status=
// filter accepts "active" or "resolved".
func (s *Server) listConditions(w http.ResponseWriter, r *http.Request) {
	var status *store.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := store.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = &parsed
	}

	owner := userID(r)
	cards, err := s.store.ListCardsForUser(r.Context(), owner, status)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	total, err := s.store.CountCardsForUser(r.Context(), owner, status)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if cards == nil {
		cards = []store.Card{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conditions": cards,
		"count":      total,
	})
}

// getCondition handles GET /api/v1/conditions/{id}. Cards belonging to
// another user are reported as not found.
func (s *Server) getCondition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	card, err := s.store.GetCard(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if card.OwnerID != userID(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// resolveCondition handles PATCH /api/v1/conditions/{id}/resolve.
// Resolving twice is a no-op success; the card reactivates on its own
// if the condition is reported again.
func (s *Server) resolveCondition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	card, err := s.store.GetCard(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if card.OwnerID != userID(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	card, err = s.store.ResolveCard(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// listConditionLogs handles GET /api/v1/conditions/{id}/logs.
func (s *Server) listConditionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	card, err := s.store.GetCard(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if card.OwnerID != userID(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	limit, offset := pagination(r)
	logs, err := s.store.ListLogsForCard(r.Context(), id, limit, offset)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}
