package api

import (
	"encoding/json"
	"net/http"

	"github.com/kodacare/koda/internal/store"
)

// memoryPatchRequest is the PATCH /api/v1/memory payload. Omitted
// fields keep their current values.
type memoryPatchRequest struct {
	Tone       *string `json:"tone,omitempty"`
	NameUsed   *string `json:"name_used,omitempty"`
	MascotName *string `json:"mascot_name,omitempty"`
}

// getMemory handles GET /api/v1/memory, creating the record with
// defaults on first access.
func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetOrCreateMemory(r.Context(), userID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// updateMemory handles PATCH /api/v1/memory.
func (s *Server) updateMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Tone == nil && req.NameUsed == nil && req.MascotName == nil {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	m, err := s.store.UpdatePreferences(r.Context(), userID(r), store.PreferencesPatch{
		Tone:       req.Tone,
		NameUsed:   req.NameUsed,
		MascotName: req.MascotName,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
