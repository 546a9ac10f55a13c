package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/kodacare/koda/internal/extractor"
	"github.com/kodacare/koda/internal/input"
	"github.com/kodacare/koda/internal/pipeline"
)

// mediaPayload carries one base64-encoded audio or image attachment.
type mediaPayload struct {
	Data        string `json:"data"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// reportRequest is the POST /api/v1/reports payload. At least one of
// text, audio, or image is required unless force_log is set.
type reportRequest struct {
	Text     string           `json:"text,omitempty"`
	Audio    *mediaPayload    `json:"audio,omitempty"`
	Image    *mediaPayload    `json:"image,omitempty"`
	ForceLog bool             `json:"force_log,omitempty"`
	History  []extractor.Turn `json:"history,omitempty"`
}

func decodeMedia(p *mediaPayload) (*input.Media, error) {
	if p == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, err
	}
	return &input.Media{Data: data, ContentType: p.ContentType, Filename: p.Filename}, nil
}

// createReport handles POST /api/v1/reports.
func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	audio, err := decodeMedia(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 audio data")
		return
	}
	image, err := decodeMedia(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 image data")
		return
	}

	raw := input.Raw{Text: req.Text, Audio: audio, Image: image}
	opts := pipeline.Options{ForceLog: req.ForceLog, History: req.History}

	result, err := s.pipeline.Process(r.Context(), userID(r), raw, opts)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
