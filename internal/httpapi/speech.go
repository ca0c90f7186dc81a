package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vibevoice-community/vibevoice-server/internal/model"
	"github.com/vibevoice-community/vibevoice-server/internal/script"
	"github.com/vibevoice-community/vibevoice-server/internal/synth"
	"github.com/vibevoice-community/vibevoice-server/internal/voicestore"
)

type speechRequest struct {
	// Model is accepted for OpenAI compatibility and ignored; the deployed
	// model is fixed per instance.
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	CfgScale       float64 `json:"vibevoice_cfg_scale"`
}

func (s *Server) handleCreateSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if r.Body == nil {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_request", "request body is required")
		return
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return
	}

	out, contentType, err := s.pipeline.Synthesize(r.Context(), synth.Request{
		VoiceID:  req.Voice,
		Input:    req.Input,
		Format:   req.ResponseFormat,
		CfgScale: req.CfgScale,
	})
	if err != nil {
		s.respondSpeechError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) respondSpeechError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, script.ErrMultiSpeaker):
		respondOpenAIError(w, http.StatusBadRequest, "multi_speaker_not_supported", err.Error())
	case errors.Is(err, script.ErrEmptyInput):
		respondOpenAIError(w, http.StatusBadRequest, "empty_input", err.Error())
	case errors.Is(err, script.ErrInvalidScript):
		respondOpenAIError(w, http.StatusBadRequest, "invalid_script", err.Error())
	case errors.Is(err, synth.ErrUnsupportedFormat):
		respondOpenAIError(w, http.StatusBadRequest, "unsupported_format", err.Error())
	case errors.Is(err, voicestore.ErrNotFound):
		respondOpenAIError(w, http.StatusNotFound, "voice_not_found", err.Error())
	case errors.Is(err, model.ErrLoadFailed):
		respondOpenAIError(w, http.StatusServiceUnavailable, "model_load_failed", err.Error())
	case errors.Is(err, synth.ErrEncodingFailed):
		respondOpenAIError(w, http.StatusInternalServerError, "encoding_failed", err.Error())
	default:
		respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "synthesis failed")
	}
}
