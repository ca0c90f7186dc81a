package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vibevoice-community/vibevoice-server/internal/audio"
	"github.com/vibevoice-community/vibevoice-server/internal/voicestore"
)

const maxVoiceUploadBytes = 64 << 20

type voiceResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
}

func toVoiceResponse(v voicestore.Voice) voiceResponse {
	return voiceResponse{
		ID:      v.ID,
		Object:  "voice",
		Name:    v.Name,
		Type:    string(v.Type),
		Created: v.CreatedAt,
	}
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	voices, err := s.voices.List()
	if err != nil {
		respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "listing voices failed")
		return
	}
	data := make([]voiceResponse, 0, len(voices))
	for _, v := range voices {
		data = append(data, toVoiceResponse(v))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (s *Server) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxVoiceUploadBytes); err != nil {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_request", "expected multipart form: "+err.Error())
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_request", "file is required")
		return
	}
	defer file.Close()

	uploadDir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "upload staging failed")
		return
	}

	stem := uuid.NewString()[:8]
	rawPath := filepath.Join(uploadDir, "upload-"+stem)
	wavPath := filepath.Join(uploadDir, "converted-"+stem+".wav")
	defer os.Remove(rawPath)
	defer os.Remove(wavPath)

	raw, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "upload staging failed")
		return
	}
	_, copyErr := io.Copy(raw, file)
	closeErr := raw.Close()
	if copyErr != nil || closeErr != nil {
		respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "upload staging failed")
		return
	}

	// Uploads arrive in whatever container the client had; store one shape.
	if err := audio.ConvertToWAV24kMono(r.Context(), rawPath, wavPath); err != nil {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}

	converted, err := os.Open(wavPath)
	if err != nil {
		respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "upload staging failed")
		return
	}
	voice, err := s.voices.Create(name, converted)
	_ = converted.Close()
	if err != nil {
		switch {
		case errors.Is(err, voicestore.ErrDuplicateName):
			respondOpenAIError(w, http.StatusConflict, "duplicate_voice", err.Error())
		case errors.Is(err, voicestore.ErrInvalidName):
			respondOpenAIError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, voicestore.ErrInvalidAudio):
			respondOpenAIError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		default:
			respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "voice creation failed")
		}
		return
	}

	if s.metrics != nil {
		s.metrics.CustomVoices.Set(float64(s.voices.CustomCount()))
	}
	respondJSON(w, http.StatusCreated, toVoiceResponse(voice))
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondOpenAIError(w, http.StatusBadRequest, "invalid_request", "missing voice id")
		return
	}

	if err := s.voices.Delete(id); err != nil {
		switch {
		case errors.Is(err, voicestore.ErrNotFound):
			respondOpenAIError(w, http.StatusNotFound, "voice_not_found", err.Error())
		case errors.Is(err, voicestore.ErrBuiltinVoice):
			respondOpenAIError(w, http.StatusBadRequest, "builtin_voice", err.Error())
		default:
			respondOpenAIError(w, http.StatusInternalServerError, "internal_error", "voice deletion failed")
		}
		return
	}

	if s.metrics != nil {
		s.metrics.CustomVoices.Set(float64(s.voices.CustomCount()))
	}
	w.WriteHeader(http.StatusNoContent)
}
