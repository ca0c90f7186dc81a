package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibevoice-community/vibevoice-server/internal/config"
	"github.com/vibevoice-community/vibevoice-server/internal/model"
	"github.com/vibevoice-community/vibevoice-server/internal/observability"
	"github.com/vibevoice-community/vibevoice-server/internal/synth"
	"github.com/vibevoice-community/vibevoice-server/internal/voicestore"
)

type Server struct {
	cfg      config.Config
	voices   *voicestore.Store
	pipeline *synth.Pipeline
	manager  *model.Manager
	metrics  *observability.Metrics
}

func New(cfg config.Config, voices *voicestore.Store, pipeline *synth.Pipeline, manager *model.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		voices:   voices,
		pipeline: pipeline,
		manager:  manager,
		metrics:  metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	// Liveness endpoints never force a model load.
	r.Get("/healthz", s.handleHealth)
	r.Get("/ping", s.handlePing)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/audio/speech", s.handleCreateSpeech)
		r.Get("/voices", s.handleListVoices)
		r.Post("/voices", s.handleCreateVoice)
		r.Delete("/voices/{id}", s.handleDeleteVoice)
		r.Get("/models", s.handleListModels)
	})

	return r
}

// requireAPIKey gates /v1/* behind a bearer token when a key is configured.
// Without a key every endpoint is open; that permissive default is a
// deployment decision for localhost use, not an oversight.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			respondOpenAIError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		token := strings.TrimSpace(auth[len("bearer "):])
		if token != s.cfg.APIKey {
			respondOpenAIError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/healthz" || r.URL.Path == "/ping" {
			log.Printf("%s %s -> %d (%dms)", r.Method, r.URL.Path, ww.Status(), time.Since(started).Milliseconds())
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.manager.State()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"model_phase": state.Phase,
		"warmup_done": state.WarmupDone,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       s.cfg.ModelID,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "vibevoice",
			},
		},
	})
}

// openaiError is the error envelope OpenAI clients expect on /v1/*.
type openaiError struct {
	Error openaiErrorBody `json:"error"`
}

type openaiErrorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

func respondOpenAIError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, openaiError{Error: openaiErrorBody{
		Message: message,
		Type:    "invalid_request_error",
		Code:    code,
	}})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
