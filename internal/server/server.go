// Package server exposes the voice and output APIs over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parrot-audio/voice-service/internal/core"
	"github.com/parrot-audio/voice-service/internal/output"
	"github.com/parrot-audio/voice-service/internal/voice"
)

const bearerPrefix = "Bearer "

// Server routes HTTP requests to the two coordinators.
type Server struct {
	voices    *voice.Coordinator
	outputs   *output.Coordinator
	authToken string
	log       *logger.Logger
}

// New creates the HTTP server.
func New(
	voices *voice.Coordinator,
	outputs *output.Coordinator,
	authToken string,
	log *logger.Logger,
) *Server {
	return &Server{
		voices:    voices,
		outputs:   outputs,
		authToken: authToken,
		log:       log,
	}
}

// Router builds the route tree. The object-store notification webhook is
// outside the authenticated group because the store signs no bearer token.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Post("/samples/notify", s.handleSampleNotify)

	router.Group(func(protected chi.Router) {
		protected.Use(s.requireBearerToken)

		protected.Post("/samples/upload", s.handleReserveUpload)

		protected.Get("/voices", s.handleListVoices)
		protected.Get("/voices/{voiceID}", s.handleGetVoice)
		protected.Delete("/voices/{voiceID}", s.handleDeleteVoice)

		protected.Post("/outputs", s.handleRequestOutput)
		protected.Get("/outputs", s.handleListOutputs)
		protected.Get("/outputs/{outputID}", s.handleGetOutput)
		protected.Post("/outputs/search", s.handleSearchOutputs)
		protected.Get("/outputs/{outputID}/presigned", s.handleOutputDownloadURL)
	})

	return router
}

func (s *Server) requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) ||
			strings.TrimPrefix(header, bearerPrefix) != s.authToken {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

type reserveUploadRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type reserveUploadResponse struct {
	Voice     *core.Voice `json:"voice"`
	UploadURL string      `json:"upload_url"`
}

func (s *Server) handleReserveUpload(w http.ResponseWriter, r *http.Request) {
	var req reserveUploadRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})

		return
	}

	created, uploadURL, err := s.voices.ReserveUploadSlot(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, reserveUploadResponse{
		Voice:     created,
		UploadURL: uploadURL,
	})
}

// sampleNotifyRequest mirrors the S3-style event the object store posts
// when a sample upload lands.
type sampleNotifyRequest struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func (s *Server) handleSampleNotify(w http.ResponseWriter, r *http.Request) {
	var req sampleNotifyRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})

		return
	}

	for _, record := range req.Records {
		err = s.voices.OnSampleUploaded(r.Context(), record.S3.Bucket.Name, record.S3.Object.Key)
		if err != nil {
			s.writeError(w, err)

			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.voices.List(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, voices)
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	found, err := s.voices.Get(r.Context(), chi.URLParam(r, "voiceID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.voices.DeleteVoice(r.Context(), chi.URLParam(r, "voiceID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, deleted)
}

type requestOutputRequest struct {
	VoiceID string `json:"voice_id"`
	Text    string `json:"text"`
}

func (s *Server) handleRequestOutput(w http.ResponseWriter, r *http.Request) {
	var req requestOutputRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})

		return
	}

	created, err := s.outputs.RequestOutput(r.Context(), req.VoiceID, req.Text)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	outputs, err := s.outputs.List(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, outputs)
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	found, err := s.outputs.Get(r.Context(), chi.URLParam(r, "outputID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, found)
}

type searchOutputsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSearchOutputs(w http.ResponseWriter, r *http.Request) {
	var req searchOutputsRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})

		return
	}

	results, err := s.outputs.SearchByText(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleOutputDownloadURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.outputs.DownloadURL(r.Context(), chi.URLParam(r, "outputID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, core.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, core.ErrUpstream):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error("Request failed: %v", err)
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Error("Failed to encode response body: %v", err)
	}
}
