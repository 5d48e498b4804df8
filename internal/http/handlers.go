package http

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// multipart overhead allowed on top of the audio limit
const formOverhead = 1 << 20

type transcribeResponse struct {
	Transcription string  `json:"transcription"`
	Language      string  `json:"language,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
}

type statusResponse struct {
	Loaded    bool    `json:"loaded"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model,omitempty"`
	Converter string  `json:"converter"`
	Active    int64   `json:"active"`
	MaxUpload int64   `json:"maxUploadBytes"`
	Uptime    float64 `json:"uptime"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleTranscribe accepts a multipart upload in field "file".
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Loaded() {
		writeError(w, http.StatusServiceUnavailable, msgNotLoaded)
		return
	}

	limit := s.svc.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		L_debug("http: bad multipart form", "error", err)
		writeError(w, http.StatusBadRequest, msgNoFilePart)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		// A part named "file" with an empty filename is parsed as a plain value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			writeError(w, http.StatusBadRequest, msgNoFileChosen)
			return
		}
		writeError(w, http.StatusBadRequest, msgNoFilePart)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, msgNoFileChosen)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgNoFilePart)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, msgEmptyFile)
		return
	}

	L_debug("http: audio received",
		"id", requestIDFrom(r.Context()),
		"filename", header.Filename,
		"bytes", len(data))

	out, err := s.svc.Transcribe(r.Context(), data)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			L_error("http: transcription failed", "id", requestIDFrom(r.Context()), "error", err)
		} else {
			L_warn("http: transcription rejected", "id", requestIDFrom(r.Context()), "status", status, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		Transcription: out.Text,
		Language:      out.Language,
		Duration:      out.Duration.Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Loaded:    s.svc.Loaded(),
		Provider:  s.svc.ProviderName(),
		Model:     s.Model(),
		Converter: s.svc.ConverterMode(),
		Active:    s.svc.Active(),
		MaxUpload: s.svc.MaxUploadBytes(),
		Uptime:    time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(s.indexHTML)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		L_error("http: failed to encode response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
