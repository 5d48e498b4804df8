package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/roelfdiedericks/goscribe/internal/media"
	"github.com/roelfdiedericks/goscribe/internal/metrics"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/transcribe"
)

type fakeTranscriber struct {
	loaded   bool
	out      *transcribe.Output
	err      error
	maxBytes int64
	got      []byte
}

func (f *fakeTranscriber) Loaded() bool { return f.loaded }

func (f *fakeTranscriber) Transcribe(ctx context.Context, data []byte) (*transcribe.Output, error) {
	f.got = data
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func (f *fakeTranscriber) ProviderName() string  { return "fake" }
func (f *fakeTranscriber) ConverterMode() string { return "t2s" }
func (f *fakeTranscriber) Active() int64         { return 0 }
func (f *fakeTranscriber) MaxUploadBytes() int64 {
	if f.maxBytes == 0 {
		return 1 << 20
	}
	return f.maxBytes
}

func newTestServer(t *testing.T, svc Transcriber, cfg HTTPConfig) *Server {
	t.Helper()
	s, err := NewServer(cfg, svc)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.SetMetrics(metrics.New())
	return s
}

// multipartBody builds a form with one file part. filename "" produces a
// part without a filename.
func multipartBody(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	var (
		w   io.Writer
		err error
	)
	if filename == "" {
		w, err = mw.CreateFormField(field)
	} else {
		w, err = mw.CreateFormFile(field, filename)
	}
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHandleTranscribe(t *testing.T) {
	audio := []byte("RIFF....WAVEfmt ")

	tests := []struct {
		name       string
		svc        *fakeTranscriber
		field      string
		filename   string
		content    []byte
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{
			name:       "success",
			svc:        &fakeTranscriber{loaded: true, out: &transcribe.Output{Text: "你好世界", Language: "zh", Duration: 2 * time.Second}},
			field:      "file",
			filename:   "recording.webm",
			content:    audio,
			wantStatus: http.StatusOK,
			wantKey:    "transcription",
			wantValue:  "你好世界",
		},
		{
			name:       "model not loaded",
			svc:        &fakeTranscriber{loaded: false},
			field:      "file",
			filename:   "recording.webm",
			content:    audio,
			wantStatus: http.StatusServiceUnavailable,
			wantKey:    "error",
			wantValue:  "Model is not loaded",
		},
		{
			name:       "missing file part",
			svc:        &fakeTranscriber{loaded: true},
			field:      "audio",
			filename:   "recording.webm",
			content:    audio,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "No file part in the request",
		},
		{
			name:       "empty filename",
			svc:        &fakeTranscriber{loaded: true},
			field:      "file",
			filename:   "",
			content:    nil,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "No file selected",
		},
		{
			name:       "empty file",
			svc:        &fakeTranscriber{loaded: true},
			field:      "file",
			filename:   "recording.webm",
			content:    nil,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "Received an empty audio file",
		},
		{
			name:       "ffmpeg missing",
			svc:        &fakeTranscriber{loaded: true, err: fmt.Errorf("convert: %w", stt.ErrFFmpegNotFound)},
			field:      "file",
			filename:   "recording.webm",
			content:    audio,
			wantStatus: http.StatusInternalServerError,
			wantKey:    "error",
			wantValue:  "音频处理失败：后端无法找到 FFMPEG。",
		},
		{
			name:       "model failure",
			svc:        &fakeTranscriber{loaded: true, err: errors.New("whisper: process failed")},
			field:      "file",
			filename:   "recording.webm",
			content:    audio,
			wantStatus: http.StatusInternalServerError,
			wantKey:    "error",
			wantValue:  "音频处理失败: whisper: process failed",
		},
		{
			name:       "unsupported type",
			svc:        &fakeTranscriber{loaded: true, err: fmt.Errorf("%w: text/plain", media.ErrUnsupportedType)},
			field:      "file",
			filename:   "notes.txt",
			content:    []byte("hello"),
			wantStatus: http.StatusUnsupportedMediaType,
			wantKey:    "error",
			wantValue:  "Unsupported audio format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.svc, DefaultHTTPConfig())
			body, ct := multipartBody(t, tt.field, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()

			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeBody(t, rec)[tt.wantKey]; got != tt.wantValue {
				t.Errorf("%s = %v, want %q", tt.wantKey, got, tt.wantValue)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestHandleTranscribePassesBytes(t *testing.T) {
	svc := &fakeTranscriber{loaded: true, out: &transcribe.Output{Text: "ok"}}
	s := newTestServer(t, svc, DefaultHTTPConfig())

	body, ct := multipartBody(t, "file", "a.wav", []byte("abc123"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if string(svc.got) != "abc123" {
		t.Errorf("service got %q, want %q", svc.got, "abc123")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandleTranscribeTooLarge(t *testing.T) {
	svc := &fakeTranscriber{loaded: true, maxBytes: 16}
	s := newTestServer(t, svc, DefaultHTTPConfig())

	body, ct := multipartBody(t, "file", "big.webm", bytes.Repeat([]byte{1}, 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body %s)", rec.Code, rec.Body.String())
	}
	if svc.got != nil {
		t.Error("oversized upload reached the service")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = RateLimitConfig{Requests: 2, Window: 60}
	s := newTestServer(t, &fakeTranscriber{loaded: false}, cfg)

	codes := make([]int, 3)
	for i := range codes {
		body, ct := multipartBody(t, "file", "a.webm", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
		req.Header.Set("Content-Type", ct)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		codes[i] = rec.Code
	}

	want := []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = RateLimitConfig{Requests: 2, Window: 60}
	s := newTestServer(t, &fakeTranscriber{loaded: false}, cfg)

	limited := 0
	for i := 0; i < 50; i++ {
		body, ct := multipartBody(t, "file", "a.webm", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	if limited != 48 {
		t.Errorf("%d of 50 requests limited, want 48", limited)
	}
	if n := s.rateLimiter.Len(); n != 1 {
		t.Errorf("limiter tracks %d clients, want 1", n)
	}
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = RateLimitConfig{Requests: 1, Window: 60, TrustedProxies: []string{"10.0.0.0/8"}}
	s := newTestServer(t, &fakeTranscriber{loaded: false}, cfg)

	send := func(client string) int {
		body, ct := multipartBody(t, "file", "a.webm", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("X-Forwarded-For", client)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("198.51.100.1"); code != http.StatusServiceUnavailable {
		t.Errorf("first client: status %d", code)
	}
	if code := send("198.51.100.2"); code != http.StatusServiceUnavailable {
		t.Errorf("second client limited by the first one's bucket: status %d", code)
	}
	if code := send("198.51.100.1"); code != http.StatusTooManyRequests {
		t.Errorf("repeat client: status %d, want 429", code)
	}
}

func TestNewServerRejectsBadTrustedProxy(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit.TrustedProxies = []string{"nope"}
	if _, err := NewServer(cfg, &fakeTranscriber{}); err == nil {
		t.Fatal("expected error for invalid trusted proxy")
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{loaded: true}, DefaultHTTPConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/transcribe", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent && rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestStatusAndHealth(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{loaded: true}, DefaultHTTPConfig())
	s.SetModel("ggml-base.bin")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	m := decodeBody(t, rec)
	if m["loaded"] != true || m["provider"] != "fake" || m["model"] != "ggml-base.bin" || m["converter"] != "t2s" {
		t.Errorf("unexpected status body: %v", m)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/transcribe") {
		t.Errorf("index = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{loaded: true}, DefaultHTTPConfig())

	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthz") {
		t.Errorf("metrics snapshot missing healthz counter: %s", rec.Body.String())
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{loaded: true}, DefaultHTTPConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{transcribe.ErrModelNotLoaded, 503, "Model is not loaded"},
		{transcribe.ErrBusy, 503, "Server is busy, try again later"},
		{media.ErrEmpty, 400, "Received an empty audio file"},
		{fmt.Errorf("%w: 30 bytes", media.ErrTooLarge), 413, "Audio file is too large"},
		{errors.New("exec: \"ffmpeg\": executable file not found in $PATH"), 500, "音频处理失败：后端无法找到 FFMPEG。"},
		{errors.New("boom"), 500, "音频处理失败: boom"},
	}
	for _, tt := range tests {
		status, msg := statusFor(tt.err)
		if status != tt.wantStatus || msg != tt.wantMsg {
			t.Errorf("statusFor(%v) = %d %q, want %d %q", tt.err, status, msg, tt.wantStatus, tt.wantMsg)
		}
	}
}
