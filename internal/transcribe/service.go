// Package transcribe turns uploaded audio bytes into normalized transcripts.
// It owns the loaded STT provider, queues requests in front of it, and
// applies script conversion to the result.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/media"
	"github.com/roelfdiedericks/goscribe/internal/metrics"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/textconv"
	"golang.org/x/sync/semaphore"
)

var (
	ErrModelNotLoaded = errors.New("model is not loaded")
	ErrBusy           = errors.New("transcription queue is full")
)

const metricsTopic = "transcribe"

// QueueConfig bounds concurrent model use.
type QueueConfig struct {
	MaxConcurrent int `json:"maxConcurrent"` // parallel transcriptions (default 1)
	MaxQueue      int `json:"maxQueue"`      // waiting requests beyond that (default 8)
}

// Output is a finished transcription.
type Output struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []stt.Segment
	Elapsed  time.Duration
}

// Service coordinates temp storage, the provider and script conversion.
type Service struct {
	store     *media.TempStore
	converter textconv.Converter
	opts      stt.Options
	metrics   *metrics.MetricsManager

	mu       sync.RWMutex
	provider stt.Provider

	sem           *semaphore.Weighted
	maxConcurrent int64
	maxActive     int64 // running + waiting
	active        atomic.Int64
}

// NewService creates a service. provider may be nil; the service then reports
// not loaded until Reload is called.
func NewService(provider stt.Provider, converter textconv.Converter, store *media.TempStore, opts stt.Options, qc QueueConfig) *Service {
	if qc.MaxConcurrent <= 0 {
		qc.MaxConcurrent = 1
	}
	if qc.MaxQueue < 0 {
		qc.MaxQueue = 0
	}
	return &Service{
		store:         store,
		converter:     converter,
		opts:          opts,
		metrics:       metrics.GetInstance(),
		provider:      provider,
		sem:           semaphore.NewWeighted(int64(qc.MaxConcurrent)),
		maxConcurrent: int64(qc.MaxConcurrent),
		maxActive:     int64(qc.MaxConcurrent + qc.MaxQueue),
	}
}

// SetMetrics replaces the metrics manager (tests use a private one).
func (s *Service) SetMetrics(m *metrics.MetricsManager) {
	s.metrics = m
}

// Loaded reports whether a provider is available.
func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider != nil
}

// ProviderName returns the active provider name, or "" if none.
func (s *Service) ProviderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// ConverterMode returns the script conversion in effect.
func (s *Service) ConverterMode() string {
	return s.converter.Mode()
}

// Active returns the number of running plus queued requests.
func (s *Service) Active() int64 {
	return s.active.Load()
}

// MaxUploadBytes returns the upload size limit of the temp store.
func (s *Service) MaxUploadBytes() int64 {
	return s.store.MaxBytes()
}

// Reload swaps in a new provider and closes the old one once in-flight calls
// holding it have finished.
func (s *Service) Reload(p stt.Provider) {
	s.mu.Lock()
	old := s.provider
	s.provider = p
	s.mu.Unlock()

	name := ""
	if p != nil {
		name = p.Name()
	}
	L_info("transcribe: provider swapped", "provider", name)

	if old != nil && old != p {
		// Every slot acquired means no call is using old.
		go func() {
			if err := s.sem.Acquire(context.Background(), s.maxConcurrent); err == nil {
				defer s.sem.Release(s.maxConcurrent)
			}
			if err := old.Close(); err != nil {
				L_warn("transcribe: failed to close old provider", "provider", old.Name(), "error", err)
			}
		}()
	}
}

// Close releases the provider.
func (s *Service) Close() error {
	s.mu.Lock()
	p := s.provider
	s.provider = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

// Transcribe persists data, runs the provider and converts the script.
func (s *Service) Transcribe(ctx context.Context, data []byte) (*Output, error) {
	start := time.Now()

	out, err := s.transcribe(ctx, data)
	if err != nil {
		s.metrics.RecordFailure(metricsTopic, "requests", failureReason(err))
		return nil, err
	}

	out.Elapsed = time.Since(start)
	s.metrics.RecordSuccess(metricsTopic, "requests")
	s.metrics.RecordDuration(metricsTopic, "total", out.Elapsed)
	return out, nil
}

func (s *Service) transcribe(ctx context.Context, data []byte) (*Output, error) {
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}

	upload, err := s.store.Save(data)
	if err != nil {
		return nil, err
	}
	defer upload.Remove()

	if n := s.active.Add(1); n > s.maxActive {
		s.active.Add(-1)
		L_warn("transcribe: queue full, rejecting request", "active", n-1, "limit", s.maxActive)
		return nil, ErrBusy
	}
	s.metrics.SetGauge(metricsTopic, "active", s.active.Load())
	defer func() {
		s.metrics.SetGauge(metricsTopic, "active", s.active.Add(-1))
	}()

	waitStart := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for model: %w", err)
	}
	defer s.sem.Release(1)
	s.metrics.RecordDuration(metricsTopic, "queue_wait", time.Since(waitStart))

	// Reload may have swapped or cleared the provider while we waited.
	s.mu.RLock()
	provider := s.provider
	s.mu.RUnlock()
	if provider == nil {
		return nil, ErrModelNotLoaded
	}

	modelStart := time.Now()
	result, err := provider.Transcribe(ctx, upload.Path, s.opts)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDuration(metricsTopic, "model", time.Since(modelStart))

	text, err := s.converter.Convert(result.Text)
	if err != nil {
		return nil, err
	}

	L_info("transcribe: transcription result",
		"provider", provider.Name(),
		"language", result.Language,
		"duration", result.Duration.Round(time.Millisecond),
		"text", text)

	return &Output{
		Text:     text,
		Language: result.Language,
		Duration: result.Duration,
		Segments: result.Segments,
	}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrModelNotLoaded):
		return "not_loaded"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, media.ErrEmpty), errors.Is(err, media.ErrTooLarge), errors.Is(err, media.ErrUnsupportedType):
		return "bad_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, stt.ErrFFmpegNotFound):
		return "ffmpeg"
	default:
		return "model"
	}
}
