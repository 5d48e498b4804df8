package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// WhisperCppProvider implements STT using whisper.cpp.
type WhisperCppProvider struct {
	model  whisper.Model
	config WhisperCppConfig

	// whisper.cpp contexts share model state; one Process at a time.
	mu sync.Mutex
}

// WhisperCppConfig holds configuration for Whisper.cpp.
type WhisperCppConfig struct {
	ModelsDir string `json:"modelsDir"` // Directory containing whisper models
	Model     string `json:"model"`     // Model name (e.g., "ggml-base.bin")
	Threads   uint   `json:"threads"`   // Number of threads (0 = auto)
}

// ModelPath returns the full path of the configured model file.
func (c WhisperCppConfig) ModelPath() string {
	return filepath.Join(c.ModelsDir, c.Model)
}

// NewWhisperCppProvider creates a new Whisper.cpp STT provider.
func NewWhisperCppProvider(cfg WhisperCppConfig) (*WhisperCppProvider, error) {
	if cfg.ModelsDir == "" {
		return nil, fmt.Errorf("whisper.cpp modelsDir not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("whisper.cpp model not configured")
	}

	modelPath := cfg.ModelPath()
	L_info("stt: loading whisper.cpp model", "path", modelPath)
	start := time.Now()

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}

	L_elapsed(start, "stt: whisper.cpp model loaded", "multilingual", model.IsMultilingual())

	return &WhisperCppProvider{
		model:  model,
		config: cfg,
	}, nil
}

// Transcribe converts an audio file to text using Whisper.cpp.
func (w *WhisperCppProvider) Transcribe(ctx context.Context, filePath string, opts Options) (*Result, error) {
	L_debug("stt: whisper.cpp transcribing", "file", filePath, "language", opts.Language, "beam", opts.BeamSize)

	// Convert audio to 16kHz mono float32 (required by whisper.cpp)
	samples, err := ConvertToFloat32(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("convert audio: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("convert audio: no samples decoded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	duration := samplesDuration(len(samples))
	L_debug("stt: audio converted", "samples", len(samples), "duration", duration)

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	w.configure(wctx, opts)

	// whisper.cpp can't be interrupted mid-Process; the abort check runs between segments.
	var aborted bool
	onSegment := func(whisper.Segment) {
		if ctx.Err() != nil {
			aborted = true
		}
	}
	if err := wctx.Process(samples, nil, onSegment, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}
	if aborted {
		return nil, ctx.Err()
	}

	var segments []Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get segment: %w", err)
		}
		segments = append(segments, Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  segment.Text,
		})
	}

	language := opts.Language
	if language == "" || language == "auto" {
		language = wctx.DetectedLanguage()
	}

	result := &Result{
		Text:     strings.TrimSpace(joinSegments(segments)),
		Segments: segments,
		Language: language,
		Duration: duration,
	}
	L_debug("stt: whisper.cpp transcription complete", "segments", len(segments), "length", len(result.Text))

	return result, nil
}

// configure applies per-call options to a fresh whisper context.
func (w *WhisperCppProvider) configure(wctx whisper.Context, opts Options) {
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		if lang == "auto" {
			L_debug("stt: auto language detection not supported for this model")
		} else {
			L_warn("stt: failed to set language", "language", lang, "error", err)
		}
	}

	if opts.BeamSize > 0 {
		wctx.SetBeamSize(opts.BeamSize)
	}

	threads := opts.Threads
	if threads == 0 {
		threads = w.config.Threads
	}
	if threads > 0 {
		wctx.SetThreads(threads)
	}

	if opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(opts.InitialPrompt)
	}
}

// Name returns the provider name.
func (w *WhisperCppProvider) Name() string {
	return "whispercpp"
}

// Close releases the whisper model.
func (w *WhisperCppProvider) Close() error {
	L_debug("stt: closing whisper.cpp model")
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model.Close()
}

func samplesDuration(n int) time.Duration {
	return time.Duration(float64(n) / float64(targetSampleRate) * float64(time.Second))
}
