// Package stt provides speech-to-text transcription for audio content.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrFFmpegNotFound is returned when an audio container needs ffmpeg and it is not installed.
var ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")

// Provider is the interface for STT implementations.
type Provider interface {
	// Transcribe converts an audio file to text.
	// filePath should be an audio file (WebM, OGG, WAV, etc.)
	Transcribe(ctx context.Context, filePath string, opts Options) (*Result, error)

	// Name returns the provider name (e.g., "whispercpp", "openai")
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// Options tunes a single transcription call.
type Options struct {
	Language      string // "zh", "en", "auto"
	BeamSize      int    // 0 = provider default
	Threads       uint   // 0 = auto
	InitialPrompt string
}

// Segment is one decoded span of speech.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Result is the output of a transcription.
type Result struct {
	Text     string        // segment texts concatenated as emitted
	Segments []Segment     // may be empty for providers without timing info
	Language string        // detected or requested language
	Duration time.Duration // audio duration, 0 if unknown
}

// joinSegments concatenates segment texts with no separator.
// Whisper emits leading spaces itself for space-delimited languages.
func joinSegments(segments []Segment) string {
	n := 0
	for _, s := range segments {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for _, s := range segments {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}
