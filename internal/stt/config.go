package stt

import (
	"fmt"
	"strings"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

// Provider names
const (
	ProviderWhisperCpp = "whispercpp"
	ProviderOpenAI     = "openai"
	ProviderGroq       = "groq"
)

// Config holds STT configuration.
type Config struct {
	Provider      string           `json:"provider"`      // "whispercpp", "openai", "groq"
	Language      string           `json:"language"`      // default "zh"
	BeamSize      int              `json:"beamSize"`      // default 5
	InitialPrompt string           `json:"initialPrompt"` // optional decoder prompt
	WhisperCpp    WhisperCppConfig `json:"whispercpp"`    // Local whisper.cpp
	OpenAI        OpenAIConfig     `json:"openai"`        // OpenAI Whisper API
	Groq          GroqConfig       `json:"groq"`          // Groq Whisper API
}

// DefaultConfig returns the local whisper.cpp setup for Mandarin.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderWhisperCpp,
		Language: "zh",
		BeamSize: 5,
		WhisperCpp: WhisperCppConfig{
			ModelsDir: "~/.goscribe/models",
			Model:     "ggml-base.bin",
		},
	}
}

// Options returns the per-call options derived from config.
func (c Config) Options() Options {
	return Options{
		Language:      c.Language,
		BeamSize:      c.BeamSize,
		Threads:       c.WhisperCpp.Threads,
		InitialPrompt: c.InitialPrompt,
	}
}

// New initializes the STT provider named in the configuration.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderWhisperCpp:
		return newWhisperCpp(cfg)
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("stt: failed to initialize openai: %w", err)
		}
		return p, nil
	case ProviderGroq:
		p, err := NewGroqProvider(cfg.Groq)
		if err != nil {
			return nil, fmt.Errorf("stt: failed to initialize groq: %w", err)
		}
		return p, nil
	case "":
		return nil, fmt.Errorf("stt: no provider configured")
	default:
		return nil, fmt.Errorf("stt: unknown provider: %s", cfg.Provider)
	}
}

// newWhisperCpp validates the model file and loads it.
func newWhisperCpp(cfg Config) (Provider, error) {
	wc := cfg.WhisperCpp
	if wc.ModelsDir == "" || wc.Model == "" {
		return nil, fmt.Errorf("stt: whispercpp not fully configured (modelsDir=%q model=%q)", wc.ModelsDir, wc.Model)
	}

	modelsDir, err := paths.ExpandTilde(wc.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("stt: failed to expand models dir: %w", err)
	}
	wc.ModelsDir = modelsDir

	if !IsModelDownloaded(modelsDir, wc.Model) {
		return nil, fmt.Errorf("stt: model not found at %s, run 'goscribe models download %s'", wc.ModelPath(), wc.Model)
	}

	if m := GetModel(wc.Model); m != nil && !m.Multilingual() && !strings.HasPrefix(cfg.Language, "en") {
		L_warn("stt: English-only model configured for non-English language", "model", wc.Model, "language", cfg.Language)
	}

	provider, err := NewWhisperCppProvider(wc)
	if err != nil {
		return nil, fmt.Errorf("stt: failed to initialize whispercpp: %w", err)
	}

	L_info("stt: whispercpp provider initialized", "model", wc.Model)
	return provider, nil
}
