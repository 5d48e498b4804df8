// Package config loads goscribe.json and merges it over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"github.com/goccy/go-json"
	httpapi "github.com/roelfdiedericks/goscribe/internal/http"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/media"
	"github.com/roelfdiedericks/goscribe/internal/paths"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/textconv"
	"github.com/roelfdiedericks/goscribe/internal/transcribe"
)

// Environment overrides, applied after the file.
const (
	EnvListen    = "GOSCRIBE_LISTEN"
	EnvModelsDir = "GOSCRIBE_MODELS_DIR"
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvGroqKey   = "GROQ_API_KEY"
)

// Config represents the merged goscribe configuration
type Config struct {
	Log     LogConfig              `json:"log"`
	HTTP    httpapi.HTTPConfig     `json:"http"`
	STT     stt.Config             `json:"stt"`
	Convert string                 `json:"convert"` // OpenCC mode, "none" disables
	Media   media.Config           `json:"media"`
	Queue   transcribe.QueueConfig `json:"queue"`

	path string // file the config was loaded from, "" for defaults only
}

type LogConfig struct {
	Level string `json:"level"` // trace, debug, info, warn, error
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		HTTP:    httpapi.DefaultHTTPConfig(),
		STT:     stt.DefaultConfig(),
		Convert: textconv.DefaultMode,
		Media: media.Config{
			TTL:      600,
			MaxBytes: 25 << 20,
		},
		Queue: transcribe.QueueConfig{
			MaxConcurrent: 1,
			MaxQueue:      8,
		},
	}
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Load reads configuration from path, or from the first goscribe.json found
// by paths.ConfigPath when path is empty. A missing file is not an error when
// searching; an explicitly named missing file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
			cfg.path = path
			L_debug("config: loaded", "path", path)
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	// File values win; defaults only fill what the file left empty.
	if err := mergo.Merge(cfg, *Default()); err != nil {
		return nil, fmt.Errorf("config: failed to merge defaults: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv(EnvModelsDir); v != "" {
		c.STT.WhisperCpp.ModelsDir = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" && c.STT.OpenAI.APIKey == "" {
		c.STT.OpenAI.APIKey = v
	}
	if v := os.Getenv(EnvGroqKey); v != "" && c.STT.Groq.APIKey == "" {
		c.STT.Groq.APIKey = v
	}
}

// Validate checks values that would otherwise fail late, at first request.
func (c *Config) Validate() error {
	if err := httpapi.ValidateListen(c.HTTP.Listen); err != nil {
		return fmt.Errorf("config: http.listen: %w", err)
	}
	if _, err := httpapi.ParseTrustedProxies(c.HTTP.RateLimit.TrustedProxies); err != nil {
		return fmt.Errorf("config: http.rateLimit.trustedProxies: %w", err)
	}
	if !isKnownMode(c.Convert) {
		return fmt.Errorf("config: unknown convert mode %q (valid: none, %s)", c.Convert, strings.Join(textconv.Modes, ", "))
	}
	if !isKnownLevel(c.Log.Level) {
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Queue.MaxConcurrent < 0 || c.Queue.MaxQueue < 0 {
		return fmt.Errorf("config: queue sizes must not be negative")
	}
	if c.STT.BeamSize < 0 {
		return fmt.Errorf("config: stt.beamSize must not be negative")
	}
	return nil
}

func isKnownMode(mode string) bool {
	if mode == "" || mode == "none" {
		return true
	}
	for _, m := range textconv.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

func isKnownLevel(level string) bool {
	switch strings.ToLower(level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
		return true
	}
	return false
}
