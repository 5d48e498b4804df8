package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIConfig holds OpenAI Whisper configuration.
type OpenAIConfig struct {
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`   // "whisper-1"
	BaseURL string `json:"baseURL"` // optional, for OpenAI-compatible servers
}

// GroqConfig holds Groq Whisper configuration.
type GroqConfig struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"` // "whisper-large-v3", "whisper-large-v3-turbo"
}

// OpenAIProvider implements STT against the OpenAI audio transcription API.
// Groq uses the same API under a different base URL.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI Whisper STT provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	L_info("stt: openai provider initialized", "model", model, "baseURL", clientCfg.BaseURL)

	return &OpenAIProvider{
		name:   "openai",
		model:  model,
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}

// NewGroqProvider creates a new Groq Whisper STT provider.
func NewGroqProvider(cfg GroqConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq API key not configured")
	}

	model := cfg.Model
	if model == "" {
		model = "whisper-large-v3"
	}

	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   model,
		BaseURL: groqBaseURL,
	})
	if err != nil {
		return nil, err
	}
	p.name = "groq"
	return p, nil
}

// Transcribe uploads the audio file and returns the transcript.
// The API accepts WebM/OGG/WAV directly, no conversion needed.
func (o *OpenAIProvider) Transcribe(ctx context.Context, filePath string, opts Options) (*Result, error) {
	L_debug("stt: "+o.name+" transcribing", "file", filePath, "model", o.model)

	req := openai.AudioRequest{
		Model:    o.model,
		FilePath: filePath,
		Prompt:   opts.InitialPrompt,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" && opts.Language != "auto" {
		req.Language = opts.Language
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			L_error("stt: "+o.name+" request failed", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
			return nil, fmt.Errorf("%s API error: %s", o.name, apiErr.Message)
		}
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Start: secondsToDuration(s.Start),
			End:   secondsToDuration(s.End),
			Text:  s.Text,
		})
	}

	language := resp.Language
	if language == "" {
		language = opts.Language
	}

	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Segments: segments,
		Language: language,
		Duration: secondsToDuration(resp.Duration),
	}
	L_debug("stt: "+o.name+" transcription complete", "length", len(result.Text))

	return result, nil
}

// Name returns the provider name.
func (o *OpenAIProvider) Name() string {
	return o.name
}

// Close releases any resources (none for HTTP client).
func (o *OpenAIProvider) Close() error {
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
