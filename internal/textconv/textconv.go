// Package textconv normalizes Chinese script in transcripts using OpenCC.
package textconv

import (
	"fmt"
	"strings"
	"sync"

	"github.com/longbridgeapp/opencc"
)

// DefaultMode converts Traditional Chinese to Simplified Chinese.
const DefaultMode = "t2s"

// Converter rewrites text from one Chinese script variant to another.
type Converter interface {
	Convert(text string) (string, error)
	Mode() string
}

// Modes lists the OpenCC conversions accepted by New.
var Modes = []string{"t2s", "tw2s", "tw2sp", "hk2s", "s2t", "s2tw", "s2twp", "s2hk"}

// New builds a converter for an OpenCC conversion name such as "t2s".
// An empty mode or "none" yields a converter that returns text unchanged.
func New(mode string) (Converter, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" || mode == "none" {
		return passthrough{}, nil
	}
	if !validMode(mode) {
		return nil, fmt.Errorf("textconv: unsupported conversion %q (supported: %s)", mode, strings.Join(Modes, ", "))
	}

	cc, err := opencc.New(mode)
	if err != nil {
		return nil, fmt.Errorf("textconv: load %s dictionaries: %w", mode, err)
	}
	return &openCC{mode: mode, cc: cc}, nil
}

func validMode(mode string) bool {
	for _, m := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// openCC serializes access to the underlying converter, which keeps
// internal buffers between calls.
type openCC struct {
	mode string
	mu   sync.Mutex
	cc   *opencc.OpenCC
}

func (o *openCC) Convert(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	out, err := o.cc.Convert(text)
	if err != nil {
		return "", fmt.Errorf("textconv: %s: %w", o.mode, err)
	}
	return out, nil
}

func (o *openCC) Mode() string { return o.mode }

type passthrough struct{}

func (passthrough) Convert(text string) (string, error) { return text, nil }
func (passthrough) Mode() string                        { return "none" }
