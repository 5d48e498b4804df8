package stt

import (
	"os"
	"path/filepath"
	"strings"
)

// WhisperModel represents an available whisper.cpp model.
type WhisperModel struct {
	Name      string // Filename: "ggml-base.bin"
	Label     string // Display name: "Base Multilingual"
	Size      string // Human readable: "142 MB"
	SizeBytes int64  // For progress calculation
	URL       string // Download URL
}

// Multilingual reports whether the model can transcribe languages other than English.
func (m WhisperModel) Multilingual() bool {
	return !strings.Contains(m.Name, ".en.")
}

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// WhisperModels is the catalog of available whisper.cpp models.
// Models from: https://huggingface.co/ggerganov/whisper.cpp
var WhisperModels = []WhisperModel{
	{Name: "ggml-tiny.bin", Label: "Tiny Multilingual", Size: "75 MB", SizeBytes: 77_700_000},
	{Name: "ggml-tiny.en.bin", Label: "Tiny English", Size: "75 MB", SizeBytes: 77_700_000},
	{Name: "ggml-base.bin", Label: "Base Multilingual", Size: "142 MB", SizeBytes: 147_900_000},
	{Name: "ggml-base.en.bin", Label: "Base English", Size: "142 MB", SizeBytes: 147_900_000},
	{Name: "ggml-small.bin", Label: "Small Multilingual", Size: "466 MB", SizeBytes: 487_600_000},
	{Name: "ggml-medium.bin", Label: "Medium Multilingual", Size: "1.5 GB", SizeBytes: 1_533_800_000},
	{Name: "ggml-large-v3-turbo.bin", Label: "Large V3 Turbo Multilingual", Size: "1.6 GB", SizeBytes: 1_624_600_000},
	{Name: "ggml-large-v3.bin", Label: "Large V3 Multilingual", Size: "3.1 GB", SizeBytes: 3_095_000_000},
}

func init() {
	for i := range WhisperModels {
		if WhisperModels[i].URL == "" {
			WhisperModels[i].URL = modelBaseURL + WhisperModels[i].Name
		}
	}
}

// GetModel returns the model with the given name, or nil if not found.
func GetModel(name string) *WhisperModel {
	for i := range WhisperModels {
		if WhisperModels[i].Name == name {
			return &WhisperModels[i]
		}
	}
	return nil
}

// IsModelDownloaded checks if a model file exists in the given directory.
func IsModelDownloaded(modelsDir, name string) bool {
	if modelsDir == "" || name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(modelsDir, name))
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

// ModelStatus pairs a catalog entry with its local download state.
type ModelStatus struct {
	WhisperModel
	Downloaded bool
}

// ListModels returns the catalog annotated with which models exist in modelsDir.
func ListModels(modelsDir string) []ModelStatus {
	out := make([]ModelStatus, 0, len(WhisperModels))
	for _, m := range WhisperModels {
		out = append(out, ModelStatus{
			WhisperModel: m,
			Downloaded:   IsModelDownloaded(modelsDir, m.Name),
		})
	}
	return out
}
