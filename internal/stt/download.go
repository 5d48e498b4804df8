package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliergopher/grab/v3"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

// progressInterval is how often download progress is logged.
var progressInterval = 2 * time.Second

// DownloadModel downloads a whisper model to the specified directory.
// The file is written as <name>.download and renamed once complete.
// Progress is logged via L_info.
func DownloadModel(ctx context.Context, model *WhisperModel, destDir string) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model is nil")
	}

	expandedDir, err := paths.ExpandTilde(destDir)
	if err != nil {
		return "", fmt.Errorf("expand path: %w", err)
	}
	if err := paths.EnsureDir(expandedDir); err != nil {
		return "", fmt.Errorf("create models directory: %w", err)
	}

	destPath := filepath.Join(expandedDir, model.Name)
	tempPath := destPath + ".download"

	L_info("stt: downloading model", "model", model.Name, "size", model.Size, "url", model.URL)

	req, err := grab.NewRequest(tempPath, model.URL)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	client.UserAgent = "goscribe"
	resp := client.Do(req)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

Loop:
	for {
		select {
		case <-ticker.C:
			total := resp.Size()
			if total <= 0 {
				total = model.SizeBytes
			}
			done := resp.BytesComplete()
			percent := 0
			if total > 0 {
				percent = int(float64(done) / float64(total) * 100)
			}
			L_info("stt: downloading",
				"progress", fmt.Sprintf("%d%%", percent),
				"downloaded", fmt.Sprintf("%d/%d MB", done/(1024*1024), total/(1024*1024)),
				"rate", fmt.Sprintf("%.1f MB/s", resp.BytesPerSecond()/(1024*1024)))
		case <-resp.Done:
			break Loop
		}
	}

	if err := resp.Err(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("download %s: %w", model.Name, err)
	}
	if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode >= 300 {
		os.Remove(tempPath)
		return "", fmt.Errorf("download failed: HTTP %d", resp.HTTPResponse.StatusCode)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename file: %w", err)
	}

	L_info("stt: download complete", "model", model.Name, "path", destPath)
	return destPath, nil
}

// EnsureModel downloads the named catalog model into modelsDir unless it is already present.
func EnsureModel(ctx context.Context, modelsDir, name string) (string, error) {
	expandedDir, err := paths.ExpandTilde(modelsDir)
	if err != nil {
		return "", fmt.Errorf("expand path: %w", err)
	}
	if IsModelDownloaded(expandedDir, name) {
		L_debug("stt: model already present", "model", name, "dir", expandedDir)
		return filepath.Join(expandedDir, name), nil
	}

	model := GetModel(name)
	if model == nil {
		return "", fmt.Errorf("model not in catalog: %s", name)
	}
	return DownloadModel(ctx, model, expandedDir)
}
