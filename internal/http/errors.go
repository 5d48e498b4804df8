package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/roelfdiedericks/goscribe/internal/media"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/transcribe"
)

// Client-facing error messages. The wording is part of the API; front ends
// match on it.
const (
	msgNotLoaded     = "Model is not loaded"
	msgNoFilePart    = "No file part in the request"
	msgNoFileChosen  = "No file selected"
	msgEmptyFile     = "Received an empty audio file"
	msgTooLarge      = "Audio file is too large"
	msgUnsupported   = "Unsupported audio format"
	msgBusy          = "Server is busy, try again later"
	msgFailedPrefix  = "音频处理失败: "
	msgFFmpegMissing = "音频处理失败：后端无法找到 FFMPEG。"
)

// statusFor maps a transcription error to an HTTP status and message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transcribe.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, msgNotLoaded
	case errors.Is(err, transcribe.ErrBusy):
		return http.StatusServiceUnavailable, msgBusy
	case errors.Is(err, media.ErrEmpty):
		return http.StatusBadRequest, msgEmptyFile
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, msgUnsupported
	case errors.Is(err, context.Canceled):
		// 499 is nginx's "client closed request"; nobody reads the body anyway.
		return 499, msgFailedPrefix + err.Error()
	case errors.Is(err, stt.ErrFFmpegNotFound), strings.Contains(strings.ToLower(err.Error()), "ffmpeg"):
		return http.StatusInternalServerError, msgFFmpegMissing
	default:
		return http.StatusInternalServerError, msgFailedPrefix + err.Error()
	}
}
