// Package media persists uploaded audio to temporary files for transcription.
// Types are detected from magic bytes, not from the client's filename.
package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExt is used when the detected type has no known extension.
// Browser MediaRecorder output is WebM/Opus.
const DefaultExt = ".webm"

// containerTypes are accepted even though they are not under audio/ or video/.
var containerTypes = map[string]bool{
	"application/ogg": true,
}

// DetectMIME returns the MIME type and file extension from magic bytes.
func DetectMIME(data []byte) (mimeType, ext string) {
	mt := mimetype.Detect(data)
	ext = mt.Extension()
	if ext == "" {
		ext = DefaultExt
	}
	return mt.String(), ext
}

// IsAudio reports whether the detected type (or any of its parents) is audio or
// video. Video containers carry the audio track browsers record.
func IsAudio(data []byte) bool {
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		s := mt.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") || containerTypes[s] {
			return true
		}
	}
	return false
}
