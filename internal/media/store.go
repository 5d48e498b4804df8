package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

const (
	// DefaultTTL is how long an orphaned upload may live before the sweeper removes it.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxBytes is the maximum accepted upload size (25MB).
	DefaultMaxBytes = 25 * 1024 * 1024

	filePrefix = "upload-"
)

var (
	ErrEmpty           = errors.New("empty audio file")
	ErrTooLarge        = errors.New("audio file too large")
	ErrUnsupportedType = errors.New("unsupported audio type")
)

// Config configures the TempStore
type Config struct {
	Dir      string `json:"dir"`      // Base directory (default: <os temp>/goscribe)
	TTL      int    `json:"ttl"`      // Orphan TTL in seconds (default: 600)
	MaxBytes int64  `json:"maxBytes"` // Max upload size in bytes (default: 25MB)
}

// TempStore writes uploads to uniquely named files and sweeps leftovers.
type TempStore struct {
	baseDir  string
	ttl      time.Duration
	maxBytes int64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Upload is a saved audio file awaiting transcription.
type Upload struct {
	Path     string
	MimeType string
	Size     int
}

// Remove deletes the upload file. Safe to call more than once.
func (u *Upload) Remove() {
	if u == nil || u.Path == "" {
		return
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_warn("media: failed to remove temp file", "path", u.Path, "error", err)
		return
	}
	L_trace("media: removed temp file", "path", u.Path)
}

// NewTempStore creates the store directory and applies defaults.
func NewTempStore(cfg Config) (*TempStore, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "goscribe")
	}
	dir, err := paths.ExpandTilde(dir)
	if err != nil {
		return nil, err
	}
	dir = filepath.Clean(dir)

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	L_info("media: temp store initialized", "dir", dir, "ttl", ttl.String(), "maxBytes", maxBytes)

	return &TempStore{
		baseDir:  dir,
		ttl:      ttl,
		maxBytes: maxBytes,
		stopCh:   make(chan struct{}),
	}, nil
}

// MaxBytes returns the upload size limit.
func (s *TempStore) MaxBytes() int64 {
	return s.maxBytes
}

// Dir returns the directory uploads are written to.
func (s *TempStore) Dir() string {
	return s.baseDir
}

// Save validates data and writes it to a new temp file named by its detected type.
func (s *TempStore) Save(data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), s.maxBytes)
	}
	if !IsAudio(data) {
		mimeType, _ := DetectMIME(data)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	mimeType, ext := DetectMIME(data)
	path := filepath.Join(s.baseDir, filePrefix+uuid.New().String()+ext)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	L_info("media: audio data temporarily saved", "path", path, "mime", mimeType, "size", len(data))

	return &Upload{Path: path, MimeType: mimeType, Size: len(data)}, nil
}

// Start begins the background sweeper for files left behind by crashes.
func (s *TempStore) Start() {
	interval := s.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.sweep()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				L_debug("media: sweeper stopped")
				return
			}
		}
	}()
}

// Close stops the sweeper and waits for it to finish.
func (s *TempStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// sweep removes upload files older than TTL. Returns the number removed.
func (s *TempStore) sweep() int {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		L_warn("media: sweep failed", "dir", s.baseDir, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, e.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		L_debug("media: sweep completed", "removed", removed)
	}
	return removed
}
