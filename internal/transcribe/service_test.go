package transcribe

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/media"
	"github.com/roelfdiedericks/goscribe/internal/metrics"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/textconv"
)

// fakeProvider records calls and returns canned results.
type fakeProvider struct {
	text    string
	err     error
	block   chan struct{} // if set, Transcribe waits on it
	started chan struct{} // if set, signalled when Transcribe begins

	mu        sync.Mutex
	paths     []string
	existed   []bool
	opts      []stt.Options
	closed    atomic.Bool
	callCount atomic.Int32
}

func (f *fakeProvider) Transcribe(ctx context.Context, path string, opts stt.Options) (*stt.Result, error) {
	f.callCount.Add(1)
	_, statErr := os.Stat(path)
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.existed = append(f.existed, statErr == nil)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Result{Text: f.text, Language: "zh", Duration: 2 * time.Second}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Close() error {
	f.closed.Store(true)
	return nil
}

func wavBytes() []byte {
	b := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00\x00\x7d\x00\x00\x02\x00\x10\x00data\x00\x00\x00\x00")
	return append(b, make([]byte, 64)...)
}

func newTestService(t *testing.T, p stt.Provider, qc QueueConfig) *Service {
	t.Helper()
	store, err := media.NewTempStore(media.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := textconv.New("t2s")
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(p, conv, store, stt.Options{Language: "zh", BeamSize: 5}, qc)
	svc.SetMetrics(metrics.New())
	return svc
}

func TestTranscribeNotLoaded(t *testing.T) {
	svc := newTestService(t, nil, QueueConfig{})
	if svc.Loaded() {
		t.Fatal("service with nil provider reports loaded")
	}
	_, err := svc.Transcribe(context.Background(), wavBytes())
	if !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("got %v, want ErrModelNotLoaded", err)
	}
}

func TestTranscribeConvertsAndCleansUp(t *testing.T) {
	fp := &fakeProvider{text: "漢語語音識別"}
	svc := newTestService(t, fp, QueueConfig{})

	out, err := svc.Transcribe(context.Background(), wavBytes())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Text != "汉语语音识别" {
		t.Errorf("text = %q", out.Text)
	}
	if out.Language != "zh" || out.Duration != 2*time.Second {
		t.Errorf("unexpected output: %+v", out)
	}

	if len(fp.paths) != 1 || !fp.existed[0] {
		t.Fatalf("provider did not see the temp file: %+v", fp.paths)
	}
	if _, err := os.Stat(fp.paths[0]); !os.IsNotExist(err) {
		t.Errorf("temp file not removed after transcription")
	}
	if fp.opts[0].Language != "zh" || fp.opts[0].BeamSize != 5 {
		t.Errorf("options not passed through: %+v", fp.opts[0])
	}
}

func TestActiveGaugeReturnsToZero(t *testing.T) {
	fp := &fakeProvider{text: "ok"}
	svc := newTestService(t, fp, QueueConfig{})
	m := metrics.New()
	svc.SetMetrics(m)

	if _, err := svc.Transcribe(context.Background(), wavBytes()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if svc.Active() != 0 {
		t.Fatalf("Active() = %d after request finished", svc.Active())
	}
	snap, ok := m.GetSnapshot()["transcribe/active"]
	if !ok {
		t.Fatal("active gauge not recorded")
	}
	g, ok := snap.Data.(metrics.GaugeSnapshot)
	if !ok {
		t.Fatalf("unexpected gauge data %T", snap.Data)
	}
	if g.Value != 0 || g.Max != 1 {
		t.Errorf("gauge = %+v, want value 0 max 1", g)
	}
}

func TestTranscribeProviderErrorRemovesFile(t *testing.T) {
	fp := &fakeProvider{err: errors.New("decoder exploded")}
	svc := newTestService(t, fp, QueueConfig{})

	_, err := svc.Transcribe(context.Background(), wavBytes())
	if err == nil || err.Error() != "decoder exploded" {
		t.Fatalf("got %v", err)
	}
	if _, statErr := os.Stat(fp.paths[0]); !os.IsNotExist(statErr) {
		t.Errorf("temp file not removed after failure")
	}
}

func TestTranscribeRejectsEmpty(t *testing.T) {
	fp := &fakeProvider{text: "x"}
	svc := newTestService(t, fp, QueueConfig{})

	_, err := svc.Transcribe(context.Background(), nil)
	if !errors.Is(err, media.ErrEmpty) {
		t.Fatalf("got %v, want media.ErrEmpty", err)
	}
	if fp.callCount.Load() != 0 {
		t.Error("provider called for empty input")
	}
}

func TestTranscribeQueueFull(t *testing.T) {
	fp := &fakeProvider{text: "ok", block: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := newTestService(t, fp, QueueConfig{MaxConcurrent: 1, MaxQueue: 0})

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Transcribe(context.Background(), wavBytes())
		firstDone <- err
	}()
	<-fp.started

	_, err := svc.Transcribe(context.Background(), wavBytes())
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}

	close(fp.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if svc.Active() != 0 {
		t.Errorf("active = %d after completion", svc.Active())
	}
}

func TestTranscribeCanceledWhileQueued(t *testing.T) {
	fp := &fakeProvider{text: "ok", block: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := newTestService(t, fp, QueueConfig{MaxConcurrent: 1, MaxQueue: 1})

	go func() {
		_, _ = svc.Transcribe(context.Background(), wavBytes())
	}()
	<-fp.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Transcribe(ctx, wavBytes())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if fp.callCount.Load() != 1 {
		t.Errorf("queued request reached the provider")
	}
	close(fp.block)
}

func TestReloadClosesOldProvider(t *testing.T) {
	oldP := &fakeProvider{text: "old"}
	newP := &fakeProvider{text: "new"}
	svc := newTestService(t, oldP, QueueConfig{})

	svc.Reload(newP)
	if svc.ProviderName() != "fake" {
		t.Errorf("provider name = %q", svc.ProviderName())
	}

	deadline := time.Now().Add(2 * time.Second)
	for !oldP.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("old provider never closed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	out, err := svc.Transcribe(context.Background(), wavBytes())
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "new" {
		t.Errorf("text = %q, want new provider output", out.Text)
	}

	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if !newP.closed.Load() || svc.Loaded() {
		t.Error("Close did not release provider")
	}
}

func TestFailureReason(t *testing.T) {
	tests := map[error]string{
		ErrModelNotLoaded:     "not_loaded",
		ErrBusy:               "busy",
		media.ErrTooLarge:     "bad_input",
		context.Canceled:      "canceled",
		stt.ErrFFmpegNotFound: "ffmpeg",
		errors.New("boom"):    "model",
	}
	for err, want := range tests {
		if got := failureReason(err); got != want {
			t.Errorf("failureReason(%v) = %q, want %q", err, got, want)
		}
	}
}
