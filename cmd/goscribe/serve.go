package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/config"
	httpapi "github.com/roelfdiedericks/goscribe/internal/http"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/media"
	"github.com/roelfdiedericks/goscribe/internal/paths"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/textconv"
	"github.com/roelfdiedericks/goscribe/internal/transcribe"
)

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Listen   string `short:"l" help:"Listen address (overrides config), e.g. :5000"`
	Model    string `short:"m" help:"whisper.cpp model file name (overrides config)"`
	NoReload bool   `help:"Do not reload the model when its file changes"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.HTTP.Listen = c.Listen
	}
	if c.Model != "" {
		cfg.STT.WhisperCpp.Model = c.Model
	}
	if dir, err := paths.ExpandTilde(cfg.STT.WhisperCpp.ModelsDir); err == nil {
		cfg.STT.WhisperCpp.ModelsDir = dir
	}

	L_info("goscribe starting", "version", version, "provider", cfg.STT.Provider, "listen", cfg.HTTP.Listen)

	converter, err := textconv.New(cfg.Convert)
	if err != nil {
		return err
	}

	store, err := media.NewTempStore(cfg.Media)
	if err != nil {
		return err
	}
	store.Start()
	defer store.Close()

	// A missing model is not fatal: the server answers 503 until it appears.
	provider, err := stt.New(cfg.STT)
	if err != nil {
		L_error("serve: model failed to load, requests will be refused", "error", err)
		provider = nil
	}

	svc := transcribe.NewService(provider, converter, store, cfg.STT.Options(), cfg.Queue)
	defer svc.Close()

	if cfg.STT.Provider == stt.ProviderWhisperCpp && !c.NoReload {
		watcher, err := startModelWatcher(cfg, svc)
		if err != nil {
			L_warn("serve: model watcher disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	server, err := httpapi.NewServer(cfg.HTTP, svc)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	server.SetModel(modelLabel(cfg))
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	L_info("goscribe ready", "addr", server.Addr(), "loaded", svc.Loaded(), "convert", converter.Mode())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	SetShuttingDown()
	L_info("goscribe shutting down", "signal", sig.String())
	return server.Stop()
}

// startModelWatcher reloads the whisper model when its file is replaced,
// e.g. after "goscribe models download" into a running server's directory.
func startModelWatcher(cfg *config.Config, svc *transcribe.Service) (*stt.ModelWatcher, error) {
	wc := cfg.STT.WhisperCpp
	if err := paths.EnsureDir(wc.ModelsDir); err != nil {
		return nil, err
	}
	watcher, err := stt.NewModelWatcher(wc.ModelsDir, wc.Model, 2*time.Second, func() {
		if IsShuttingDown() {
			return
		}
		provider, err := stt.New(cfg.STT)
		if err != nil {
			L_error("serve: model reload failed, keeping current model", "error", err)
			return
		}
		svc.Reload(provider)
	})
	if err != nil {
		return nil, err
	}
	watcher.Start()
	return watcher, nil
}

func modelLabel(cfg *config.Config) string {
	switch cfg.STT.Provider {
	case stt.ProviderWhisperCpp:
		return cfg.STT.WhisperCpp.Model
	case stt.ProviderOpenAI:
		return cfg.STT.OpenAI.Model
	case stt.ProviderGroq:
		return cfg.STT.Groq.Model
	}
	return ""
}
