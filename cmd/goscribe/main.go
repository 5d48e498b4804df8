// goscribe serves Mandarin speech-to-text over HTTP using a local whisper.cpp model.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/roelfdiedericks/goscribe/internal/config"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

var version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	ConfigFile string `name:"config" short:"c" help:"Path to goscribe.json (default: ./goscribe.json, then ~/.goscribe/goscribe.json)" type:"path"`
	Debug      bool   `short:"d" help:"Enable debug logging"`
	Trace      bool   `help:"Enable trace logging"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve      ServeCmd      `cmd:"" default:"1" help:"Run the transcription HTTP server"`
	Transcribe TranscribeCmd `cmd:"" help:"Transcribe a WAV file with a local model and print the text"`
	Models     ModelsCmd     `cmd:"" help:"Manage whisper.cpp models"`
	Config     ConfigCmd     `cmd:"" help:"Manage the configuration file"`
	Version    VersionCmd    `cmd:"" help:"Print version"`
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("goscribe %s\n", version)
	return nil
}

// setupLogging initializes the logger from config, letting flags raise the level.
func setupLogging(g *Globals, cfg *config.Config) {
	level := LevelInfo
	if cfg != nil && cfg.Log.Level != "" {
		level = ParseLevel(cfg.Log.Level)
	}
	if g.Debug && level < LevelDebug {
		level = LevelDebug
	}
	if g.Trace {
		level = LevelTrace
	}
	Init(&Settings{
		Level:      level,
		TimeFormat: "15:04:05",
		ShowCaller: level >= LevelDebug,
	})
}

// loadConfig loads the config and initializes logging from it.
func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.Load(g.ConfigFile)
	if err != nil {
		setupLogging(g, nil)
		return nil, err
	}
	setupLogging(g, cfg)
	if cfg.Path() != "" {
		L_debug("config: using file", "path", cfg.Path())
	} else {
		L_debug("config: no file found, using defaults")
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("goscribe"),
		kong.Description("Speech-to-text server for Mandarin audio, backed by whisper.cpp."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
