package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/roelfdiedericks/goscribe/internal/config"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

// ConfigCmd groups configuration commands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a config file with default values"`
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration"`
}

// ConfigInitCmd writes the default configuration.
type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Where to write (default ~/.goscribe/goscribe.json)" type:"path"`
	Force bool   `short:"f" help:"Overwrite an existing file (a .bak copy is kept)"`
}

func (c *ConfigInitCmd) Run(g *Globals) error {
	setupLogging(g, nil)

	path := c.Path
	if path == "" {
		var err error
		if path, err = paths.DefaultConfigPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// ConfigShowCmd prints the merged configuration with secrets masked.
type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	masked := *cfg
	masked.STT.OpenAI.APIKey = mask(masked.STT.OpenAI.APIKey)
	masked.STT.Groq.APIKey = mask(masked.STT.Groq.APIKey)

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return err
	}
	if cfg.Path() != "" {
		fmt.Printf("# %s\n", cfg.Path())
	}
	fmt.Println(string(data))
	return nil
}

func mask(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
