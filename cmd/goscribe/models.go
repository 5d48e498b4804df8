package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/roelfdiedericks/goscribe/internal/paths"
	"github.com/roelfdiedericks/goscribe/internal/stt"
)

// ModelsCmd groups model management commands.
type ModelsCmd struct {
	List     ModelsListCmd     `cmd:"" default:"1" help:"List known models and which are downloaded"`
	Download ModelsDownloadCmd `cmd:"" help:"Download a model into the models directory"`
}

// ModelsListCmd prints the model catalog.
type ModelsListCmd struct {
	Dir string `help:"Models directory (default from config)" type:"path"`
}

func (c *ModelsListCmd) Run(g *Globals) error {
	dir, err := modelsDir(g, c.Dir)
	if err != nil {
		return err
	}

	fmt.Printf("Models directory: %s\n\n", dir)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLABEL\tSIZE\tSTATUS")
	for _, m := range stt.ListModels(dir) {
		status := "-"
		if m.Downloaded {
			status = "downloaded"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Label, m.Size, status)
	}
	return tw.Flush()
}

// ModelsDownloadCmd fetches a model from the catalog.
type ModelsDownloadCmd struct {
	Name string `arg:"" optional:"" default:"ggml-base.bin" help:"Model file name, e.g. ggml-small.bin"`
	Dir  string `help:"Models directory (default from config)" type:"path"`
}

func (c *ModelsDownloadCmd) Run(g *Globals) error {
	dir, err := modelsDir(g, c.Dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, err := stt.EnsureModel(ctx, dir, c.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Model ready: %s\n", path)
	return nil
}

// modelsDir resolves the models directory from the flag, then config.
func modelsDir(g *Globals, flagDir string) (string, error) {
	if flagDir != "" {
		setupLogging(g, nil)
		return flagDir, nil
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return "", err
	}
	return paths.ExpandTilde(cfg.STT.WhisperCpp.ModelsDir)
}
