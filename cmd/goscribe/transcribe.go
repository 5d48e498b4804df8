package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/roelfdiedericks/goscribe/internal/stt"
	"github.com/roelfdiedericks/goscribe/internal/textconv"
)

// TranscribeCmd loads a model straight from disk and transcribes one WAV file,
// without the server, queue or provider layers.
type TranscribeCmd struct {
	Audio     string `arg:"" optional:"" default:"test_audio.wav" help:"WAV file to transcribe"`
	ModelsDir string `default:"models" help:"Directory holding the model file"`
	Model     string `default:"ggml-base.bin" help:"Model file name inside the models directory"`
	Language  string `default:"zh" help:"Spoken language"`
	BeamSize  int    `default:"5" help:"Beam search width"`
	Convert   string `default:"t2s" help:"OpenCC conversion applied to the text (none to disable)"`
}

func (c *TranscribeCmd) Run(g *Globals) error {
	setupLogging(g, nil)
	return c.run(os.Stdout)
}

func (c *TranscribeCmd) run(out io.Writer) error {
	fmt.Fprintln(out, "开始进行语音识别...")

	modelsDir, _ := filepath.Abs(c.ModelsDir)
	audioPath, _ := filepath.Abs(c.Audio)

	if info, err := os.Stat(modelsDir); err != nil || !info.IsDir() {
		fmt.Fprintf(out, "错误: 找不到模型目录 at '%s'\n", modelsDir)
		return nil
	}
	if _, err := os.Stat(audioPath); err != nil {
		fmt.Fprintf(out, "错误: 找不到音频文件 at '%s'\n", audioPath)
		return nil
	}

	text, err := c.transcribe(out, modelsDir, audioPath)
	if err != nil {
		fmt.Fprintf(out, "执行过程中发生错误: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "\n--- 识别结果 ---")
	fmt.Fprintln(out, text)
	fmt.Fprintln(out, "------------------")
	return nil
}

func (c *TranscribeCmd) transcribe(out io.Writer, modelsDir, audioPath string) (string, error) {
	converter, err := textconv.New(c.Convert)
	if err != nil {
		return "", err
	}

	modelPath := filepath.Join(modelsDir, c.Model)
	fmt.Fprintf(out, "正在从本地路径 '%s' 加载模型...\n", modelPath)
	model, err := whisper.New(modelPath)
	if err != nil {
		return "", fmt.Errorf("load model: %w", err)
	}
	defer model.Close()
	fmt.Fprintln(out, "模型加载完成。")

	fmt.Fprintf(out, "正在读取音频文件: %s\n", audioPath)
	samples, info, err := stt.DecodeWAV(audioPath)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "音频: %d Hz, %d 声道, %d 位\n", info.SampleRate, info.Channels, info.BitDepth)

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(c.Language); err != nil {
		return "", fmt.Errorf("set language %q: %w", c.Language, err)
	}
	if c.BeamSize > 0 {
		wctx.SetBeamSize(c.BeamSize)
	}

	fmt.Fprintln(out, "正在进行语音识别...")
	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		sb.WriteString(segment.Text)
	}
	fmt.Fprintf(out, "识别耗时: %s\n", time.Since(start).Round(time.Millisecond))

	return converter.Convert(strings.TrimSpace(sb.String()))
}
