package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/zeozeozeo/gomplerate"
)

const (
	targetSampleRate = 16000 // Whisper.cpp requires 16kHz
	maxFrameSize     = 5760  // Max Opus frame size (120ms at 48kHz)
)

// ffmpegLookup is swapped in tests.
var ffmpegLookup = func() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ConvertToFloat32 converts an audio file to 16kHz mono float32 samples.
// This is the format required by Whisper.cpp.
// ffmpeg handles every container (browser WebM/Opus included). Without it,
// WAV is decoded in Go and OGG/Opus goes through the pure Go decoder.
func ConvertToFloat32(ctx context.Context, filePath string) ([]float32, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	if ffmpegLookup() {
		L_debug("stt: using ffmpeg", "file", filePath, "ext", ext)
		return convertWithFFmpeg(ctx, filePath)
	}

	switch ext {
	case ".wav", ".wave":
		samples, _, err := DecodeWAV(filePath)
		return samples, err
	case ".ogg", ".opus", ".oga":
		// pion/opus is unreliable and panics on some files
		samples, err := convertOggOpusPureGoSafe(filePath)
		if err != nil {
			return nil, fmt.Errorf("OGG decoding failed (%v), install ffmpeg for reliable audio conversion: %w", err, ErrFFmpegNotFound)
		}
		return samples, nil
	}

	return nil, fmt.Errorf("unsupported audio format %s without ffmpeg: %w", ext, ErrFFmpegNotFound)
}

// convertOggOpusPureGoSafe wraps convertOggOpusPureGo with panic recovery.
func convertOggOpusPureGoSafe(filePath string) (samples []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			L_warn("stt: pure Go decoder panicked, recovered", "panic", r)
			err = fmt.Errorf("decoder panic: %v", r)
			samples = nil
		}
	}()
	return convertOggOpusPureGo(filePath)
}

// convertOggOpusPureGo decodes OGG/Opus to 16kHz mono float32 using pure Go.
func convertOggOpusPureGo(filePath string) ([]float32, error) {
	L_debug("stt: decoding OGG/Opus", "file", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	ogg, header, err := oggreader.NewWith(file)
	if err != nil {
		return nil, fmt.Errorf("parse OGG container: %w", err)
	}

	sampleRate := int(header.SampleRate)
	channels := int(header.Channels)
	L_debug("stt: OGG header", "sampleRate", sampleRate, "channels", channels)

	decoder := opus.NewDecoder()
	outBuf := make([]byte, maxFrameSize*channels*2) // *2 for 16-bit samples

	var allSamples []int16
	for {
		segments, _, err := ogg.ParseNextPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse OGG page: %w", err)
		}

		// Each segment is an Opus packet
		for _, segment := range segments {
			if len(segment) == 0 {
				continue
			}

			clear(outBuf)
			_, _, err := decoder.Decode(segment, outBuf)
			if err != nil {
				L_trace("stt: skipping packet", "error", err, "len", len(segment))
				continue
			}

			allSamples = append(allSamples, bytesToInt16(outBuf)...)
		}
	}

	if len(allSamples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", filePath)
	}

	if channels > 1 {
		allSamples = toMono(allSamples, channels)
	}

	if sampleRate != targetSampleRate {
		L_debug("stt: resampling", "from", sampleRate, "to", targetSampleRate)
		allSamples = resampleInt16(allSamples, sampleRate, targetSampleRate)
	}

	result := int16ToFloat32(allSamples)
	L_debug("stt: conversion complete", "samples", len(result), "duration", samplesDuration(len(result)))

	return result, nil
}

// bytesToInt16 converts a byte buffer to int16 samples (little-endian),
// stopping at the trailing run of zeros left in an oversized decode buffer.
func bytesToInt16(buf []byte) []int16 {
	end := len(buf) &^ 1
	for end >= 2 && binary.LittleEndian.Uint16(buf[end-2:end]) == 0 {
		end -= 2
	}

	samples := make([]int16, end/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2])) // #nosec G115 - audio samples
	}
	return samples
}

// toMono converts multi-channel audio to mono by averaging channels.
func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	mono := make([]int16, len(samples)/channels)
	for i := 0; i < len(mono); i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels)) // #nosec G115 - safe: channels is small (1-8)
	}
	return mono
}

// resampleInt16 converts audio from one sample rate to another using gomplerate.
func resampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 {
		return samples
	}

	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		L_warn("stt: resampler creation failed, skipping resample", "error", err)
		return samples
	}
	return resampler.ResampleInt16(samples)
}

// int16ToFloat32 converts int16 samples to float32 normalized to [-1, 1].
func int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / 32768.0
	}
	return result
}

// pcm16LEToFloat32 converts raw signed 16-bit little-endian PCM to float32.
func pcm16LEToFloat32(raw []byte) []float32 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2])) // #nosec G115 - audio samples
	}
	return int16ToFloat32(samples)
}

// convertWithFFmpeg uses ffmpeg to convert audio to 16kHz mono PCM.
func convertWithFFmpeg(ctx context.Context, inputPath string) ([]float32, error) {
	tmpFile, err := os.CreateTemp("", "goscribe-*.raw")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// #nosec G204 - inputPath is a temp file we created
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", targetSampleRate),
		"-ac", "1",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-y",
		tmpPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		L_debug("stt: ffmpeg output", "output", string(output))
		return nil, fmt.Errorf("ffmpeg conversion failed: %w", err)
	}

	rawData, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}

	return pcm16LEToFloat32(rawData), nil
}
