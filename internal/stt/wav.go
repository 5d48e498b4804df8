package stt

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// WAVInfo describes the source format of a decoded WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DecodeWAV reads a PCM WAV file and returns 16kHz mono float32 samples.
// Multi-channel audio is downmixed by averaging channels.
func DecodeWAV(filePath string) ([]float32, WAVInfo, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, WAVInfo{}, fmt.Errorf("not a valid WAV file: %s", filePath)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("decode WAV: %w", err)
	}

	info := WAVInfo{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	L_debug("stt: WAV header", "sampleRate", info.SampleRate, "channels", info.Channels, "bitDepth", info.BitDepth)

	samples := intBufferToInt16(buf, info.BitDepth)
	if info.Channels > 1 {
		samples = toMono(samples, info.Channels)
	}
	samples = resampleInt16(samples, info.SampleRate, targetSampleRate)

	return int16ToFloat32(samples), info, nil
}

// intBufferToInt16 scales go-audio integer samples of any bit depth to int16.
func intBufferToInt16(buf *audio.IntBuffer, bitDepth int) []int16 {
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case bitDepth == 8:
			// 8-bit WAV is unsigned
			out[i] = int16((v - 128) << 8) // #nosec G115 - audio samples
		case bitDepth > 16:
			out[i] = int16(v >> (bitDepth - 16)) // #nosec G115 - audio samples
		default:
			out[i] = int16(v) // #nosec G115 - audio samples
		}
	}
	return out
}
