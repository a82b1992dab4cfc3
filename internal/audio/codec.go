// Package audio holds the device abstraction, the recording container codec
// and the software playback sink.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// Gain is applied to every sample when a recording is encoded. Decoding
	// returns the stored values as-is.
	Gain = 2.0

	bitDepthFloat = 32
	formatPCM     = 1
	formatFloat   = 3
)

// Spec describes the layout of interleaved samples.
type Spec struct {
	Channels   int
	SampleRate int
}

// Track is a decoded recording.
type Track struct {
	Spec    Spec
	Samples []float32 // interleaved
}

// Frames returns the number of sample frames in the track.
func (t *Track) Frames() int {
	if t.Spec.Channels <= 0 {
		return 0
	}
	return len(t.Samples) / t.Spec.Channels
}

// Duration returns the playing time of the track.
func (t *Track) Duration() time.Duration {
	if t.Spec.SampleRate <= 0 {
		return 0
	}
	return time.Duration(t.Frames()) * time.Second / time.Duration(t.Spec.SampleRate)
}

// Encode writes samples as a 32-bit IEEE float WAV, scaled by Gain.
func Encode(w io.WriteSeeker, samples []float32, spec Spec) error {
	if spec.Channels <= 0 || spec.SampleRate <= 0 {
		return fmt.Errorf("invalid spec: %d channels at %d Hz", spec.Channels, spec.SampleRate)
	}

	enc := wav.NewEncoder(w, spec.SampleRate, bitDepthFloat, spec.Channels, formatFloat)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: spec.Channels,
			SampleRate:  spec.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepthFloat,
	}
	// The float container carries raw IEEE-754 bit patterns in the int buffer.
	for i, s := range samples {
		buf.Data[i] = int(math.Float32bits(s * Gain))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	return nil
}

// EncodeBytes encodes samples into an in-memory WAV file.
func EncodeBytes(samples []float32, spec Spec) ([]byte, error) {
	ws := &writeSeeker{}
	if err := Encode(ws, samples, spec); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// Decode reads a WAV file. Float containers are returned untouched; integer
// PCM is normalized to [-1, 1).
func Decode(r io.ReadSeeker) (*Track, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}

	track := &Track{
		Spec: Spec{
			Channels:   int(dec.NumChans),
			SampleRate: int(dec.SampleRate),
		},
		Samples: make([]float32, len(pcm.Data)),
	}

	switch {
	case dec.WavAudioFormat == formatFloat && dec.BitDepth == bitDepthFloat:
		for i, v := range pcm.Data {
			track.Samples[i] = math.Float32frombits(uint32(int32(v)))
		}
	case dec.WavAudioFormat == formatPCM:
		scale := float32(int64(1) << (dec.BitDepth - 1))
		for i, v := range pcm.Data {
			track.Samples[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("unsupported wav format %d at %d bits", dec.WavAudioFormat, dec.BitDepth)
	}
	return track, nil
}

// EncodePCM16Bytes encodes samples as an in-memory 16-bit PCM WAV without
// applying Gain. Speech-to-text servers take this format directly.
func EncodePCM16Bytes(samples []float32, spec Spec) ([]byte, error) {
	if spec.Channels <= 0 || spec.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid spec: %d channels at %d Hz", spec.Channels, spec.SampleRate)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, spec.SampleRate, 16, spec.Channels, formatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: spec.Channels,
			SampleRate:  spec.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * math.MaxInt16)
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}
	return ws.buf, nil
}
