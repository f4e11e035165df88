// Package audio holds the canonical audio format used by MineStream and the
// PCM helpers that move audio into it.
//
// Every file the service stores or returns is a RIFF/WAVE container holding
// mono, 16-bit little-endian PCM at [CanonicalSampleRate]. Uploaded audio is
// normalised into that shape by the transcoders in internal/transcode, and
// backend waveforms are encoded into it before they are persisted.
package audio

import (
	"errors"
	"fmt"
)

// Canonical format constants.
const (
	// CanonicalSampleRate is the sample rate of every stored waveform.
	CanonicalSampleRate = 24000

	// CanonicalChannels is the channel count of every stored waveform.
	CanonicalChannels = 1

	// CanonicalBitDepth is the PCM sample width of every stored waveform.
	CanonicalBitDepth = 16
)

// Bounds on decoded input. Resampling allocates in proportion to the
// target/source rate ratio, so rates outside this range are refused.
const (
	MinSampleRate = 8000
	MaxSampleRate = 384000
	MaxChannels   = 8
)

// ErrUnsupportedFormat is returned when a sample rate or channel count lies
// outside the supported bounds.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// Canonical is the [Format] every stored waveform is converted to.
var Canonical = Format{SampleRate: CanonicalSampleRate, Channels: CanonicalChannels}

// PCM16 is a buffer of interleaved little-endian int16 samples.
type PCM16 struct {
	// Data holds the interleaved samples, two bytes per sample per channel.
	Data []byte

	// SampleRate in Hz (e.g., 24000, 44100).
	SampleRate int

	// Channels is the number of interleaved channels (1 = mono).
	Channels int
}

// Format returns the sample rate and channel count of p.
func (p PCM16) Format() Format {
	return Format{SampleRate: p.SampleRate, Channels: p.Channels}
}

// Validate reports whether f lies within [MinSampleRate, MaxSampleRate] and
// has between one and [MaxChannels] channels.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d Hz", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	return nil
}
