// Package sine provides a tts.Backend that renders a pure tone instead of
// speech. It needs no model server and is meant for development machines and
// smoke tests of the full request path.
package sine

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/MrWong99/minestream/pkg/audio"
	"github.com/MrWong99/minestream/pkg/provider/tts"
)

var _ tts.Backend = (*Backend)(nil)

const (
	// Frequency of the generated tone in Hz.
	Frequency = 440.0

	// Duration of each generated clip in seconds at speed 1.0.
	Duration = 1.0

	amplitude = 0.5
)

// Backend generates a fixed-length tone at [audio.CanonicalSampleRate] for
// every request. It is safe for concurrent use.
type Backend struct {
	device string
	loaded atomic.Bool
}

// New returns a tone backend that reports device as its device class.
func New(device string) *Backend {
	if device == "" {
		device = tts.DeviceCPU
	}
	return &Backend{device: device}
}

// Load marks the backend ready.
func (b *Backend) Load(context.Context) error {
	b.loaded.Store(true)
	return nil
}

// Design returns a single tone waveform.
func (b *Backend) Design(ctx context.Context, req tts.DesignRequest) ([]tts.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, errors.New("sine: text must not be empty")
	}
	return []tts.Waveform{Tone(req.Speed)}, nil
}

// Clone returns a single tone waveform. The reference audio must be present
// but is otherwise ignored.
func (b *Backend) Clone(ctx context.Context, req tts.CloneRequest) ([]tts.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, errors.New("sine: text must not be empty")
	}
	if len(req.Reference) == 0 {
		return nil, errors.New("sine: clone requires reference audio")
	}
	return []tts.Waveform{Tone(req.Speed)}, nil
}

// Device returns the configured device class.
func (b *Backend) Device() string { return b.device }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Tone renders [Duration] seconds of a [Frequency] Hz sine, shortened by speed.
func Tone(speed float64) tts.Waveform {
	if speed <= 0 {
		speed = 1
	}
	n := int(float64(audio.CanonicalSampleRate) * Duration / speed)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / audio.CanonicalSampleRate
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*Frequency*t))
	}
	return tts.Waveform{Samples: samples, SampleRate: audio.CanonicalSampleRate}
}
