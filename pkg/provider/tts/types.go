package tts

import "github.com/MrWong99/minestream/pkg/audio"

// Device classes reported by [Backend.Device].
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Quantization modes accepted by model loaders.
const (
	QuantFP16 = "fp16"
	QuantInt8 = "int8"
	QuantNone = "none"
)

// Waveform is one synthesised utterance.
type Waveform struct {
	// Samples are mono float samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// PCM converts w to interleaved mono int16 PCM at its native rate.
func (w Waveform) PCM() audio.PCM16 {
	return audio.PCM16{
		Data:       audio.FloatToPCM16(w.Samples),
		SampleRate: w.SampleRate,
		Channels:   1,
	}
}

// DesignRequest asks a backend to synthesise text in a described voice.
type DesignRequest struct {
	// Text is the utterance to speak.
	Text string

	// Instruction is the natural-language voice description.
	Instruction string

	// Speed is the speaking-rate multiplier (1.0 = natural).
	Speed float64

	// Language is an optional language hint (e.g., "en", "auto").
	Language string
}

// CloneRequest asks a backend to synthesise text in a reference speaker's voice.
type CloneRequest struct {
	// Text is the utterance to speak.
	Text string

	// Reference holds the canonical WAV bytes of the reference recording.
	Reference []byte

	// ReferenceName identifies the reference in logs and multipart uploads.
	ReferenceName string

	// Transcript optionally holds what is said in the reference recording.
	// Empty selects embedding-only mode.
	Transcript string

	// Speed is the speaking-rate multiplier (1.0 = natural).
	Speed float64

	// Language is an optional language hint.
	Language string
}

// EmbeddingOnly reports whether the request carries no transcript.
func (r CloneRequest) EmbeddingOnly() bool {
	return r.Transcript == ""
}

// LoadOptions carries the model placement settings handed to backend factories.
type LoadOptions struct {
	// ModelPaths lists the model checkpoints to load (design, clone).
	ModelPaths []string

	// UseGPU requests CUDA placement when available.
	UseGPU bool

	// Quantization is one of QuantFP16, QuantInt8 or QuantNone.
	Quantization string
}

// Device returns the device class implied by o.
func (o LoadOptions) Device() string {
	if o.UseGPU {
		return DeviceCUDA
	}
	return DeviceCPU
}
