// Package tts defines the Backend interface for the neural speech model that
// MineStream drives.
//
// A backend exposes two synthesis entry points. Design renders text in a voice
// described by a natural-language instruction. Clone renders text in the voice
// of a reference recording, optionally guided by a transcript of that
// recording. Both are batch calls: they block until the full waveform batch is
// available and return it in one piece.
//
// Backends are expensive to construct. The process loads exactly one before it
// accepts requests and shares it for its whole lifetime. Unless a backend
// documents otherwise, callers must not invoke Design or Clone concurrently;
// the orchestrator serialises all calls through a single FIFO gate.
package tts

import (
	"context"
	"errors"
)

// ErrRejected marks a backend reply that refused the request itself (bad
// reference audio, unsupported language) rather than failing as a host.
// Backends wrap it so that failover does not count the error against the
// endpoint.
var ErrRejected = errors.New("tts: request rejected")

// Backend is the abstraction over any speech model server or in-process model.
type Backend interface {
	// Load prepares the model for inference. It is called once at startup,
	// before any synthesis call. Implementations should treat repeated calls
	// as no-ops.
	Load(ctx context.Context) error

	// Design synthesises req.Text in a voice described by req.Instruction.
	// The returned batch holds at least one waveform on success; callers use
	// the first.
	Design(ctx context.Context, req DesignRequest) ([]Waveform, error)

	// Clone synthesises req.Text in the voice of the reference recording.
	// When req.Transcript is empty the backend runs in embedding-only mode,
	// using just the speaker embedding of the reference.
	Clone(ctx context.Context, req CloneRequest) ([]Waveform, error)

	// Device reports the device class the model runs on ("cuda" or "cpu").
	Device() string

	// Close releases any resources held by the backend.
	Close() error
}
