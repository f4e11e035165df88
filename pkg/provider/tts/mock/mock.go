// Package mock provides a test double for the tts.Backend interface.
//
// Use Backend to feed controlled waveforms to the orchestrator and to verify
// which entry point was called with which parameters.
//
// Example:
//
//	b := &mock.Backend{
//	    DesignResult: []tts.Waveform{{Samples: []float32{0, 0.5}, SampleRate: 24000}},
//	    CloneErr:     errors.New("speaker encoder failed"),
//	}
//	o := orchestrator.New(b, profiles, outputs)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// DesignCall records a single invocation of Design.
type DesignCall struct {
	// Ctx is the context passed to Design.
	Ctx context.Context
	// Req is the request passed to Design.
	Req tts.DesignRequest
}

// CloneCall records a single invocation of Clone.
type CloneCall struct {
	// Ctx is the context passed to Clone.
	Ctx context.Context
	// Req is the request passed to Clone.
	Req tts.CloneRequest
}

// Backend is a mock implementation of tts.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// DesignResult is returned by Design.
	DesignResult []tts.Waveform

	// DesignErr, if non-nil, is returned as the error from Design.
	DesignErr error

	// CloneResult is returned by Clone.
	CloneResult []tts.Waveform

	// CloneErr, if non-nil, is returned as the error from Clone.
	CloneErr error

	// LoadErr, if non-nil, is returned as the error from Load.
	LoadErr error

	// DeviceName is returned by Device. Defaults to "cpu".
	DeviceName string

	// Delay, if positive, is slept inside Design and Clone to simulate
	// inference time.
	Delay time.Duration

	// --- Call records ---

	// DesignCalls records every call to Design in order.
	DesignCalls []DesignCall

	// CloneCalls records every call to Clone in order.
	CloneCalls []CloneCall

	// LoadCalls counts calls to Load.
	LoadCalls int

	// inFlight counts Design/Clone calls currently running.
	inFlight int

	// MaxInFlight is the highest number of Design/Clone calls observed
	// running at the same time.
	MaxInFlight int
}

// Load records the call and returns LoadErr.
func (b *Backend) Load(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoadCalls++
	return b.LoadErr
}

// Design records the call and returns DesignResult, DesignErr.
func (b *Backend) Design(ctx context.Context, req tts.DesignRequest) ([]tts.Waveform, error) {
	b.mu.Lock()
	b.DesignCalls = append(b.DesignCalls, DesignCall{Ctx: ctx, Req: req})
	res, err := b.DesignResult, b.DesignErr
	b.mu.Unlock()

	b.simulate()
	return res, err
}

// Clone records the call and returns CloneResult, CloneErr.
func (b *Backend) Clone(ctx context.Context, req tts.CloneRequest) ([]tts.Waveform, error) {
	b.mu.Lock()
	req.Reference = append([]byte(nil), req.Reference...)
	b.CloneCalls = append(b.CloneCalls, CloneCall{Ctx: ctx, Req: req})
	res, err := b.CloneResult, b.CloneErr
	b.mu.Unlock()

	b.simulate()
	return res, err
}

// Device returns DeviceName or "cpu".
func (b *Backend) Device() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DeviceName == "" {
		return tts.DeviceCPU
	}
	return b.DeviceName
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Designs returns a copy of the recorded Design calls. Thread-safe.
func (b *Backend) Designs() []DesignCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DesignCall(nil), b.DesignCalls...)
}

// Clones returns a copy of the recorded Clone calls. Thread-safe.
func (b *Backend) Clones() []CloneCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CloneCall(nil), b.CloneCalls...)
}

// PeakConcurrency returns MaxInFlight. Thread-safe.
func (b *Backend) PeakConcurrency() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.MaxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DesignCalls = nil
	b.CloneCalls = nil
	b.LoadCalls = 0
	b.MaxInFlight = 0
}

func (b *Backend) simulate() {
	b.mu.Lock()
	b.inFlight++
	b.MaxInFlight = max(b.MaxInFlight, b.inFlight)
	delay := b.Delay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
}

// Ensure Backend implements tts.Backend at compile time.
var _ tts.Backend = (*Backend)(nil)
