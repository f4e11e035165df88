// Package orchestrator turns synthesis requests into stored speech.
//
// For each request it resolves a [Strategy] (design from an instruction, or
// clone from a reference recording), drives the shared model backend through
// a FIFO [Gate] so that at most one inference runs at a time, applies the
// clone-to-design fallback, and hands the canonical WAV to audio persistence.
// Callers get back the generated file name, never the audio itself.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/minestream/internal/failure"
	"github.com/MrWong99/minestream/internal/observe"
	"github.com/MrWong99/minestream/internal/voicestore"
	"github.com/MrWong99/minestream/pkg/audio"
	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// DefaultInstruction is the voice description used when a request names no
// usable voice, and after a failed clone.
const DefaultInstruction = "A clear, natural and neutral voice speaking at a steady, even pace."

// Profiles resolves voice ids. [voicestore.Store] satisfies it.
type Profiles interface {
	Get(ctx context.Context, id string) (*voicestore.Profile, error)
}

// Audio stores generated speech and reads reference recordings.
// [audiostore.Store] satisfies it.
type Audio interface {
	StoreGenerated(ctx context.Context, wav []byte) (string, error)
	ReadReference(ctx context.Context, location string) ([]byte, error)
}

// Request is a single synthesis request.
type Request struct {
	// Text is the utterance to speak. Required.
	Text string

	// VoiceID optionally references a stored profile.
	VoiceID string

	// VoicePrompt is an inline voice description. It takes precedence over
	// VoiceID.
	VoicePrompt string

	// Speed is the speaking-rate multiplier. Zero means 1.0.
	Speed float64
}

// normalize validates r and fills defaults.
func (r *Request) normalize() error {
	var errs []error
	if strings.TrimSpace(r.Text) == "" {
		errs = append(errs, errors.New("orchestrator: text must not be empty"))
	}
	switch {
	case math.IsNaN(r.Speed) || math.IsInf(r.Speed, 0) || r.Speed < 0:
		errs = append(errs, fmt.Errorf("orchestrator: speed must be a positive number, got %v", r.Speed))
	case r.Speed == 0:
		r.Speed = 1.0
	}
	return failure.Validation(errors.Join(errs...))
}

// Result describes stored speech.
type Result struct {
	// Filename is the generated output file name.
	Filename string

	// Text echoes the request text.
	Text string

	// Strategy is the strategy that produced the audio. After a clone
	// fallback it is the design strategy actually used.
	Strategy Strategy

	// Fallback reports whether a failed clone was retried in design mode.
	Fallback bool

	// Latency is the end-to-end time including queueing and persistence.
	Latency time.Duration
}

// Orchestrator is safe for concurrent use. All backend calls are serialised
// through its gate.
type Orchestrator struct {
	backend  tts.Backend
	profiles Profiles
	audio    Audio
	gate     *Gate
	metrics  *observe.Metrics

	defaultInstruction  string
	fallbackInstruction string
	language            string
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultInstruction overrides the instruction used when a request names
// no usable voice.
func WithDefaultInstruction(s string) Option {
	return func(o *Orchestrator) {
		if s != "" {
			o.defaultInstruction = s
		}
	}
}

// WithFallbackInstruction overrides the instruction used to retry a failed
// clone. Defaults to the default instruction.
func WithFallbackInstruction(s string) Option {
	return func(o *Orchestrator) {
		if s != "" {
			o.fallbackInstruction = s
		}
	}
}

// WithLanguage sets the language hint forwarded to the backend.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator driving backend, which must already be loaded.
func New(backend tts.Backend, profiles Profiles, store Audio, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:            backend,
		profiles:           profiles,
		audio:              store,
		defaultInstruction: DefaultInstruction,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fallbackInstruction == "" {
		o.fallbackInstruction = o.defaultInstruction
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.gate = NewGate(o.metrics)
	return o
}

// Device reports the backend's device class.
func (o *Orchestrator) Device() string {
	return o.backend.Device()
}

// Resolve looks up the request's profile, if it matters, and selects a
// strategy. An unknown voice id is not an error: the request degrades to the
// default instruction.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (Strategy, error) {
	if strings.TrimSpace(req.VoicePrompt) != "" || req.VoiceID == "" {
		return Select(req.VoicePrompt, nil, o.defaultInstruction), nil
	}

	profile, err := o.profiles.Get(ctx, req.VoiceID)
	switch {
	case errors.Is(err, failure.ErrNotFound):
		observe.Logger(ctx).Info("voice not found, using default instruction", "voice_id", req.VoiceID)
		profile = nil
	case err != nil:
		return Strategy{}, fmt.Errorf("orchestrator: resolve voice %q: %w", req.VoiceID, err)
	}
	return Select(req.VoicePrompt, profile, o.defaultInstruction), nil
}

// Generate synthesises req and stores the result.
//
// Waiting for the backend honours ctx. Once the backend call starts it is
// not cancelled, even if the caller goes away.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (_ *Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "orchestrator.generate")
	defer func() { observe.EndSpan(span, err) }()

	if err := req.normalize(); err != nil {
		return nil, err
	}

	strategy, err := o.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	log := observe.Logger(ctx).With("strategy", strategy.String(), "voice_id", strategy.ProfileID)

	var (
		wave     tts.Waveform
		used     = strategy
		fallback bool
	)
	err = o.gate.Do(ctx, func() error {
		var err error
		wave, used, fallback, err = o.synthesize(context.WithoutCancel(ctx), req, strategy)
		return err
	})
	if err != nil {
		o.metrics.RecordSynthesis(ctx, strategy.String(), failure.Kind(err), time.Since(start))
		log.Error("synthesis failed", "err", err)
		return nil, err
	}

	wav := audio.CanonicalWAV(wave.PCM())
	filename, err := o.audio.StoreGenerated(context.WithoutCancel(ctx), wav)
	if err != nil {
		o.metrics.RecordSynthesis(ctx, used.String(), failure.Kind(err), time.Since(start))
		return nil, fmt.Errorf("orchestrator: store output: %w", err)
	}

	latency := time.Since(start)
	o.metrics.RecordSynthesis(ctx, used.String(), "ok", latency)
	log.Info("synthesis complete",
		"file", filename,
		"fallback", fallback,
		"duration", latency,
	)
	return &Result{
		Filename: filename,
		Text:     req.Text,
		Strategy: used,
		Fallback: fallback,
		Latency:  latency,
	}, nil
}

// synthesize runs strategy s on the backend. A clone failure, including a
// reference that cannot be read, is retried exactly once in design mode with
// the fallback instruction. Design failures are terminal.
func (o *Orchestrator) synthesize(ctx context.Context, req Request, s Strategy) (tts.Waveform, Strategy, bool, error) {
	if s.Mode != ModeClone {
		w, err := o.design(ctx, req, s)
		if err != nil {
			return tts.Waveform{}, s, false, failure.Inference(err)
		}
		return w, s, false, nil
	}

	w, cloneErr := o.clone(ctx, req, s)
	if cloneErr == nil {
		return w, s, false, nil
	}

	o.metrics.CloneFallbacks.Add(ctx, 1)
	observe.Logger(ctx).Warn("clone failed, retrying with design",
		"voice_id", s.ProfileID, "err", cloneErr)

	fb := Design(o.fallbackInstruction, SourceDefault)
	fb.ProfileID = s.ProfileID
	w, err := o.design(ctx, req, fb)
	if err != nil {
		return tts.Waveform{}, fb, true, failure.Inference(
			fmt.Errorf("design fallback failed: %w (after clone failure: %v)", err, cloneErr))
	}
	return w, fb, true, nil
}

func (o *Orchestrator) design(ctx context.Context, req Request, s Strategy) (tts.Waveform, error) {
	start := time.Now()
	waves, err := o.backend.Design(ctx, tts.DesignRequest{
		Text:        req.Text,
		Instruction: s.Instruction,
		Speed:       req.Speed,
		Language:    o.language,
	})
	w, err := first(waves, err)
	o.metrics.RecordBackendCall(ctx, string(ModeDesign), callStatus(err), time.Since(start))
	return w, err
}

func (o *Orchestrator) clone(ctx context.Context, req Request, s Strategy) (tts.Waveform, error) {
	ref, err := o.audio.ReadReference(ctx, s.ReferencePath)
	if err != nil {
		return tts.Waveform{}, fmt.Errorf("read reference audio: %w", err)
	}

	start := time.Now()
	waves, err := o.backend.Clone(ctx, tts.CloneRequest{
		Text:          req.Text,
		Reference:     ref,
		ReferenceName: s.ProfileID + ".wav",
		Transcript:    s.Transcript,
		Speed:         req.Speed,
		Language:      o.language,
	})
	w, err := first(waves, err)
	o.metrics.RecordBackendCall(ctx, string(ModeClone), callStatus(err), time.Since(start))
	return w, err
}

// first returns the first waveform of a backend batch.
func first(waves []tts.Waveform, err error) (tts.Waveform, error) {
	if err != nil {
		return tts.Waveform{}, err
	}
	if len(waves) == 0 || len(waves[0].Samples) == 0 {
		return tts.Waveform{}, errors.New("backend returned no audio")
	}
	if waves[0].SampleRate <= 0 {
		return tts.Waveform{}, fmt.Errorf("backend returned invalid sample rate %d", waves[0].SampleRate)
	}
	return waves[0], nil
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
