// Package cloning manages the lifecycle of voice profiles: creating them from
// uploaded reference audio (extract, lock) or from a description (design),
// listing them, and serving their reference audio back.
//
// Creating an audio-backed profile touches two systems, the audio store and
// the profile store, with no transaction spanning both. [Service] runs it as
// a small saga: write the file, then insert the row; if the insert fails the
// file is removed again. A failed file write never reaches the insert.
package cloning

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/minestream/internal/audiostore"
	"github.com/MrWong99/minestream/internal/failure"
	"github.com/MrWong99/minestream/internal/observe"
	"github.com/MrWong99/minestream/internal/voicestore"
)

// maxIDAttempts bounds how often a colliding profile id is regenerated.
const maxIDAttempts = 3

// Audio is the subset of [audiostore.Store] the service needs.
type Audio interface {
	StoreUpload(ctx context.Context, data []byte, suggestedID string) (string, error)
	RemoveUpload(ctx context.Context, location string) error
	OpenUpload(ctx context.Context, location string) (io.ReadCloser, error)
}

// ExtractRequest creates a cloned profile.
type ExtractRequest struct {
	Audio      []byte
	Name       string
	Tag        string
	Transcript string
}

// LockRequest creates a locked profile. The tag is always [voicestore.LockedTag].
type LockRequest struct {
	Audio      []byte
	Name       string
	Prompt     string
	Transcript string
}

// DesignRequest creates a designed profile. No audio is stored.
type DesignRequest struct {
	Name   string
	Tag    string
	Prompt string
}

// Service is safe for concurrent use.
type Service struct {
	profiles voicestore.Store
	audio    Audio
	metrics  *observe.Metrics
	newID    func() string
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New returns a Service over the given stores.
func New(profiles voicestore.Store, audio Audio, opts ...Option) *Service {
	s := &Service{
		profiles: profiles,
		audio:    audio,
		newID:    voicestore.NewID,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Extract stores a reference recording and creates a cloned profile for it.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*voicestore.Profile, error) {
	return s.createWithAudio(ctx, &voicestore.Profile{
		Name:       req.Name,
		Tag:        req.Tag,
		Kind:       voicestore.KindCloned,
		Transcript: req.Transcript,
	}, req.Audio)
}

// Lock stores a recording of a voice worth keeping and creates a locked
// profile for it.
func (s *Service) Lock(ctx context.Context, req LockRequest) (*voicestore.Profile, error) {
	return s.createWithAudio(ctx, &voicestore.Profile{
		Name:       req.Name,
		Tag:        voicestore.LockedTag,
		Kind:       voicestore.KindLocked,
		Prompt:     req.Prompt,
		Transcript: req.Transcript,
	}, req.Audio)
}

// Design creates a designed profile from a voice description.
func (s *Service) Design(ctx context.Context, req DesignRequest) (*voicestore.Profile, error) {
	p := &voicestore.Profile{
		Name:   req.Name,
		Tag:    req.Tag,
		Kind:   voicestore.KindDesigned,
		Prompt: req.Prompt,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var err error
	for range maxIDAttempts {
		p.ID = s.newID()
		err = s.profiles.Create(ctx, p)
		if !errors.Is(err, voicestore.ErrDuplicateID) {
			break
		}
	}
	if err != nil {
		return nil, s.idExhausted(err)
	}
	s.created(ctx, p)
	return p, nil
}

// createWithAudio runs the write-file-then-insert-row saga for p.
func (s *Service) createWithAudio(ctx context.Context, p *voicestore.Profile, data []byte) (*voicestore.Profile, error) {
	// Validate everything except the location, which does not exist yet.
	candidate := *p
	candidate.ReferenceAudioPath = "pending"
	var errs []error
	if err := candidate.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(data) == 0 {
		errs = append(errs, failure.Validation(errors.New("cloning: audio upload is empty")))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	log := observe.Logger(ctx)
	var lastErr error
	for range maxIDAttempts {
		id := s.newID()

		loc, err := s.audio.StoreUpload(ctx, data, id)
		if errors.Is(err, audiostore.ErrExists) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cloning: store reference audio: %w", err)
		}

		p.ID = id
		p.ReferenceAudioPath = loc
		err = s.profiles.Create(ctx, p)
		if err == nil {
			s.created(ctx, p)
			return p, nil
		}

		// Undo the file even if the caller has gone away.
		if rmErr := s.audio.RemoveUpload(context.WithoutCancel(ctx), loc); rmErr != nil {
			log.Error("failed to remove reference audio after insert failure",
				"voice_id", id, "file", loc, "err", rmErr)
		}
		p.ID, p.ReferenceAudioPath = "", ""

		if !errors.Is(err, voicestore.ErrDuplicateID) {
			return nil, err
		}
		lastErr = err
	}
	return nil, s.idExhausted(lastErr)
}

func (s *Service) idExhausted(err error) error {
	if errors.Is(err, voicestore.ErrDuplicateID) || errors.Is(err, audiostore.ErrExists) {
		return failure.Storage("cloning: allocate profile id",
			fmt.Errorf("%d attempts collided: %w", maxIDAttempts, err))
	}
	return err
}

func (s *Service) created(ctx context.Context, p *voicestore.Profile) {
	s.metrics.RecordProfileCreated(ctx, string(p.Kind))
	observe.Logger(ctx).Info("voice profile created",
		"voice_id", p.ID, "name", p.Name, "kind", p.Kind)
}

// List returns every profile in its client-facing form.
func (s *Service) List(ctx context.Context) ([]voicestore.Record, error) {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloning: list: %w", err)
	}
	records := make([]voicestore.Record, 0, len(profiles))
	for i := range profiles {
		records = append(records, profiles[i].Record())
	}
	return records, nil
}

// Download opens the reference audio of profile voiceID. Profiles without
// audio, and profiles whose file has gone missing, yield
// [failure.ErrNotFound].
func (s *Service) Download(ctx context.Context, voiceID string) (io.ReadCloser, error) {
	p, err := s.profiles.Get(ctx, voiceID)
	if err != nil {
		return nil, err
	}
	if !p.HasReference() {
		return nil, fmt.Errorf("cloning: voice %q has no reference audio: %w", voiceID, failure.ErrNotFound)
	}
	rc, err := s.audio.OpenUpload(ctx, p.ReferenceAudioPath)
	if err != nil {
		return nil, fmt.Errorf("cloning: download %q: %w", voiceID, err)
	}
	return rc, nil
}
