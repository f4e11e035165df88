// Package audiostore persists audio for MineStream: uploaded reference clips
// (converted to the canonical WAV format when possible) and generated speech.
//
// Both areas sit on a [Blobs] backend, either a directory ([DirBlobs]) or a
// NATS JetStream object store bucket ([NATSBlobs]). Objects are immutable and
// never overwritten; generated names are random so that repeated identical
// requests produce distinct files.
package audiostore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/MrWong99/minestream/internal/failure"
	"github.com/MrWong99/minestream/internal/observe"
	"github.com/MrWong99/minestream/internal/transcode"
)

const (
	// GeneratedPrefix starts every generated output file name.
	GeneratedPrefix = "gen_"

	// Extension is the file extension of stored audio.
	Extension = ".wav"

	// generateAttempts bounds retries when a random output name collides.
	generateAttempts = 3
)

// Area labels for metrics and logs.
const (
	AreaUpload = "upload"
	AreaOutput = "output"
)

// Store is the audio persistence layer. It is safe for concurrent use.
type Store struct {
	uploads    Blobs
	outputs    Blobs
	transcoder transcode.Transcoder
	metrics    *observe.Metrics
	newName    func() string
}

// Option configures a [Store].
type Option func(*Store)

// WithTranscoder sets the transcoder applied to uploads. Defaults to
// [transcode.Default].
func WithTranscoder(t transcode.Transcoder) Option {
	return func(s *Store) { s.transcoder = t }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns a Store writing reference uploads to uploads and generated
// speech to outputs.
func New(uploads, outputs Blobs, opts ...Option) *Store {
	s := &Store{
		uploads: uploads,
		outputs: outputs,
		newName: func() string {
			id := uuid.New()
			return GeneratedPrefix + hex.EncodeToString(id[:]) + Extension
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.transcoder == nil {
		s.transcoder = transcode.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// UploadName returns the object name an upload for id is stored under.
func UploadName(id string) string { return id + Extension }

// StoreUpload converts data to canonical WAV and stores it under a name
// derived from suggestedID, returning its location. If conversion fails the
// raw bytes are stored unchanged and a warning is logged. An existing object
// with the same name yields [ErrExists].
func (s *Store) StoreUpload(ctx context.Context, data []byte, suggestedID string) (string, error) {
	if len(data) == 0 {
		return "", failure.Validation(errors.New("audiostore: upload is empty"))
	}
	if err := ValidateName(suggestedID); err != nil {
		return "", err
	}
	name := UploadName(suggestedID)

	payload, err := s.transcoder.Transcode(ctx, data)
	if err != nil {
		observe.Logger(ctx).Warn("upload transcoding failed, storing raw bytes",
			"file", name, "bytes", len(data), "err", err)
		s.metrics.UploadTranscodeFallbacks.Add(ctx, 1)
		payload = data
	}

	loc, err := s.uploads.Create(ctx, name, payload)
	if err != nil {
		return "", fmt.Errorf("audiostore: store upload: %w", err)
	}
	s.metrics.RecordBytesWritten(ctx, AreaUpload, len(payload))
	return loc, nil
}

// StoreGenerated stores wav under a freshly generated unique name and returns
// that name.
func (s *Store) StoreGenerated(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", failure.Validation(errors.New("audiostore: generated audio is empty"))
	}
	var lastErr error
	for range generateAttempts {
		name := s.newName()
		_, err := s.outputs.Create(ctx, name, wav)
		if err == nil {
			s.metrics.RecordBytesWritten(ctx, AreaOutput, len(wav))
			return name, nil
		}
		if !errors.Is(err, ErrExists) {
			return "", fmt.Errorf("audiostore: store generated: %w", err)
		}
		lastErr = err
	}
	return "", failure.Storage("audiostore: store generated", lastErr)
}

// Retrieve opens the generated file filename. Names that would escape the
// output area are rejected with a validation error.
func (s *Store) Retrieve(ctx context.Context, filename string) (io.ReadCloser, error) {
	loc, err := s.outputs.Locate(filename)
	if err != nil {
		return nil, err
	}
	return s.outputs.Open(ctx, loc)
}

// OpenUpload opens the stored upload at location.
func (s *Store) OpenUpload(ctx context.Context, location string) (io.ReadCloser, error) {
	return s.uploads.Open(ctx, location)
}

// ReadReference reads the full upload at location, typically a profile's
// reference clip.
func (s *Store) ReadReference(ctx context.Context, location string) ([]byte, error) {
	rc, err := s.uploads.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, failure.Storage("audiostore: read "+location, err)
	}
	return data, nil
}

// RemoveUpload deletes the upload at location. It is used to undo an upload
// whose profile could not be recorded.
func (s *Store) RemoveUpload(ctx context.Context, location string) error {
	return s.uploads.Remove(ctx, location)
}
