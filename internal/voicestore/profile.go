// Package voicestore provides persistent storage for voice profiles. A
// [Profile] is a named, reusable voice source: either a reference recording
// that the model clones from, or a natural-language description the model
// designs a voice from.
//
// The primary abstraction is the [Store] interface, which offers create, get
// and list. Profiles are append-only: there is no update or delete path, and
// CreatedAt is never changed after insertion. [PostgresStore] keeps profiles
// in a single voice_profiles table; [MemStore] keeps them in memory for
// development and tests.
package voicestore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/minestream/internal/failure"
)

// Kind determines which synthesis strategy a reference to a profile implies.
type Kind string

const (
	// KindCloned profiles carry reference audio uploaded by a user.
	KindCloned Kind = "cloned"

	// KindLocked profiles carry reference audio captured from a generated
	// voice so that it can be reproduced consistently.
	KindLocked Kind = "locked"

	// KindDesigned profiles carry only a natural-language voice description.
	KindDesigned Kind = "designed"
)

// LockedTag is the fixed tag assigned to locked profiles.
const LockedTag = "Locked"

// Profile is a named, persisted description of a voice.
type Profile struct {
	// ID is the short opaque identifier, generated at creation.
	ID string `yaml:"id" json:"id"`

	// Name is the display name (e.g., "Epic Narrator").
	Name string `yaml:"name" json:"name"`

	// Tag is a free-form category label (e.g., "Story", "Sci-Fi").
	Tag string `yaml:"tag" json:"tag"`

	// Kind is one of cloned, locked or designed.
	Kind Kind `yaml:"kind" json:"kind"`

	// Prompt is the natural-language voice description. Designed profiles
	// require it; for others it is informational.
	Prompt string `yaml:"prompt" json:"prompt"`

	// ReferenceAudioPath locates the canonical reference waveform. Cloned and
	// locked profiles require it.
	ReferenceAudioPath string `yaml:"-" json:"-"`

	// Transcript optionally holds what is said in the reference recording.
	Transcript string `yaml:"-" json:"-"`

	// CreatedAt is the time the profile was first persisted.
	CreatedAt time.Time `yaml:"-" json:"created_at"`
}

// validKinds is the set of accepted Kind values.
var validKinds = map[Kind]struct{}{
	KindCloned:   {},
	KindLocked:   {},
	KindDesigned: {},
}

// Validate checks the Profile for logical consistency. It returns a
// validation failure joining every violation found, or nil if the profile is
// valid.
func (p *Profile) Validate() error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, fmt.Errorf("voicestore: name must not be empty"))
	}

	if strings.TrimSpace(p.Tag) == "" {
		errs = append(errs, fmt.Errorf("voicestore: tag must not be empty"))
	}

	switch _, ok := validKinds[p.Kind]; {
	case !ok:
		errs = append(errs, fmt.Errorf("voicestore: kind must be \"cloned\", \"locked\", or \"designed\", got %q", p.Kind))
	case p.Kind == KindDesigned && strings.TrimSpace(p.Prompt) == "":
		errs = append(errs, fmt.Errorf("voicestore: designed profile requires a prompt"))
	case p.Kind != KindDesigned && p.ReferenceAudioPath == "":
		errs = append(errs, fmt.Errorf("voicestore: %s profile requires reference audio", p.Kind))
	}

	return failure.Validation(errors.Join(errs...))
}

// HasReference reports whether the profile can drive clone-mode synthesis.
func (p *Profile) HasReference() bool {
	return p.ReferenceAudioPath != ""
}

// Record is the serialisable view of a profile returned to clients. It never
// exposes file locations.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tag       string    `json:"tag"`
	Kind      Kind      `json:"kind"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Record returns the client-facing view of p.
func (p *Profile) Record() Record {
	return Record{
		ID:        p.ID,
		Name:      p.Name,
		Tag:       p.Tag,
		Kind:      p.Kind,
		Prompt:    p.Prompt,
		CreatedAt: p.CreatedAt,
	}
}
