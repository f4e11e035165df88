package orchestrator

import (
	"strings"

	"github.com/MrWong99/minestream/internal/voicestore"
)

// Mode names the backend entry point a strategy drives.
type Mode string

const (
	// ModeDesign synthesises from a natural-language voice instruction.
	ModeDesign Mode = "design"

	// ModeClone synthesises from a reference recording.
	ModeClone Mode = "clone"
)

// Source records why a strategy was chosen.
type Source string

const (
	// SourceInline means the request carried its own voice prompt.
	SourceInline Source = "inline"

	// SourceProfile means the strategy came from a stored profile.
	SourceProfile Source = "profile"

	// SourceDefault means the built-in default instruction was used.
	SourceDefault Source = "default"
)

// Strategy is the resolved synthesis plan for one request. Exactly one of
// Instruction (design) or ReferencePath (clone) is meaningful, selected by
// Mode.
type Strategy struct {
	Mode   Mode
	Source Source

	// Instruction is the voice description for design mode.
	Instruction string

	// ReferencePath locates the reference audio for clone mode.
	ReferencePath string

	// Transcript optionally accompanies ReferencePath. Empty selects
	// embedding-only cloning.
	Transcript string

	// ProfileID is the profile the strategy was derived from, if any.
	ProfileID string
}

// Design returns a design-mode strategy.
func Design(instruction string, source Source) Strategy {
	return Strategy{Mode: ModeDesign, Source: source, Instruction: instruction}
}

// String returns the strategy label used in responses, logs and metrics.
func (s Strategy) String() string {
	return string(s.Mode)
}

// Select picks the synthesis strategy for a request. It is a pure function
// of its inputs; profile is the resolved profile for the request's voice id,
// or nil when no id was given or it did not resolve.
//
// The first matching rule wins:
//
//  1. A non-blank voicePrompt selects design with that prompt.
//  2. A profile with reference audio selects clone.
//  3. A profile with a prompt selects design with that prompt.
//  4. Anything else selects design with defaultInstruction.
func Select(voicePrompt string, profile *voicestore.Profile, defaultInstruction string) Strategy {
	if strings.TrimSpace(voicePrompt) != "" {
		return Design(voicePrompt, SourceInline)
	}
	if profile == nil {
		return Design(defaultInstruction, SourceDefault)
	}

	switch {
	case profile.HasReference():
		return Strategy{
			Mode:          ModeClone,
			Source:        SourceProfile,
			ReferencePath: profile.ReferenceAudioPath,
			Transcript:    profile.Transcript,
			ProfileID:     profile.ID,
		}
	case strings.TrimSpace(profile.Prompt) != "":
		s := Design(profile.Prompt, SourceProfile)
		s.ProfileID = profile.ID
		return s
	default:
		s := Design(defaultInstruction, SourceDefault)
		s.ProfileID = profile.ID
		return s
	}
}
