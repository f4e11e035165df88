package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MrWong99/minestream/internal/voicestore"
)

func TestSelect(t *testing.T) {
	t.Parallel()

	const def = "default voice"
	cloned := &voicestore.Profile{
		ID: "c1", Kind: voicestore.KindCloned,
		ReferenceAudioPath: "/vault/voices/c1.wav",
	}
	clonedWithPrompt := &voicestore.Profile{
		ID: "c2", Kind: voicestore.KindLocked, Prompt: "bright and fast",
		ReferenceAudioPath: "/vault/voices/c2.wav", Transcript: "hello there",
	}
	designed := &voicestore.Profile{ID: "d1", Kind: voicestore.KindDesigned, Prompt: "a raspy whisper"}
	inert := &voicestore.Profile{ID: "i1", Kind: voicestore.KindDesigned, Prompt: "   "}

	tests := []struct {
		name        string
		voicePrompt string
		profile     *voicestore.Profile
		want        Strategy
	}{
		{
			name: "nothing given",
			want: Strategy{Mode: ModeDesign, Source: SourceDefault, Instruction: def},
		},
		{
			name:        "inline prompt only",
			voicePrompt: "an old sailor",
			want:        Strategy{Mode: ModeDesign, Source: SourceInline, Instruction: "an old sailor"},
		},
		{
			name:        "inline prompt beats reference audio",
			voicePrompt: "an old sailor",
			profile:     clonedWithPrompt,
			want:        Strategy{Mode: ModeDesign, Source: SourceInline, Instruction: "an old sailor"},
		},
		{
			name:        "blank inline prompt is ignored",
			voicePrompt: " \t",
			profile:     designed,
			want:        Strategy{Mode: ModeDesign, Source: SourceProfile, Instruction: "a raspy whisper", ProfileID: "d1"},
		},
		{
			name:    "reference audio selects clone",
			profile: cloned,
			want:    Strategy{Mode: ModeClone, Source: SourceProfile, ReferencePath: "/vault/voices/c1.wav", ProfileID: "c1"},
		},
		{
			name:    "reference audio beats profile prompt",
			profile: clonedWithPrompt,
			want: Strategy{
				Mode: ModeClone, Source: SourceProfile, ReferencePath: "/vault/voices/c2.wav",
				Transcript: "hello there", ProfileID: "c2",
			},
		},
		{
			name:    "profile prompt selects design",
			profile: designed,
			want:    Strategy{Mode: ModeDesign, Source: SourceProfile, Instruction: "a raspy whisper", ProfileID: "d1"},
		},
		{
			name:    "inert profile degrades to default",
			profile: inert,
			want:    Strategy{Mode: ModeDesign, Source: SourceDefault, Instruction: def, ProfileID: "i1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Select(tt.voicePrompt, tt.profile, def))
		})
	}
}

func TestSelect_IsDeterministic(t *testing.T) {
	t.Parallel()
	p := &voicestore.Profile{ID: "x", Kind: voicestore.KindCloned, ReferenceAudioPath: "/a.wav", Prompt: "p"}
	first := Select("", p, "d")
	for range 10 {
		assert.Equal(t, first, Select("", p, "d"))
	}
	assert.Equal(t, "clone", first.String())
}
