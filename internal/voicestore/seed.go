package voicestore

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultSeeds returns the designed voices that ship with a fresh install.
func DefaultSeeds() []Profile {
	return []Profile{
		{
			Name:   "Epic Narrator",
			Tag:    "Story",
			Kind:   KindDesigned,
			Prompt: "A deep, resonant, and authoritative male voice, perfect for epic storytelling. Speak slowly and with gravitas.",
		},
		{
			Name:   "Cyber System",
			Tag:    "Sci-Fi",
			Kind:   KindDesigned,
			Prompt: "A robotic, clear, and precise female AI voice with a slight metallic resonance. Neutral emotion.",
		},
		{
			Name:   "Whispering Shadow",
			Tag:    "Villain",
			Kind:   KindDesigned,
			Prompt: "A raspy, low-pitched whisper with a sinister and mysterious tone. Speak with hesitation.",
		},
	}
}

// Seed creates every profile in seeds whose name is not already present in
// store. It is idempotent across restarts and returns the number of profiles
// created. An error aborts seeding and returns the count so far.
func Seed(ctx context.Context, store Store, seeds []Profile) (int, error) {
	existing, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("voicestore: seed: %w", err)
	}
	names := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		names[p.Name] = struct{}{}
	}

	created := 0
	for _, seed := range seeds {
		if _, ok := names[seed.Name]; ok {
			slog.Debug("voicestore: seed voice already present", "name", seed.Name)
			continue
		}
		p := seed
		if p.Kind == "" {
			p.Kind = KindDesigned
		}
		p.ID = ""
		if err := store.Create(ctx, &p); err != nil {
			return created, fmt.Errorf("voicestore: seed %q: %w", seed.Name, err)
		}
		names[p.Name] = struct{}{}
		created++
		slog.Info("voicestore: seeded voice", "name", p.Name, "voice_id", p.ID)
	}
	return created, nil
}
