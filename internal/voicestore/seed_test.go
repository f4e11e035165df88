package voicestore

import (
	"context"
	"errors"
	"testing"
)

func TestSeed(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	n, err := Seed(ctx, s, DefaultSeeds())
	if err != nil {
		t.Fatalf("Seed() unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("Seed() created %d, want 3", n)
	}

	// Second run is a no-op.
	n, err = Seed(ctx, s, DefaultSeeds())
	if err != nil {
		t.Fatalf("second Seed() unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("second Seed() created %d, want 0", n)
	}

	list, _ := s.List(ctx)
	if len(list) != 3 {
		t.Fatalf("List() = %d profiles, want 3", len(list))
	}
	for _, p := range list {
		if p.Kind != KindDesigned || p.Prompt == "" {
			t.Errorf("seeded profile %q is not a designed voice with a prompt", p.Name)
		}
	}
}

func TestSeed_DefaultsKind(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	n, err := Seed(context.Background(), s, []Profile{{Name: "Bard", Tag: "Fantasy", Prompt: "lilting tenor"}})
	if err != nil || n != 1 {
		t.Fatalf("Seed() = %d, %v", n, err)
	}
	list, _ := s.List(context.Background())
	if list[0].Kind != KindDesigned {
		t.Errorf("Kind = %q, want designed", list[0].Kind)
	}
}

func TestSeed_InvalidSeedStops(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	seeds := []Profile{
		{Name: "Good", Tag: "t", Prompt: "p"},
		{Name: "Bad", Tag: "t"}, // designed without prompt
		{Name: "Never", Tag: "t", Prompt: "p"},
	}
	n, err := Seed(context.Background(), s, seeds)
	if err == nil {
		t.Fatal("Seed() expected error")
	}
	if n != 1 || s.Len() != 1 {
		t.Errorf("Seed() created %d (store has %d), want 1", n, s.Len())
	}
}

type failingList struct{ MemStore }

func (f *failingList) List(context.Context) ([]Profile, error) {
	return nil, errors.New("db down")
}

func TestSeed_ListError(t *testing.T) {
	t.Parallel()

	if _, err := Seed(context.Background(), &failingList{}, DefaultSeeds()); err == nil {
		t.Fatal("Seed() expected error when listing fails")
	}
}
