package voicestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/minestream/internal/failure"
)

// IDLength is the number of hex characters in a generated profile ID.
const IDLength = 8

// ErrDuplicateID is returned by Create when a profile with the same ID
// already exists. Callers that generated the ID should retry with a new one.
var ErrDuplicateID = errors.New("voicestore: profile with that id already exists")

// Store provides create, get and list for voice profiles.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create validates and inserts a new profile. An empty ID is replaced by
	// a generated one; CreatedAt is set by the store. Returns
	// [ErrDuplicateID] if a profile with the same ID already exists.
	Create(ctx context.Context, p *Profile) error

	// Get retrieves a profile by ID. Returns an error wrapping
	// [failure.ErrNotFound] if no such profile exists.
	Get(ctx context.Context, id string) (*Profile, error)

	// List returns all profiles in insertion order.
	List(ctx context.Context) ([]Profile, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// NewID returns a fresh short profile ID drawn from a random UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// notFound builds the error returned by Get for a missing profile.
func notFound(id string) error {
	return fmt.Errorf("voicestore: profile %q: %w", id, failure.ErrNotFound)
}
