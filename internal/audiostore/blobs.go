package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/minestream/internal/failure"
)

// ErrExists is returned by [Blobs.Create] when an object with the requested
// name already exists. Objects are never overwritten.
var ErrExists = errors.New("audiostore: object already exists")

// maxNameLength bounds object names to what common filesystems accept.
const maxNameLength = 255

// Blobs is a flat namespace of immutable audio objects. A location is the
// backend-specific address returned by Create; callers persist it verbatim
// (for example as a profile's reference audio path) and hand it back to Open.
//
// Implementations must be safe for concurrent use.
type Blobs interface {
	// Create writes data under name. It fails with [ErrExists] if the name
	// is taken and never leaves a partially written object visible.
	Create(ctx context.Context, name string, data []byte) (location string, err error)

	// Open returns a reader for the object at location. Missing objects
	// yield an error matching [failure.ErrNotFound].
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// Remove deletes the object at location. Removing a missing object is
	// not an error.
	Remove(ctx context.Context, location string) error

	// Locate returns the location name would have. It validates name but
	// does not check existence.
	Locate(name string) (string, error)
}

// ValidateName reports whether name is usable as a flat object name: it must
// be non-empty, contain no path separators or NUL bytes, and must not start
// with a dot (which also rules out "." and "..").
func ValidateName(name string) error {
	switch {
	case name == "":
		return failure.Validation(errors.New("audiostore: empty file name"))
	case len(name) > maxNameLength:
		return failure.Validation(fmt.Errorf("audiostore: file name longer than %d bytes", maxNameLength))
	case strings.ContainsAny(name, "/\\\x00"):
		return failure.Validation(fmt.Errorf("audiostore: file name %q contains a path separator", name))
	case strings.HasPrefix(name, "."):
		return failure.Validation(fmt.Errorf("audiostore: file name %q must not start with a dot", name))
	}
	return nil
}

func notFound(location string) error {
	return fmt.Errorf("audiostore: %q: %w", location, failure.ErrNotFound)
}
