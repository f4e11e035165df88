// Package failure defines the error taxonomy shared by every MineStream
// component and its mapping onto HTTP status codes.
//
// Components wrap one of the sentinels with context:
//
//	return fmt.Errorf("voicestore: get %q: %w", id, failure.ErrNotFound)
//
// and transports classify with [errors.Is] or [HTTPStatus].
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks a malformed or incomplete request. Nothing was
	// committed and retrying the same request will fail again.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced profile or file that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage marks a read or write failure of the profile catalog or the
	// audio files. Storage operations are not retried automatically.
	ErrStorage = errors.New("storage failure")

	// ErrInference marks a model backend failure that the clone→design
	// fallback did not resolve.
	ErrInference = errors.New("inference failure")
)

// Validation wraps err (typically an [errors.Join] of violations) as a
// validation failure. A nil err returns nil.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// Storage wraps err as a storage failure with op as context.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Inference wraps err as an inference failure. The backend message is kept so
// callers can report it.
func Inference(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInference, err)
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short label for err suitable for metric attributes and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrInference):
		return "inference"
	default:
		return "internal"
	}
}
