package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
		kind string
	}{
		{name: "nil", err: nil, want: http.StatusOK, kind: "ok"},
		{name: "validation", err: Validation(errors.New("name must not be empty")), want: http.StatusBadRequest, kind: "validation"},
		{name: "wrapped not found", err: fmt.Errorf("voicestore: get %q: %w", "abc", ErrNotFound), want: http.StatusNotFound, kind: "not_found"},
		{name: "storage", err: Storage("audiostore: write", errors.New("disk full")), want: http.StatusInternalServerError, kind: "storage"},
		{name: "inference", err: Inference(errors.New("CUDA OOM")), want: http.StatusInternalServerError, kind: "inference"},
		{name: "unclassified", err: errors.New("boom"), want: http.StatusInternalServerError, kind: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
			if got := Kind(tt.err); got != tt.kind {
				t.Errorf("Kind() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestWrappersKeepCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("CUDA out of memory")
	err := Inference(cause)
	if !errors.Is(err, cause) || !errors.Is(err, ErrInference) {
		t.Errorf("Inference() lost a chain member: %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Errorf("message %q does not carry backend text", err)
	}

	if Validation(nil) != nil || Storage("x", nil) != nil || Inference(nil) != nil {
		t.Error("wrapping nil must return nil")
	}
}
