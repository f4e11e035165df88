package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// BackendFallback implements [tts.Backend] with failover across several
// inference endpoints. Each endpoint has its own circuit breaker. Requests the
// backend rejected ([tts.ErrRejected]) and cancelled contexts are neither
// retried elsewhere nor counted against the endpoint.
type BackendFallback struct {
	group *FallbackGroup[tts.Backend]
}

// Compile-time interface assertion.
var _ tts.Backend = (*BackendFallback)(nil)

// pinger is implemented by backends that can report their own reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewBackendFallback creates a [BackendFallback] with primary as the
// preferred endpoint. Unset classification hooks in cfg default to
// [IsPermanent].
func NewBackendFallback(primary tts.Backend, primaryName string, cfg FallbackConfig) *BackendFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = IsPermanent
	}
	if cfg.CircuitBreaker.IsFailure == nil {
		permanent := cfg.Permanent
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return err != nil && !permanent(err)
		}
	}
	return &BackendFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// IsPermanent reports errors that another endpoint would not fix: backend
// rejections and caller cancellation.
func IsPermanent(err error) bool {
	return errors.Is(err, tts.ErrRejected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// AddFallback registers an additional endpoint. It must be called before the
// backend is shared.
func (f *BackendFallback) AddFallback(name string, b tts.Backend) {
	f.group.AddFallback(name, b)
}

// Load loads every endpoint. It succeeds when at least one endpoint loaded;
// the failures of the others are logged and left to their breakers.
func (f *BackendFallback) Load(ctx context.Context) error {
	var errs []error
	f.group.Each(func(name string, b tts.Backend, _ State) {
		if err := b.Load(ctx); err != nil {
			slog.Warn("backend endpoint failed to load", "endpoint", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	if len(errs) == f.group.Len() {
		return fmt.Errorf("resilience: load: %w", errors.Join(errs...))
	}
	return nil
}

// Design renders req on the first healthy endpoint.
func (f *BackendFallback) Design(ctx context.Context, req tts.DesignRequest) ([]tts.Waveform, error) {
	return ExecuteWithResult(ctx, f.group, func(b tts.Backend) ([]tts.Waveform, error) {
		return b.Design(ctx, req)
	})
}

// Clone renders req on the first healthy endpoint.
func (f *BackendFallback) Clone(ctx context.Context, req tts.CloneRequest) ([]tts.Waveform, error) {
	return ExecuteWithResult(ctx, f.group, func(b tts.Backend) ([]tts.Waveform, error) {
		return b.Clone(ctx, req)
	})
}

// Device reports the device class of the first endpoint whose breaker is not
// open.
func (f *BackendFallback) Device() string {
	device := ""
	f.group.Each(func(_ string, b tts.Backend, s State) {
		if device == "" && s != StateOpen {
			device = b.Device()
		}
	})
	if device == "" {
		return f.group.Primary().Device()
	}
	return device
}

// Ping succeeds when any endpoint answers. Endpoints that cannot ping count as
// reachable unless their breaker is open.
func (f *BackendFallback) Ping(ctx context.Context) error {
	var errs []error
	ok := false
	f.group.Each(func(name string, b tts.Backend, s State) {
		if ok {
			return
		}
		p, canPing := b.(pinger)
		if !canPing {
			if s == StateOpen {
				errs = append(errs, fmt.Errorf("%s: %w", name, ErrCircuitOpen))
				return
			}
			ok = true
			return
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		ok = true
	})
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Close closes every endpoint.
func (f *BackendFallback) Close() error {
	var errs []error
	f.group.Each(func(name string, b tts.Backend, _ State) {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}
