package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/minestream/pkg/provider/tts"
	"github.com/MrWong99/minestream/pkg/provider/tts/mock"
)

var tone = []tts.Waveform{{Samples: []float32{0, 0.25, -0.25}, SampleRate: 24000}}

// pingingBackend adds a Ping method to the mock.
type pingingBackend struct {
	*mock.Backend
	pingErr error
}

func (p pingingBackend) Ping(context.Context) error { return p.pingErr }

func newBackendFallback(primary, secondary tts.Backend) *BackendFallback {
	f := NewBackendFallback(primary, "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	f.AddFallback("b", secondary)
	return f
}

func TestBackendFallback_DesignFailover(t *testing.T) {
	primary := &mock.Backend{DesignErr: errors.New("connection refused")}
	secondary := &mock.Backend{DesignResult: tone}
	f := newBackendFallback(primary, secondary)

	got, err := f.Design(context.Background(), tts.DesignRequest{Text: "hello", Instruction: "calm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].SampleRate != 24000 {
		t.Fatalf("got %+v, want the secondary waveform", got)
	}
	if n := len(secondary.Designs()); n != 1 {
		t.Fatalf("secondary called %d times, want 1", n)
	}
	if req := secondary.Designs()[0].Req; req.Text != "hello" || req.Instruction != "calm" {
		t.Errorf("secondary got %+v", req)
	}

	// The primary's breaker is open now, so the next call goes straight to b.
	if _, err := f.Design(context.Background(), tts.DesignRequest{Text: "again"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(primary.Designs()); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
}

func TestBackendFallback_CloneFailover(t *testing.T) {
	primary := &mock.Backend{CloneErr: errors.New("502 bad gateway")}
	secondary := &mock.Backend{CloneResult: tone}
	f := newBackendFallback(primary, secondary)

	_, err := f.Clone(context.Background(), tts.CloneRequest{Text: "hi", Reference: []byte("RIFF")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(secondary.Clones()); n != 1 {
		t.Fatalf("secondary called %d times, want 1", n)
	}
}

func TestBackendFallback_RejectedIsNotRetried(t *testing.T) {
	rejected := fmt.Errorf("qwen: bad reference: %w", tts.ErrRejected)
	primary := &mock.Backend{CloneErr: rejected}
	secondary := &mock.Backend{CloneResult: tone}
	f := newBackendFallback(primary, secondary)

	for range 3 {
		_, err := f.Clone(context.Background(), tts.CloneRequest{Text: "hi"})
		if !errors.Is(err, tts.ErrRejected) {
			t.Fatalf("err = %v, want ErrRejected", err)
		}
		if errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, rejection must not be reported as host failure", err)
		}
	}
	if n := len(primary.Clones()); n != 3 {
		t.Errorf("primary called %d times, want 3 (breaker must stay closed)", n)
	}
	if n := len(secondary.Clones()); n != 0 {
		t.Errorf("secondary called %d times, want 0", n)
	}
}

func TestBackendFallback_AllFail(t *testing.T) {
	f := newBackendFallback(
		&mock.Backend{DesignErr: errors.New("down")},
		&mock.Backend{DesignErr: errors.New("also down")},
	)
	_, err := f.Design(context.Background(), tts.DesignRequest{Text: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestBackendFallback_Load(t *testing.T) {
	tests := []struct {
		name       string
		primaryErr error
		backupErr  error
		wantErr    bool
	}{
		{name: "both load"},
		{name: "primary down", primaryErr: errors.New("oom")},
		{name: "both down", primaryErr: errors.New("oom"), backupErr: errors.New("oom"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			primary := &mock.Backend{LoadErr: tc.primaryErr}
			secondary := &mock.Backend{LoadErr: tc.backupErr}
			err := newBackendFallback(primary, secondary).Load(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tc.wantErr)
			}
			if primary.LoadCalls != 1 || secondary.LoadCalls != 1 {
				t.Errorf("load calls = %d/%d, want 1/1", primary.LoadCalls, secondary.LoadCalls)
			}
		})
	}
}

func TestBackendFallback_Device(t *testing.T) {
	primary := &mock.Backend{DeviceName: tts.DeviceCUDA, DesignErr: errors.New("down")}
	secondary := &mock.Backend{DeviceName: tts.DeviceCPU, DesignResult: tone}
	f := newBackendFallback(primary, secondary)

	if got := f.Device(); got != tts.DeviceCUDA {
		t.Fatalf("Device() = %q, want %q", got, tts.DeviceCUDA)
	}
	_, _ = f.Design(context.Background(), tts.DesignRequest{Text: "trip"})
	if got := f.Device(); got != tts.DeviceCPU {
		t.Fatalf("Device() = %q after primary tripped, want %q", got, tts.DeviceCPU)
	}
}

func TestBackendFallback_Ping(t *testing.T) {
	down := errors.New("no route to host")
	tests := []struct {
		name    string
		a, b    error
		wantErr bool
	}{
		{name: "primary up"},
		{name: "secondary up", a: down},
		{name: "all down", a: down, b: down, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newBackendFallback(
				pingingBackend{Backend: &mock.Backend{}, pingErr: tc.a},
				pingingBackend{Backend: &mock.Backend{}, pingErr: tc.b},
			)
			err := f.Ping(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("Ping() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && !errors.Is(err, down) {
				t.Errorf("Ping() error = %v, want it to wrap the endpoint error", err)
			}
		})
	}
}

func TestBackendFallback_PingWithoutPinger(t *testing.T) {
	f := newBackendFallback(&mock.Backend{}, &mock.Backend{})
	if err := f.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() = %v, want nil", err)
	}
}

func TestBackendFallback_Close(t *testing.T) {
	f := newBackendFallback(&mock.Backend{}, &mock.Backend{})
	if err := f.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("wrap: %w", tts.ErrRejected), true},
		{context.Canceled, true},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{errors.New("connection reset"), false},
	}
	for _, tc := range tests {
		if got := IsPermanent(tc.err); got != tc.want {
			t.Errorf("IsPermanent(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
