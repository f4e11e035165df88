package audiostore

import (
	"context"
	"strings"
	"testing"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/minestream/internal/failure"
)

// startJetStream runs an in-process NATS server with JetStream enabled and
// returns a JetStream handle connected to it.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return js
}

func TestNATSBlobs_CreateOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	js := startJetStream(t)

	b, err := NewNATSBlobs(ctx, js, "voices")
	require.NoError(t, err)

	loc, err := b.Create(ctx, "abc12345.wav", []byte("RIFF-data"))
	require.NoError(t, err)
	assert.Equal(t, "nats://voices/abc12345.wav", loc)

	rc, err := b.Open(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-data"), readAll(t, rc))

	// Bare names resolve in this bucket too.
	rc, err = b.Open(ctx, "abc12345.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-data"), readAll(t, rc))
}

func TestNATSBlobs_BindsExistingBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	js := startJetStream(t)

	first, err := NewNATSBlobs(ctx, js, "generated")
	require.NoError(t, err)
	loc, err := first.Create(ctx, "gen_1.wav", []byte("one"))
	require.NoError(t, err)

	second, err := NewNATSBlobs(ctx, js, "generated")
	require.NoError(t, err)
	rc, err := second.Open(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), readAll(t, rc))
}

func TestNATSBlobs_CreateNeverOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, err := NewNATSBlobs(ctx, startJetStream(t), "voices")
	require.NoError(t, err)

	loc, err := b.Create(ctx, "same.wav", []byte("first"))
	require.NoError(t, err)

	_, err = b.Create(ctx, "same.wav", []byte("second"))
	require.ErrorIs(t, err, ErrExists)

	rc, err := b.Open(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), readAll(t, rc))
}

func TestNATSBlobs_MissingAndRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, err := NewNATSBlobs(ctx, startJetStream(t), "voices")
	require.NoError(t, err)

	_, err = b.Open(ctx, "nats://voices/missing.wav")
	assert.ErrorIs(t, err, failure.ErrNotFound)

	loc, err := b.Create(ctx, "gone.wav", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, b.Remove(ctx, loc))
	require.NoError(t, b.Remove(ctx, loc))

	_, err = b.Open(ctx, loc)
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestNATSBlobs_RejectsForeignLocations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, err := NewNATSBlobs(ctx, startJetStream(t), "voices")
	require.NoError(t, err)

	for _, loc := range []string{
		"nats://other/a.wav",
		"nats://voices/../a.wav",
		"nats://voices",
		"../a.wav",
		".hidden",
	} {
		_, err := b.Open(ctx, loc)
		assert.ErrorIs(t, err, failure.ErrValidation, "location %q", loc)
	}
}

func TestNewNATSBlobs_EmptyBucket(t *testing.T) {
	t.Parallel()
	_, err := NewNATSBlobs(context.Background(), nil, "")
	require.ErrorIs(t, err, failure.ErrValidation)
	assert.True(t, strings.Contains(err.Error(), "bucket"))
}
