package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/minestream/pkg/audio"
)

// stereoWAV returns frames of 48 kHz stereo PCM wrapped in WAV.
func stereoWAV(frames int) []byte {
	pcm := make([]byte, frames*4)
	for i := range frames {
		binary.LittleEndian.PutUint16(pcm[i*4:], uint16(int16(i)))
		binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(int16(i)))
	}
	return audio.EncodeWAV(audio.PCM16{Data: pcm, SampleRate: 48000, Channels: 2})
}

func assertCanonical(t *testing.T, wav []byte) audio.PCM16 {
	t.Helper()
	info, err := audio.ParseWAV(wav)
	require.NoError(t, err)
	assert.True(t, info.IsCanonical(), "header %+v is not canonical", info)
	pcm, err := audio.DecodeWAV(wav)
	require.NoError(t, err)
	return pcm
}

func TestNative_WAV(t *testing.T) {
	t.Parallel()

	out, err := Native{}.Transcode(context.Background(), stereoWAV(48000))
	require.NoError(t, err)

	pcm := assertCanonical(t, out)
	// One second at 48 kHz becomes one second at 24 kHz.
	assert.Equal(t, audio.CanonicalSampleRate*2, len(pcm.Data))
}

func TestNative_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := Native{}.Transcode(context.Background(), []byte("OggS\x00\x02 not supported natively"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNative_BrokenMP3(t *testing.T) {
	t.Parallel()

	_, err := Native{}.Transcode(context.Background(), []byte("ID3\x04\x00\x00\x00\x00\x00\x00garbage"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestNative_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Native{}.Transcode(ctx, stereoWAV(10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNative_RejectsImplausibleHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  audio.PCM16
		want error
	}{
		{
			name: "one hertz would expand 24000 times",
			pcm:  audio.PCM16{Data: make([]byte, 4000), SampleRate: 1, Channels: 1},
			want: audio.ErrUnsupportedFormat,
		},
		{
			name: "rate above maximum",
			pcm:  audio.PCM16{Data: make([]byte, 4000), SampleRate: 10_000_000, Channels: 1},
			want: audio.ErrUnsupportedFormat,
		},
		{
			name: "too short to yield a sample",
			pcm:  audio.PCM16{Data: make([]byte, 20), SampleRate: audio.MaxSampleRate, Channels: 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := Native{}.Transcode(context.Background(), audio.EncodeWAV(tc.pcm))
			require.Error(t, err)
			assert.Nil(t, out)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestSniff(t *testing.T) {
	t.Parallel()

	assert.True(t, isWAV(stereoWAV(1)))
	assert.False(t, isWAV([]byte("RIFF")))
	assert.True(t, isMP3([]byte("ID3\x03")))
	assert.True(t, isMP3([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.False(t, isMP3([]byte{0xFF, 0x00}))
}

type stubTranscoder struct {
	out   []byte
	err   error
	calls int
}

func (s *stubTranscoder) Transcode(context.Context, []byte) ([]byte, error) {
	s.calls++
	return s.out, s.err
}

func TestChain(t *testing.T) {
	t.Parallel()

	t.Run("first success wins", func(t *testing.T) {
		t.Parallel()
		a := &stubTranscoder{err: ErrUnsupported}
		b := &stubTranscoder{out: []byte("ok")}
		c := &stubTranscoder{out: []byte("unused")}

		out, err := Chain{a, b, c}.Transcode(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(out))
		assert.Equal(t, 0, c.calls)
	})

	t.Run("all fail", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		_, err := Chain{&stubTranscoder{err: ErrUnsupported}, &stubTranscoder{err: boom}}.
			Transcode(context.Background(), nil)
		assert.ErrorIs(t, err, ErrUnsupported)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := Chain{}.Transcode(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestFFmpeg(t *testing.T) {
	t.Parallel()

	f, err := NewFFmpeg()
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	out, err := f.Transcode(context.Background(), stereoWAV(4800))
	require.NoError(t, err)
	assertCanonical(t, out)

	_, err = f.Transcode(context.Background(), []byte("definitely not audio"))
	assert.Error(t, err)
}
