package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/minestream/pkg/audio"
)

// Native decodes WAV and MP3 input in-process.
type Native struct{}

var _ Transcoder = Native{}

// Transcode implements [Transcoder].
func (Native) Transcode(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		pcm audio.PCM16
		err error
	)
	switch {
	case isWAV(data):
		pcm, err = audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("transcode: %w", err)
		}
	case isMP3(data):
		pcm, err = decodeMP3(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupported
	}
	return canonical(pcm)
}

// canonical converts pcm to the stored format. Input too short to yield a
// single canonical sample is an error so the caller keeps the original bytes.
func canonical(pcm audio.PCM16) ([]byte, error) {
	if err := pcm.Format().Validate(); err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	out := audio.Convert(pcm, audio.Canonical)
	if len(out.Data) == 0 {
		return nil, errors.New("transcode: input contains no audio")
	}
	return audio.EncodeWAV(out), nil
}

// decodeMP3 decodes an MP3 stream. go-mp3 always produces interleaved
// 16-bit stereo at the stream's sample rate.
func decodeMP3(data []byte) (audio.PCM16, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return audio.PCM16{}, fmt.Errorf("transcode: open mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return audio.PCM16{}, fmt.Errorf("transcode: decode mp3: %w", err)
	}
	if len(pcm) == 0 {
		return audio.PCM16{}, fmt.Errorf("transcode: mp3 contains no audio")
	}
	return audio.PCM16{Data: pcm, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// isMP3 reports an ID3v2 tag or an MPEG audio frame sync at the start.
func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
