// Package transcode converts uploaded audio of arbitrary container and format
// into the canonical MineStream waveform: a RIFF/WAVE file holding mono 16-bit
// PCM at 24 kHz.
//
// [FFmpeg] shells out to the ffmpeg binary and accepts anything ffmpeg can
// read. [Native] handles WAV and MP3 in-process. [Chain] tries several
// transcoders in order, so a host without ffmpeg still accepts the common
// formats.
package transcode

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a transcoder does not recognise the input.
var ErrUnsupported = errors.New("transcode: unsupported input format")

// Transcoder converts audio bytes to canonical WAV bytes.
// Implementations must be safe for concurrent use.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte) ([]byte, error)
}

// Chain tries each transcoder in order and returns the first success.
type Chain []Transcoder

var _ Transcoder = Chain(nil)

// Transcode implements [Transcoder]. If every transcoder fails the returned
// error joins all of their errors.
func (c Chain) Transcode(ctx context.Context, data []byte) ([]byte, error) {
	if len(c) == 0 {
		return nil, errors.New("transcode: empty chain")
	}
	var errs []error
	for _, t := range c {
		out, err := t.Transcode(ctx, data)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("transcode: all transcoders failed: %w", errors.Join(errs...))
}

// Default returns the transcoder chain used by the service: in-process
// decoding first, then ffmpeg when the binary is on PATH.
func Default() Transcoder {
	chain := Chain{Native{}}
	if f, err := NewFFmpeg(); err == nil {
		chain = append(chain, f)
	}
	return chain
}
