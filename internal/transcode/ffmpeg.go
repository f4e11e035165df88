package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/MrWong99/minestream/pkg/audio"
)

// FFmpeg transcodes through the ffmpeg binary, piping data through stdin and
// stdout so nothing touches disk.
type FFmpeg struct {
	path string
}

var _ Transcoder = (*FFmpeg)(nil)

// NewFFmpeg locates the ffmpeg binary on PATH.
func NewFFmpeg() (*FFmpeg, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg not installed: %w", err)
	}
	ffmpeg.LogCompiledCommand = false
	return &FFmpeg{path: path}, nil
}

// Transcode implements [Transcoder].
func (f *FFmpeg) Transcode(ctx context.Context, data []byte) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	compiled := ffmpeg.Input("pipe:0").
		Output("pipe:1", ffmpeg.KwArgs{
			"loglevel": "error",
			"ac":       audio.CanonicalChannels,
			"ar":       audio.CanonicalSampleRate,
			"acodec":   "pcm_s16le",
			"f":        "wav",
		}).
		WithInput(bytes.NewReader(data)).
		WithOutput(&stdout, &stderr).
		Compile()

	// Rebuild on a cancellable command so a departed caller stops ffmpeg.
	cmd := exec.CommandContext(ctx, f.path, compiled.Args[1:]...)
	cmd.Stdin = compiled.Stdin
	cmd.Stdout = compiled.Stdout
	cmd.Stderr = compiled.Stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("transcode: ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("transcode: ffmpeg: %w: %s", err, msg)
	}

	// ffmpeg cannot seek on a pipe, so the header sizes are placeholders.
	pcm, err := audio.DecodeWAV(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg output: %w", err)
	}
	return audio.CanonicalWAV(pcm), nil
}
