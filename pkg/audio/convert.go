package audio

import (
	"fmt"
	"log/slog"
	"math"
)

// Convert converts p to the target format. If the source format already
// matches the target, p is returned unchanged (zero allocation).
// Conversion order: channel downmix first, then resample, so that multi-channel
// input is only resampled once.
func Convert(p PCM16, target Format) PCM16 {
	if p.Channels <= 0 || target.Channels <= 0 {
		return p
	}

	// Odd byte counts cannot be int16 PCM; drop the trailing byte.
	if len(p.Data)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, truncating",
			"bytes", len(p.Data),
			"format", formatString(p.SampleRate, p.Channels),
		)
		p.Data = p.Data[:len(p.Data)-1]
	}

	if p.Format() == target {
		return p
	}

	pcm := p.Data
	channels := p.Channels

	if channels != target.Channels && target.Channels == 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}

	rate := p.SampleRate
	if rate != target.SampleRate && channels == 1 {
		pcm = ResampleMono16(pcm, rate, target.SampleRate)
		rate = target.SampleRate
	}

	return PCM16{Data: pcm, SampleRate: rate, Channels: channels}
}

// Downmix averages every interleaved frame of an n-channel int16 buffer into
// a single mono sample. Uses int32 arithmetic to prevent overflow and clamps
// to the int16 range. A channel count of one returns pcm unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		base := i * frameBytes
		for c := range channels {
			off := base + c*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := sum / int32(channels)

		if avg > math.MaxInt16 {
			avg = math.MaxInt16
		} else if avg < math.MinInt16 {
			avg = math.MinInt16
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	return Downmix(pcm, 2)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// FloatToPCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Out-of-range and NaN samples are clamped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		q := int16(math.Round(v * math.MaxInt16))
		out[i*2] = byte(q)
		out[i*2+1] = byte(q >> 8)
	}
	return out
}

// PCM16ToFloat converts little-endian int16 PCM to float samples in [-1, 1].
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
