package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAVE format tags found in the "fmt " chunk.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ErrNotWAV is returned by [ParseWAV] and [DecodeWAV] when the input is not a
// RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	AudioFormat   int // 1 = integer PCM, 3 = IEEE float
	Channels      int // 1 = mono, 2 = stereo
	SampleRate    int // samples per second (e.g., 22050, 44100, 48000)
	BitsPerSample int
	DataOffset    int // byte offset of the first sample
	DataLength    int // length of the data chunk in bytes, clipped to the input
}

// IsCanonical reports whether the header describes mono 16-bit PCM at
// [CanonicalSampleRate].
func (i WAVInfo) IsCanonical() bool {
	return i.AudioFormat == wavFormatPCM &&
		i.Channels == CanonicalChannels &&
		i.SampleRate == CanonicalSampleRate &&
		i.BitsPerSample == CanonicalBitDepth
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. Chunks are walked rather than
// assuming a fixed 44-byte header because the fmt chunk size may vary and
// encoders insert LIST/fact chunks.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, errors.New("audio: truncated fmt chunk")
			}
			fmtData := wav[offset+8:]
			info.AudioFormat = int(binary.LittleEndian.Uint16(fmtData[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			if info.AudioFormat == wavFormatExtensible && chunkSize >= 40 && offset+8+26 <= len(wav) {
				// The first two bytes of the SubFormat GUID carry the real tag.
				info.AudioFormat = int(binary.LittleEndian.Uint16(fmtData[24:26]))
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataLength = len(wav) - info.DataOffset
			// Encoders writing to a pipe leave the size as 0 or 0xFFFFFFFF.
			if chunkSize > 0 && uint32(chunkSize) != math.MaxUint32 {
				info.DataLength = min(chunkSize, info.DataLength)
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: missing data chunk")
}

// DecodeWAV parses wav and converts its samples to interleaved int16 PCM.
// Integer PCM at 8, 16, 24 and 32 bits and 32/64-bit IEEE float are supported.
// Headers whose format fails [Format.Validate] are rejected with
// [ErrUnsupportedFormat].
func DecodeWAV(wav []byte) (PCM16, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return PCM16{}, err
	}
	if err := (Format{SampleRate: info.SampleRate, Channels: info.Channels}).Validate(); err != nil {
		return PCM16{}, err
	}

	data := wav[info.DataOffset : info.DataOffset+info.DataLength]
	width := info.BitsPerSample / 8
	if width == 0 {
		return PCM16{}, fmt.Errorf("audio: unsupported bit depth %d", info.BitsPerSample)
	}
	n := len(data) / width
	out := make([]byte, n*2)

	put := func(i int, v int32) {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}

	switch {
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 16:
		copy(out, data[:n*2])
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 8:
		for i := range n {
			put(i, (int32(data[i])-128)<<8)
		}
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 24:
		for i := range n {
			b := data[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			put(i, v>>8)
		}
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 32:
		for i := range n {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			put(i, v>>16)
		}
	case info.AudioFormat == wavFormatFloat && info.BitsPerSample == 32:
		samples := make([]float32, n)
		for i := range n {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		out = FloatToPCM16(samples)
	case info.AudioFormat == wavFormatFloat && info.BitsPerSample == 64:
		samples := make([]float32, n)
		for i := range n {
			samples[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
		}
		out = FloatToPCM16(samples)
	default:
		return PCM16{}, fmt.Errorf("audio: unsupported wav encoding (format %d, %d bits)", info.AudioFormat, info.BitsPerSample)
	}

	return PCM16{Data: out, SampleRate: info.SampleRate, Channels: info.Channels}, nil
}

// EncodeWAV wraps p in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(p PCM16) []byte {
	channels := max(p.Channels, 1)
	dataLen := len(p.Data) - len(p.Data)%2
	blockAlign := channels * 2
	byteRate := p.SampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(p.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(p.Data[:dataLen])

	return buf.Bytes()
}

// CanonicalWAV converts p to the canonical format and encodes it as WAV.
func CanonicalWAV(p PCM16) []byte {
	return EncodeWAV(Convert(p, Canonical))
}
