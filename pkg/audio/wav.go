package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedWAV is wrapped by every WAV decode or encode failure.
var ErrMalformedWAV = errors.New("audio: malformed WAV")

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE

	riffHeaderSize  = 12
	chunkHeaderSize = 8
)

// WAVFormat holds the sample layout declared by a WAV "fmt " chunk.
type WAVFormat struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// BlockAlign returns the size in bytes of one sample frame (all channels).
func (f WAVFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// MaxAmplitude returns the largest positive sample value, 2^(bits-1)-1.
func (f WAVFormat) MaxAmplitude() int32 {
	return int32(int64(1)<<(f.BitsPerSample-1) - 1)
}

// WAV is a decoded RIFF/WAVE buffer with signed integer PCM samples.
//
// The original bytes are retained so that re-encoding keeps every header
// field and non-data chunk exactly as it was; only the sample payload is
// replaced.
type WAV struct {
	Format WAVFormat

	raw       []byte
	dataStart int
	dataEnd   int
}

// DecodeWAV parses b as a RIFF/WAVE file carrying signed PCM of 16, 24 or
// 32 bits. The returned WAV references b; callers must not modify b while
// the WAV is in use. Every failure wraps [ErrMalformedWAV].
func DecodeWAV(b []byte) (*WAV, error) {
	if len(b) < riffHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformedWAV, len(b))
	}
	if string(b[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrMalformedWAV)
	}
	if string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE identifier", ErrMalformedWAV)
	}

	w := &WAV{raw: b}
	foundFmt := false

	// Walk RIFF chunks after the 12-byte RIFF/WAVE header.
	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(b) {
		id := string(b[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))
		body := offset + chunkHeaderSize
		if size < 0 || size > len(b)-body {
			return nil, fmt.Errorf("%w: chunk %q declares %d bytes, %d available", ErrMalformedWAV, id, size, len(b)-body)
		}

		switch id {
		case "fmt ":
			f, err := parseFmtChunk(b[body : body+size])
			if err != nil {
				return nil, err
			}
			w.Format = f
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedWAV)
			}
			if size%w.Format.BlockAlign() != 0 {
				return nil, fmt.Errorf("%w: data size %d is not a multiple of block align %d", ErrMalformedWAV, size, w.Format.BlockAlign())
			}
			w.dataStart, w.dataEnd = body, body+size
			return w, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset = body + size + size%2
	}
	return nil, fmt.Errorf("%w: missing data chunk", ErrMalformedWAV)
}

func parseFmtChunk(c []byte) (WAVFormat, error) {
	if len(c) < 16 {
		return WAVFormat{}, fmt.Errorf("%w: fmt chunk is %d bytes", ErrMalformedWAV, len(c))
	}
	tag := binary.LittleEndian.Uint16(c[0:2])
	if tag == wavFormatExtensible && len(c) >= 26 {
		tag = binary.LittleEndian.Uint16(c[24:26])
	}
	if tag != wavFormatPCM {
		return WAVFormat{}, fmt.Errorf("%w: unsupported format tag 0x%04x", ErrMalformedWAV, tag)
	}

	f := WAVFormat{
		Channels:      int(binary.LittleEndian.Uint16(c[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(c[4:8])),
		BitsPerSample: int(binary.LittleEndian.Uint16(c[14:16])),
	}
	switch f.BitsPerSample {
	case 16, 24, 32:
	default:
		return WAVFormat{}, fmt.Errorf("%w: unsupported bit depth %d", ErrMalformedWAV, f.BitsPerSample)
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return WAVFormat{}, fmt.Errorf("%w: %d channels at %d Hz", ErrMalformedWAV, f.Channels, f.SampleRate)
	}
	if align := int(binary.LittleEndian.Uint16(c[12:14])); align != f.BlockAlign() {
		return WAVFormat{}, fmt.Errorf("%w: block align %d, want %d", ErrMalformedWAV, align, f.BlockAlign())
	}
	return f, nil
}

// Payload returns the raw bytes of the data chunk.
func (w *WAV) Payload() []byte {
	return w.raw[w.dataStart:w.dataEnd]
}

// NumSamples returns the number of individual samples across all channels.
func (w *WAV) NumSamples() int {
	return (w.dataEnd - w.dataStart) / (w.Format.BitsPerSample / 8)
}

// Duration returns the playback length of the clip.
func (w *WAV) Duration() time.Duration {
	frames := (w.dataEnd - w.dataStart) / w.Format.BlockAlign()
	return time.Duration(frames) * time.Second / time.Duration(w.Format.SampleRate)
}

// Samples decodes the payload into interleaved signed samples.
func (w *WAV) Samples() []int32 {
	width := w.Format.BitsPerSample / 8
	payload := w.Payload()
	out := make([]int32, len(payload)/width)
	for i := range out {
		out[i] = readSample(payload[i*width:], width)
	}
	return out
}

// Encode returns a copy of the original file with the payload replaced by
// samples. len(samples) must equal [WAV.NumSamples]; values must fit the
// bit depth.
func (w *WAV) Encode(samples []int32) ([]byte, error) {
	if len(samples) != w.NumSamples() {
		return nil, fmt.Errorf("%w: encode %d samples into a %d-sample payload", ErrMalformedWAV, len(samples), w.NumSamples())
	}
	out := make([]byte, len(w.raw))
	copy(out, w.raw)
	width := w.Format.BitsPerSample / 8
	payload := out[w.dataStart:w.dataEnd]
	for i, s := range samples {
		writeSample(payload[i*width:], width, s)
	}
	return out, nil
}

// EncodeWAV builds a canonical 44-byte-header PCM WAV file.
func EncodeWAV(f WAVFormat, samples []int32) ([]byte, error) {
	switch f.BitsPerSample {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrMalformedWAV, f.BitsPerSample)
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrMalformedWAV, f.Channels, f.SampleRate)
	}

	width := f.BitsPerSample / 8
	dataSize := len(samples) * width
	b := make([]byte, 44+dataSize)

	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], uint32(36+dataSize))
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(b[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(b[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(b[28:32], uint32(f.SampleRate*f.BlockAlign()))
	binary.LittleEndian.PutUint16(b[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(b[34:36], uint16(f.BitsPerSample))
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], uint32(dataSize))

	for i, s := range samples {
		writeSample(b[44+i*width:], width, s)
	}
	return b, nil
}

func readSample(b []byte, width int) int32 {
	switch width {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		// Sign-extend from bit 23.
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

func writeSample(b []byte, width int, s int32) {
	switch width {
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(int16(s)))
	case 3:
		b[0] = byte(s)
		b[1] = byte(s >> 8)
		b[2] = byte(s >> 16)
	default:
		binary.LittleEndian.PutUint32(b, uint32(s))
	}
}
