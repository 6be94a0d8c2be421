package audio

import "time"

// AudioFrame is a span of 16-bit little-endian PCM on its way to a voice
// connection.
type AudioFrame struct {
	// Data is interleaved PCM.
	Data []byte

	// SampleRate in Hz (e.g. 11025 for DECtalk output, 48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono engine output, 2 for stereo Discord output.
	Channels int

	// Timestamp is the offset of the frame from the start of its clip.
	Timestamp time.Duration
}
