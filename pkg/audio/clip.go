package audio

import "time"

// Clip is a complete utterance ready for playback: 16-bit little-endian
// interleaved PCM at its native rate and channel count. Platform adapters
// convert it to their wire format.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// DecodeClip decodes a WAV file into a 16-bit [Clip]. Deeper samples are
// truncated to their top 16 bits.
func DecodeClip(wav []byte) (Clip, error) {
	w, err := DecodeWAV(wav)
	if err != nil {
		return Clip{}, err
	}
	shift := w.Format.BitsPerSample - 16
	samples := w.Samples()
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s >> shift)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return Clip{PCM: pcm, SampleRate: w.Format.SampleRate, Channels: w.Format.Channels}, nil
}

// Duration returns the playback length of c.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Frame returns c as a single [AudioFrame] for format conversion.
func (c Clip) Frame() AudioFrame {
	return AudioFrame{Data: c.PCM, SampleRate: c.SampleRate, Channels: c.Channels}
}
