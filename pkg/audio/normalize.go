package audio

import (
	"fmt"
	"math"
)

// Normalize rescales every sample of a WAV clip by one global gain so that
// the loudest sample reaches targetPeak (a fraction of full scale in [0, 1]).
//
// The result keeps the input's header and non-data chunks byte-for-byte.
// The same input and target always produce the same output.
func Normalize(wav []byte, targetPeak float64) ([]byte, error) {
	if err := checkTargetPeak(targetPeak); err != nil {
		return nil, err
	}
	w, err := DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	samples := w.Samples()
	if err := NormalizeSamples(samples, w.Format.BitsPerSample, targetPeak); err != nil {
		return nil, err
	}
	return w.Encode(samples)
}

// NormalizeSamples applies peak normalization in place to signed samples of
// the given bit depth. An all-silent buffer is left unchanged.
//
// Each sample becomes clamp(round(s × targetPeak × max / M)) where max is
// 2^(bits-1)-1 and M is the largest sample magnitude. Rounding is half away
// from zero.
func NormalizeSamples(samples []int32, bits int, targetPeak float64) error {
	if err := checkTargetPeak(targetPeak); err != nil {
		return err
	}
	if bits < 2 || bits > 32 {
		return fmt.Errorf("audio: normalize: unsupported bit depth %d", bits)
	}

	var peak int64
	for _, s := range samples {
		m := int64(s)
		if m < 0 {
			m = -m
		}
		if m > peak {
			peak = m
		}
	}
	if peak == 0 {
		peak = 1
	}

	hi := float64(int64(1)<<(bits-1) - 1)
	lo := -hi - 1
	gain := targetPeak * hi / float64(peak)

	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		samples[i] = int32(max(lo, min(hi, v)))
	}
	return nil
}

func checkTargetPeak(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("audio: target peak %v outside [0, 1]", p)
	}
	return nil
}
