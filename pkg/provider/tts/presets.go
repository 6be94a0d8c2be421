package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// ErrUnknownPreset is returned by [LookupPreset] for names that match no preset.
var ErrUnknownPreset = errors.New("tts: unknown voice preset")

// suggestThreshold is the minimum Jaro-Winkler similarity for a preset to be
// offered as a "did you mean" suggestion.
const suggestThreshold = 0.7

// Preset is a named, built-in DECtalk speaker.
type Preset struct {
	Name  string
	Voice VoiceProfile
}

// Paul is the standard DECtalk male voice and the default profile for users
// without a stored voice.
var Paul = VoiceProfile{
	Sex: 1, HeadSize: 100, Formant4Freq: 3300, Formant5Freq: 3650, Formant4Bandwidth: 260, Formant5Bandwidth: 330,
	Breathiness: 0, LaxBreathiness: 0, Smoothness: 3, Richness: 70, FixedSamplings: 0, Laryngealization: 0,
	BaselineFall: 18, HatRise: 18, StressRise: 32, Assertiveness: 100, Quickness: 40, AveragePitch: 122, PitchRange: 100,
	VoicingGain: 65, AspirationGain: 70, FricationGain: 70, NasalizationGain: 74,
	Formant1Gain: 68, Formant2Gain: 60, Formant3Gain: 48, Formant4Gain: 64, Formant5Gain: 86,
}

// Presets lists the built-in DECtalk speakers in their traditional order.
var Presets = []Preset{
	{Name: "Paul", Voice: Paul},
	{Name: "Harry", Voice: VoiceProfile{
		Sex: 1, HeadSize: 115, Formant4Freq: 3300, Formant5Freq: 3850, Formant4Bandwidth: 200, Formant5Bandwidth: 240,
		Breathiness: 0, LaxBreathiness: 0, Smoothness: 12, Richness: 86, FixedSamplings: 10, Laryngealization: 0,
		BaselineFall: 9, HatRise: 20, StressRise: 30, Assertiveness: 100, Quickness: 10, AveragePitch: 89, PitchRange: 80,
		VoicingGain: 65, AspirationGain: 70, FricationGain: 70, NasalizationGain: 73,
		Formant1Gain: 71, Formant2Gain: 60, Formant3Gain: 52, Formant4Gain: 64, Formant5Gain: 81,
	}},
	{Name: "Frank", Voice: VoiceProfile{
		Sex: 1, HeadSize: 90, Formant4Freq: 3650, Formant5Freq: 4200, Formant4Bandwidth: 280, Formant5Bandwidth: 300,
		Breathiness: 50, LaxBreathiness: 50, Smoothness: 46, Richness: 40, FixedSamplings: 0, Laryngealization: 5,
		BaselineFall: 9, HatRise: 20, StressRise: 22, Assertiveness: 65, Quickness: 0, AveragePitch: 155, PitchRange: 90,
		VoicingGain: 63, AspirationGain: 68, FricationGain: 68, NasalizationGain: 75,
		Formant1Gain: 63, Formant2Gain: 58, Formant3Gain: 56, Formant4Gain: 66, Formant5Gain: 86,
	}},
	{Name: "Dennis", Voice: VoiceProfile{
		Sex: 1, HeadSize: 105, Formant4Freq: 3200, Formant5Freq: 3600, Formant4Bandwidth: 240, Formant5Bandwidth: 280,
		Breathiness: 38, LaxBreathiness: 70, Smoothness: 100, Richness: 0, FixedSamplings: 10, Laryngealization: 0,
		BaselineFall: 9, HatRise: 20, StressRise: 22, Assertiveness: 100, Quickness: 50, AveragePitch: 110, PitchRange: 135,
		VoicingGain: 63, AspirationGain: 68, FricationGain: 68, NasalizationGain: 76,
		Formant1Gain: 75, Formant2Gain: 60, Formant3Gain: 52, Formant4Gain: 61, Formant5Gain: 84,
	}},
	{Name: "Betty", Voice: VoiceProfile{
		Sex: 0, HeadSize: 100, Formant4Freq: 4450, Formant5Freq: 2500, Formant4Bandwidth: 260, Formant5Bandwidth: 2048,
		Breathiness: 0, LaxBreathiness: 80, Smoothness: 4, Richness: 40, FixedSamplings: 0, Laryngealization: 0,
		BaselineFall: 0, HatRise: 14, StressRise: 20, Assertiveness: 35, Quickness: 55, AveragePitch: 208, PitchRange: 140,
		VoicingGain: 65, AspirationGain: 70, FricationGain: 72, NasalizationGain: 72,
		Formant1Gain: 69, Formant2Gain: 65, Formant3Gain: 50, Formant4Gain: 56, Formant5Gain: 81,
	}},
	{Name: "Ursula", Voice: VoiceProfile{
		Sex: 0, HeadSize: 95, Formant4Freq: 4500, Formant5Freq: 2500, Formant4Bandwidth: 230, Formant5Bandwidth: 2048,
		Breathiness: 0, LaxBreathiness: 50, Smoothness: 60, Richness: 100, FixedSamplings: 10, Laryngealization: 0,
		BaselineFall: 8, HatRise: 20, StressRise: 32, Assertiveness: 100, Quickness: 30, AveragePitch: 240, PitchRange: 135,
		VoicingGain: 65, AspirationGain: 70, FricationGain: 70, NasalizationGain: 74,
		Formant1Gain: 67, Formant2Gain: 65, Formant3Gain: 51, Formant4Gain: 58, Formant5Gain: 80,
	}},
	{Name: "Wendy", Voice: VoiceProfile{
		Sex: 0, HeadSize: 100, Formant4Freq: 4500, Formant5Freq: 2500, Formant4Bandwidth: 400, Formant5Bandwidth: 2048,
		Breathiness: 55, LaxBreathiness: 80, Smoothness: 100, Richness: 0, FixedSamplings: 10, Laryngealization: 0,
		BaselineFall: 0, HatRise: 20, StressRise: 22, Assertiveness: 50, Quickness: 10, AveragePitch: 200, PitchRange: 175,
		VoicingGain: 51, AspirationGain: 68, FricationGain: 70, NasalizationGain: 75,
		Formant1Gain: 69, Formant2Gain: 62, Formant3Gain: 53, Formant4Gain: 55, Formant5Gain: 83,
	}},
	{Name: "Rita", Voice: VoiceProfile{
		Sex: 0, HeadSize: 95, Formant4Freq: 4000, Formant5Freq: 2500, Formant4Bandwidth: 250, Formant5Bandwidth: 2048,
		Breathiness: 46, LaxBreathiness: 0, Smoothness: 24, Richness: 20, FixedSamplings: 0, Laryngealization: 4,
		BaselineFall: 0, HatRise: 20, StressRise: 32, Assertiveness: 65, Quickness: 30, AveragePitch: 106, PitchRange: 80,
		VoicingGain: 65, AspirationGain: 70, FricationGain: 72, NasalizationGain: 73,
		Formant1Gain: 69, Formant2Gain: 72, Formant3Gain: 48, Formant4Gain: 54, Formant5Gain: 83,
	}},
	{Name: "Kit", Voice: VoiceProfile{
		Sex: 0, HeadSize: 80, Formant4Freq: 2500, Formant5Freq: 2500, Formant4Bandwidth: 2048, Formant5Bandwidth: 2048,
		Breathiness: 47, LaxBreathiness: 75, Smoothness: 5, Richness: 40, FixedSamplings: 0, Laryngealization: 0,
		BaselineFall: 0, HatRise: 20, StressRise: 22, Assertiveness: 65, Quickness: 50, AveragePitch: 306, PitchRange: 210,
		VoicingGain: 65, AspirationGain: 70, FricationGain: 72, NasalizationGain: 71,
		Formant1Gain: 69, Formant2Gain: 69, Formant3Gain: 52, Formant4Gain: 50, Formant5Gain: 73,
	}},
}

// LookupPreset returns the preset voice whose name matches name,
// case-insensitively. When nothing matches, the error wraps
// [ErrUnknownPreset] and names the closest preset if one is similar enough.
func LookupPreset(name string) (VoiceProfile, error) {
	want := strings.TrimSpace(name)
	for _, p := range Presets {
		if strings.EqualFold(p.Name, want) {
			return p.Voice, nil
		}
	}
	if s := suggestPreset(want); s != "" {
		return VoiceProfile{}, fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownPreset, name, s)
	}
	return VoiceProfile{}, fmt.Errorf("%w %q", ErrUnknownPreset, name)
}

// PresetNames returns the preset names in order.
func PresetNames() []string {
	names := make([]string, len(Presets))
	for i, p := range Presets {
		names[i] = p.Name
	}
	return names
}

// suggestPreset returns the preset name most similar to name, or "" when no
// preset reaches suggestThreshold.
func suggestPreset(name string) string {
	lower := strings.ToLower(name)
	best, bestScore := "", 0.0
	for _, p := range Presets {
		score := matchr.JaroWinkler(lower, strings.ToLower(p.Name), false)
		if score > bestScore {
			best, bestScore = p.Name, score
		}
	}
	if bestScore < suggestThreshold {
		return ""
	}
	return best
}
