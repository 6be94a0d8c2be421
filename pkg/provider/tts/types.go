package tts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidVoice is matched by every [*ValidationError].
var ErrInvalidVoice = errors.New("tts: invalid voice profile")

// VoiceProfile is the full DECtalk speaker definition for one user.
// Field comments give the inclusive range accepted by [VoiceProfile.Validate].
type VoiceProfile struct {
	Sex               int `yaml:"sx" json:"sx"` // 0–1
	HeadSize          int `yaml:"hs" json:"hs"` // 65–145 %
	Formant4Freq      int `yaml:"f4" json:"f4"` // 2000–4650 Hz
	Formant5Freq      int `yaml:"f5" json:"f5"` // 2500–4950 Hz
	Formant4Bandwidth int `yaml:"b4" json:"b4"` // 100–2048 Hz
	Formant5Bandwidth int `yaml:"b5" json:"b5"` // 100–2048 Hz
	Breathiness       int `yaml:"br" json:"br"` // 0–72 dB
	LaxBreathiness    int `yaml:"lx" json:"lx"` // 0–100 %
	Smoothness        int `yaml:"sm" json:"sm"` // 0–100 %
	Richness          int `yaml:"ri" json:"ri"` // 0–100 %
	FixedSamplings    int `yaml:"nf" json:"nf"` // 0–100
	Laryngealization  int `yaml:"la" json:"la"` // 0–100 %
	BaselineFall      int `yaml:"bf" json:"bf"` // 0–40 Hz
	HatRise           int `yaml:"hr" json:"hr"` // 2–100 Hz
	StressRise        int `yaml:"sr" json:"sr"` // 1–100 Hz
	Assertiveness     int `yaml:"as" json:"as"` // 0–100 %
	Quickness         int `yaml:"qu" json:"qu"` // 0–100 %
	AveragePitch      int `yaml:"ap" json:"ap"` // 50–350 Hz
	PitchRange        int `yaml:"pr" json:"pr"` // 0–250 %
	VoicingGain       int `yaml:"gv" json:"gv"` // 0–86 dB
	AspirationGain    int `yaml:"gh" json:"gh"` // 0–86 dB
	FricationGain     int `yaml:"gf" json:"gf"` // 0–86 dB
	NasalizationGain  int `yaml:"gn" json:"gn"` // 0–86 dB
	Formant1Gain      int `yaml:"g1" json:"g1"` // 0–86 dB
	Formant2Gain      int `yaml:"g2" json:"g2"` // 0–86 dB
	Formant3Gain      int `yaml:"g3" json:"g3"` // 0–86 dB
	Formant4Gain      int `yaml:"g4" json:"g4"` // 0–86 dB
	Formant5Gain      int `yaml:"g5" json:"g5"` // 0–86 dB
}

// Param describes one DECtalk speaker parameter.
type Param struct {
	// Key is the two-letter DECtalk name used in [:dv] commands.
	Key string

	// Min and Max bound the accepted value, inclusive.
	Min, Max int

	// Unit is "Hz", "dB", "%" or empty.
	Unit string

	// Description is a short human-readable label.
	Description string

	field func(*VoiceProfile) *int
}

// Params lists every speaker parameter in preamble order. The order is part of
// the engine contract and must not change.
var Params = []Param{
	{"sx", 0, 1, "", "Sex 1 (male) or 0 (female)", func(v *VoiceProfile) *int { return &v.Sex }},
	{"hs", 65, 145, "%", "Head size", func(v *VoiceProfile) *int { return &v.HeadSize }},
	{"f4", 2000, 4650, "Hz", "Fourth formant frequency", func(v *VoiceProfile) *int { return &v.Formant4Freq }},
	{"f5", 2500, 4950, "Hz", "Fifth formant frequency", func(v *VoiceProfile) *int { return &v.Formant5Freq }},
	{"b4", 100, 2048, "Hz", "Fourth formant bandwidth", func(v *VoiceProfile) *int { return &v.Formant4Bandwidth }},
	{"b5", 100, 2048, "Hz", "Fifth formant bandwidth", func(v *VoiceProfile) *int { return &v.Formant5Bandwidth }},
	{"br", 0, 72, "dB", "Breathiness", func(v *VoiceProfile) *int { return &v.Breathiness }},
	{"lx", 0, 100, "%", "Lax breathiness", func(v *VoiceProfile) *int { return &v.LaxBreathiness }},
	{"sm", 0, 100, "%", "Smoothness (high frequency attenuation)", func(v *VoiceProfile) *int { return &v.Smoothness }},
	{"ri", 0, 100, "%", "Richness", func(v *VoiceProfile) *int { return &v.Richness }},
	{"nf", 0, 100, "", "Number of fixed samplings of glottal pulse open phase", func(v *VoiceProfile) *int { return &v.FixedSamplings }},
	{"la", 0, 100, "%", "Laryngealization", func(v *VoiceProfile) *int { return &v.Laryngealization }},
	{"bf", 0, 40, "Hz", "Baseline fall", func(v *VoiceProfile) *int { return &v.BaselineFall }},
	{"hr", 2, 100, "Hz", "Hat rise", func(v *VoiceProfile) *int { return &v.HatRise }},
	{"sr", 1, 100, "Hz", "Stress rise", func(v *VoiceProfile) *int { return &v.StressRise }},
	{"as", 0, 100, "%", "Assertiveness", func(v *VoiceProfile) *int { return &v.Assertiveness }},
	{"qu", 0, 100, "%", "Quickness", func(v *VoiceProfile) *int { return &v.Quickness }},
	{"ap", 50, 350, "Hz", "Average pitch", func(v *VoiceProfile) *int { return &v.AveragePitch }},
	{"pr", 0, 250, "%", "Pitch range", func(v *VoiceProfile) *int { return &v.PitchRange }},
	{"gv", 0, 86, "dB", "Gain of voicing source", func(v *VoiceProfile) *int { return &v.VoicingGain }},
	{"gh", 0, 86, "dB", "Gain of aspiration source", func(v *VoiceProfile) *int { return &v.AspirationGain }},
	{"gf", 0, 86, "dB", "Gain of frication source", func(v *VoiceProfile) *int { return &v.FricationGain }},
	{"gn", 0, 86, "dB", "Gain of nasalization", func(v *VoiceProfile) *int { return &v.NasalizationGain }},
	{"g1", 0, 86, "dB", "Gain of first formant resonator", func(v *VoiceProfile) *int { return &v.Formant1Gain }},
	{"g2", 0, 86, "dB", "Gain of second formant resonator", func(v *VoiceProfile) *int { return &v.Formant2Gain }},
	{"g3", 0, 86, "dB", "Gain of third formant resonator", func(v *VoiceProfile) *int { return &v.Formant3Gain }},
	{"g4", 0, 86, "dB", "Gain of fourth formant resonator", func(v *VoiceProfile) *int { return &v.Formant4Gain }},
	{"g5", 0, 86, "dB", "Gain of fifth formant resonator", func(v *VoiceProfile) *int { return &v.Formant5Gain }},
}

// LookupParam returns the parameter with the given key.
func LookupParam(key string) (Param, bool) {
	for _, p := range Params {
		if p.Key == key {
			return p, true
		}
	}
	return Param{}, false
}

// Get returns the value of p in v.
func (p Param) Get(v VoiceProfile) int {
	return *p.field(&v)
}

// InRange reports whether value lies within [p.Min, p.Max].
func (p Param) InRange(value int) bool {
	return value >= p.Min && value <= p.Max
}

// FieldError describes one parameter outside its range.
type FieldError struct {
	Key   string
	Value int
	Min   int
	Max   int
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s=%d out of range [%d, %d]", e.Key, e.Value, e.Min, e.Max)
}

// ValidationError lists every out-of-range parameter of a rejected profile.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "tts: invalid voice profile: " + strings.Join(parts, ", ")
}

// Is makes errors.Is(err, ErrInvalidVoice) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidVoice
}

// Validate returns a [*ValidationError] naming every out-of-range parameter,
// or nil if the profile is usable.
func (v VoiceProfile) Validate() error {
	var fields []FieldError
	for _, p := range Params {
		val := p.Get(v)
		if !p.InRange(val) {
			fields = append(fields, FieldError{Key: p.Key, Value: val, Min: p.Min, Max: p.Max})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Valid reports whether every parameter is within range.
func (v VoiceProfile) Valid() bool {
	return v.Validate() == nil
}

// VoicePatch is a partial profile update keyed by parameter name.
type VoicePatch map[string]int

// Apply returns a copy of v with the patch values merged in. An unknown key
// is an error and v is returned unchanged. Apply does not validate ranges;
// callers validate the merged record.
func (v VoiceProfile) Apply(patch VoicePatch) (VoiceProfile, error) {
	out := v
	for key, val := range patch {
		p, ok := LookupParam(key)
		if !ok {
			return v, fmt.Errorf("tts: unknown voice parameter %q", key)
		}
		*p.field(&out) = val
	}
	return out, nil
}

// Preamble renders the DECtalk control preamble that selects this voice:
// phoneme mode, the [:nv] base voice, then one [:dv key value] command per
// parameter in [Params] order.
func (v VoiceProfile) Preamble() string {
	var b strings.Builder
	b.WriteString("[:phoneme on][:nv]")
	for _, p := range Params {
		fmt.Fprintf(&b, "[:dv %s %d]", p.Key, p.Get(v))
	}
	return b.String()
}
