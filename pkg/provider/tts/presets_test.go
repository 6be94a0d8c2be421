package tts

import (
	"errors"
	"strings"
	"testing"
)

func TestPresets_AllValid(t *testing.T) {
	t.Parallel()

	for _, p := range Presets {
		if err := p.Voice.Validate(); err != nil {
			t.Errorf("preset %s: %v", p.Name, err)
		}
	}
}

func TestLookupPreset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		wantErr     bool
		wantSuggest string
	}{
		{name: "exact", input: "Betty"},
		{name: "case insensitive", input: "kIT"},
		{name: "surrounding space", input: "  frank "},
		{name: "close typo", input: "Ursla", wantErr: true, wantSuggest: "Ursula"},
		{name: "nothing similar", input: "zzzzzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LookupPreset(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LookupPreset(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			if !errors.Is(err, ErrUnknownPreset) {
				t.Errorf("error does not wrap ErrUnknownPreset: %v", err)
			}
			hasHint := strings.Contains(err.Error(), "did you mean")
			if tt.wantSuggest == "" && hasHint {
				t.Errorf("unexpected suggestion in %q", err)
			}
			if tt.wantSuggest != "" && !strings.Contains(err.Error(), tt.wantSuggest) {
				t.Errorf("error %q does not suggest %q", err, tt.wantSuggest)
			}
		})
	}
}

func TestLookupPreset_ReturnsVoice(t *testing.T) {
	t.Parallel()

	v, err := LookupPreset("paul")
	if err != nil {
		t.Fatalf("LookupPreset: %v", err)
	}
	if v != Paul {
		t.Error("LookupPreset(paul) did not return Paul")
	}
}

func TestPresetNames(t *testing.T) {
	t.Parallel()

	names := PresetNames()
	if len(names) != len(Presets) {
		t.Fatalf("len = %d, want %d", len(names), len(Presets))
	}
	if names[0] != "Paul" {
		t.Errorf("names[0] = %q, want Paul", names[0])
	}
}
