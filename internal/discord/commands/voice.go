// Package commands implements the bot's slash commands on top of the
// stores and the synthesis engine.
package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/internal/discord"
	"github.com/MrWong99/dectalkbot/internal/store"
	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// maxOptions is Discord's limit on options per command.
const maxOptions = 25

// VoiceCommands handles /voice, /preset, /reset and /test.
type VoiceCommands struct {
	voices *store.VoiceStore
	synth  tts.Provider
}

// NewVoiceCommands creates a VoiceCommands handler.
func NewVoiceCommands(voices *store.VoiceStore, synth tts.Provider) *VoiceCommands {
	return &VoiceCommands{voices: voices, synth: synth}
}

// Register registers the voice commands with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	defs := vc.Definitions()
	router.RegisterCommand(defs[0], vc.handleVoice)
	router.RegisterCommand(defs[1], vc.handlePreset)
	router.RegisterCommand(defs[2], vc.handleReset)
	router.RegisterCommand(defs[3], vc.handleTest)
	router.RegisterAutocomplete("preset", vc.handlePresetAutocomplete)
}

// Definitions returns the /voice, /preset, /reset and /test commands.
func (vc *VoiceCommands) Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "voice",
			Description: "Change parameters of your voice",
			Options:     voiceOptions(),
		},
		{
			Name:        "preset",
			Description: "Use a preset voice",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:         "voice",
					Description:  "Preset name",
					Type:         discordgo.ApplicationCommandOptionString,
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        "reset",
			Description: "Reset your voice to the default",
		},
		{
			Name:        "test",
			Description: "Speak text with your voice and post the audio",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "text",
					Description: "Text to speak",
					Type:        discordgo.ApplicationCommandOptionString,
					Required:    true,
				},
			},
		},
	}
}

// voiceOptions builds one integer option per speaker parameter, in preamble
// order, up to Discord's option limit. The formant resonator gains do not
// fit and are left out.
func voiceOptions() []*discordgo.ApplicationCommandOption {
	opts := make([]*discordgo.ApplicationCommandOption, 0, maxOptions)
	for _, p := range tts.Params {
		if isResonatorGain(p.Key) {
			continue
		}
		if len(opts) == maxOptions {
			break
		}
		lo := float64(p.Min)
		desc := fmt.Sprintf("%d-%d %s %s", p.Min, p.Max, p.Unit, p.Description)
		opts = append(opts, &discordgo.ApplicationCommandOption{
			Name:        p.Key,
			Description: strings.Join(strings.Fields(desc), " "),
			Type:        discordgo.ApplicationCommandOptionInteger,
			MinValue:    &lo,
			MaxValue:    float64(p.Max),
		})
	}
	return opts
}

func (vc *VoiceCommands) handleVoice(r discord.Responder, i *discordgo.InteractionCreate) {
	patch := tts.VoicePatch{}
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Type == discordgo.ApplicationCommandOptionInteger {
			patch[opt.Name] = int(opt.IntValue())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := discord.UserID(i)
	var (
		voice tts.VoiceProfile
		err   error
	)
	if len(patch) == 0 {
		voice = vc.voices.Get(userID)
	} else {
		voice, err = vc.voices.Update(ctx, userID, patch)
	}
	switch {
	case errors.Is(err, tts.ErrInvalidVoice):
		discord.RespondEphemeral(r, i, "Invalid voice! "+err.Error())
		return
	case err != nil:
		discord.RespondError(r, i, err)
		return
	}
	discord.RespondEphemeral(r, i, FormatVoice(voice))
}

func (vc *VoiceCommands) handlePreset(r discord.Responder, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Options[0].StringValue()
	voice, err := tts.LookupPreset(name)
	if err != nil {
		discord.RespondEphemeral(r, i, "Invalid voice preset! "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := vc.voices.Set(ctx, discord.UserID(i), voice); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	discord.RespondEphemeral(r, i, FormatVoice(voice))
}

func (vc *VoiceCommands) handlePresetAutocomplete(r discord.Responder, i *discordgo.InteractionCreate) {
	var partial string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			partial = strings.ToLower(opt.StringValue())
		}
	}
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, name := range tts.PresetNames() {
		if strings.HasPrefix(strings.ToLower(name), partial) {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
		}
	}
	discord.RespondChoices(r, i, choices)
}

func (vc *VoiceCommands) handleReset(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := discord.UserID(i)
	if err := vc.voices.Remove(ctx, userID); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	discord.RespondEphemeral(r, i, FormatVoice(vc.voices.Get(userID)))
}

func (vc *VoiceCommands) handleTest(r discord.Responder, i *discordgo.InteractionCreate) {
	text := i.ApplicationCommandData().Options[0].StringValue()
	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	wav, err := vc.synth.Synthesize(ctx, text, vc.voices.Get(discord.UserID(i)))
	if err != nil {
		discord.FollowUp(r, i, fmt.Sprintf("Error: %v", err))
		return
	}
	discord.FollowUpFile(r, i, &discordgo.File{
		Name:        "tts.wav",
		ContentType: "audio/wav",
		Reader:      bytes.NewReader(wav),
	})
}

// isResonatorGain matches g1 to g5.
func isResonatorGain(key string) bool {
	return len(key) == 2 && key[0] == 'g' && key[1] >= '1' && key[1] <= '5'
}

// FormatVoice renders every parameter of v as a code block, one key per
// line.
func FormatVoice(v tts.VoiceProfile) string {
	var b strings.Builder
	b.WriteString("```\n")
	for _, p := range tts.Params {
		fmt.Fprintf(&b, "%s %5d  %s\n", p.Key, p.Get(v), p.Description)
	}
	b.WriteString("```")
	return b.String()
}
