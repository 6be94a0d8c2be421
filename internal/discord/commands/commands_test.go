package commands

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/internal/discord"
	discordmock "github.com/MrWong99/dectalkbot/internal/discord/mock"
	"github.com/MrWong99/dectalkbot/internal/store"
	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
	ttsmock "github.com/MrWong99/dectalkbot/pkg/provider/tts/mock"
)

type stores struct {
	voices   *store.VoiceStore
	mutes    *store.MuteStore
	prefixes *store.PrefixStore
}

func newStores(t *testing.T) stores {
	t.Helper()
	ctx := context.Background()
	p, err := store.NewFilePersister(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var s stores
	if s.voices, err = store.NewVoiceStore(ctx, p, tts.Paul); err != nil {
		t.Fatal(err)
	}
	if s.mutes, err = store.NewMuteStore(ctx, p); err != nil {
		t.Fatal(err)
	}
	if s.prefixes, err = store.NewPrefixStore(ctx, p, "!"); err != nil {
		t.Fatal(err)
	}
	return s
}

// command builds a guild slash command interaction from user with the given
// member permissions.
func command(name, user string, perms int64, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: "g1",
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: user},
				Permissions: perms,
			},
			Data: discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
		},
	}
}

func intOpt(name string, v int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v),
	}
}

func strOpt(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v,
	}
}

func router(t *testing.T, s stores, synth tts.Provider, owners ...string) *discord.CommandRouter {
	t.Helper()
	r := discord.NewCommandRouter()
	NewVoiceCommands(s.voices, synth).Register(r)
	NewModerationCommands(discord.NewPermissionChecker(owners), s.mutes, s.prefixes).Register(r)
	return r
}

// ─── voice commands ──────────────────────────────────────────────────────────

func TestVoiceOptions_FitDiscordLimits(t *testing.T) {
	t.Parallel()

	opts := voiceOptions()
	if len(opts) != 23 {
		t.Fatalf("got %d options, want 23", len(opts))
	}
	for _, o := range opts {
		if isResonatorGain(o.Name) {
			t.Errorf("option %q should not be offered", o.Name)
		}
		if len(o.Description) > 100 {
			t.Errorf("option %q description too long: %q", o.Name, o.Description)
		}
	}
	if opts[0].Name != "sx" || opts[0].Description != "0-1 Sex 1 (male) or 0 (female)" {
		t.Errorf("first option = %q %q", opts[0].Name, opts[0].Description)
	}
}

func TestVoice_UpdatesProfile(t *testing.T) {
	t.Parallel()

	s := newStores(t)
	r := router(t, s, &ttsmock.Provider{})
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("voice", "u1", 0, intOpt("ap", 250), intOpt("hs", 90)))

	got := s.voices.Get("u1")
	if got.AveragePitch != 250 || got.HeadSize != 90 {
		t.Errorf("profile = ap %d hs %d, want 250 / 90", got.AveragePitch, got.HeadSize)
	}
	if got.Sex != tts.Paul.Sex {
		t.Error("untouched parameter changed")
	}
	if c := resp.LastContent(); !strings.Contains(c, "ap   250") {
		t.Errorf("response = %q", c)
	}
}

func TestVoice_InvalidLeavesProfile(t *testing.T) {
	t.Parallel()

	s := newStores(t)
	r := router(t, s, &ttsmock.Provider{})
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("voice", "u1", 0, intOpt("ap", 400)))

	if _, ok := s.voices.Lookup("u1"); ok {
		t.Error("invalid voice was stored")
	}
	if c := resp.LastContent(); !strings.HasPrefix(c, "Invalid voice!") || !strings.Contains(c, "ap") {
		t.Errorf("response = %q", c)
	}
}

func TestPreset(t *testing.T) {
	t.Parallel()

	s := newStores(t)
	r := router(t, s, &ttsmock.Provider{})
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("preset", "u1", 0, strOpt("voice", "betty")))
	betty, _ := tts.LookupPreset("Betty")
	if s.voices.Get("u1") != betty {
		t.Error("preset not applied")
	}

	r.Handle(resp, command("preset", "u1", 0, strOpt("voice", "Bety")))
	if c := resp.LastContent(); !strings.Contains(c, `did you mean "Betty"`) {
		t.Errorf("response = %q", c)
	}
	if s.voices.Get("u1") != betty {
		t.Error("unknown preset changed the voice")
	}
}

func TestPresetAutocomplete(t *testing.T) {
	t.Parallel()

	r := router(t, newStores(t), &ttsmock.Provider{})
	resp := &discordmock.InteractionResponder{}

	i := command("preset", "u1", 0, &discordgo.ApplicationCommandInteractionDataOption{
		Name: "voice", Type: discordgo.ApplicationCommandOptionString, Value: "r", Focused: true,
	})
	i.Type = discordgo.InteractionApplicationCommandAutocomplete
	r.Handle(resp, i)

	last := resp.LastResponse()
	if last == nil || last.Type != discordgo.InteractionApplicationCommandAutocompleteResult {
		t.Fatalf("response = %+v", last)
	}
	if len(last.Data.Choices) != 1 || last.Data.Choices[0].Name != "Rita" {
		t.Errorf("choices = %+v, want Rita", last.Data.Choices)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newStores(t)
	r := router(t, s, &ttsmock.Provider{})
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("voice", "u1", 0, intOpt("ap", 60)))
	r.Handle(resp, command("reset", "u1", 0))

	if _, ok := s.voices.Lookup("u1"); ok {
		t.Error("voice still stored after reset")
	}
	if s.voices.Get("u1") != tts.Paul {
		t.Error("reset did not restore the default")
	}
}

func TestTest_PostsAudio(t *testing.T) {
	t.Parallel()

	s := newStores(t)
	synth := &ttsmock.Provider{Audio: []byte("RIFF-fake")}
	r := router(t, s, synth)
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("test", "u1", 0, strOpt("text", "hello there")))

	if last := resp.LastResponse(); last == nil || last.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("first response = %+v, want deferred", last)
	}
	if synth.CallCount() != 1 || synth.Calls[0].Text != "hello there" {
		t.Fatalf("synth calls = %+v", synth.Calls)
	}
	fu := resp.LastFollowUp()
	if fu == nil || len(fu.Files) != 1 {
		t.Fatalf("follow-up = %+v", fu)
	}
	body, _ := io.ReadAll(fu.Files[0].Reader)
	if string(body) != "RIFF-fake" || fu.Files[0].Name != "tts.wav" {
		t.Errorf("file = %s %q", fu.Files[0].Name, body)
	}
}

func TestTest_SynthesisError(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{Err: &tts.SynthesisError{Diagnostic: "engine crashed"}}
	r := router(t, newStores(t), synth)
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("test", "u1", 0, strOpt("text", "hi")))

	if fu := resp.LastFollowUp(); fu == nil || !strings.Contains(fu.Content, "engine crashed") {
		t.Errorf("follow-up = %+v", fu)
	}
}

// ─── moderation commands ─────────────────────────────────────────────────────

func TestMuted(t *testing.T) {
	t.Parallel()

	userOpt := &discordgo.ApplicationCommandInteractionDataOption{
		Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u2",
	}
	muteOpt := &discordgo.ApplicationCommandInteractionDataOption{
		Name: "muted", Type: discordgo.ApplicationCommandOptionBoolean, Value: true,
	}

	tests := []struct {
		name      string
		user      string
		perms     int64
		opts      []*discordgo.ApplicationCommandInteractionDataOption
		wantMuted bool
		wantReply string
	}{
		{name: "query", user: "mod", perms: discordgo.PermissionVoiceMuteMembers, opts: []*discordgo.ApplicationCommandInteractionDataOption{userOpt}, wantReply: "Muted: `false`"},
		{name: "set", user: "mod", perms: discordgo.PermissionVoiceMuteMembers, opts: []*discordgo.ApplicationCommandInteractionDataOption{userOpt, muteOpt}, wantMuted: true, wantReply: "Muted: `true`"},
		{name: "administrator", user: "admin", perms: discordgo.PermissionAdministrator, opts: []*discordgo.ApplicationCommandInteractionDataOption{userOpt, muteOpt}, wantMuted: true, wantReply: "Muted: `true`"},
		{name: "owner without permission", user: "owner", opts: []*discordgo.ApplicationCommandInteractionDataOption{userOpt, muteOpt}, wantMuted: true, wantReply: "Muted: `true`"},
		{name: "not allowed", user: "u3", opts: []*discordgo.ApplicationCommandInteractionDataOption{userOpt, muteOpt}, wantReply: "You need the Mute Members permission."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newStores(t)
			r := router(t, s, &ttsmock.Provider{}, "owner")
			resp := &discordmock.InteractionResponder{}

			r.Handle(resp, command("muted", tt.user, tt.perms, tt.opts...))

			if got := s.mutes.Get("g1", "u2"); got != tt.wantMuted {
				t.Errorf("muted = %v, want %v", got, tt.wantMuted)
			}
			if got := resp.LastContent(); got != tt.wantReply {
				t.Errorf("reply = %q, want %q", got, tt.wantReply)
			}
		})
	}
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	s := newStores(t)
	r := router(t, s, &ttsmock.Provider{})
	resp := &discordmock.InteractionResponder{}

	r.Handle(resp, command("prefix", "admin", discordgo.PermissionManageGuild))
	if got := resp.LastContent(); got != "Prefix: `!`" {
		t.Errorf("query reply = %q", got)
	}

	r.Handle(resp, command("prefix", "admin", discordgo.PermissionManageGuild, strOpt("prefix", ";;")))
	if got := s.prefixes.Get("g1"); got != ";;" {
		t.Errorf("prefix = %q, want ;;", got)
	}

	r.Handle(resp, command("prefix", "admin", discordgo.PermissionManageGuild, strOpt("prefix", "")))
	if got := resp.LastContent(); !strings.HasPrefix(got, "Error:") {
		t.Errorf("empty prefix reply = %q", got)
	}

	r.Handle(resp, command("prefix", "someone", 0, strOpt("prefix", "?")))
	if got := s.prefixes.Get("g1"); got != ";;" {
		t.Errorf("prefix changed without permission: %q", got)
	}
}

func TestModeration_RequiresGuild(t *testing.T) {
	t.Parallel()

	r := router(t, newStores(t), &ttsmock.Provider{}, "owner")
	resp := &discordmock.InteractionResponder{}

	i := command("prefix", "owner", 0)
	i.GuildID = ""
	r.Handle(resp, i)
	if got := resp.LastContent(); got != "This command only works in a server." {
		t.Errorf("reply = %q", got)
	}
}
