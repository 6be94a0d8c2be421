// Package orchestrator decides, message by message, whether something should
// be spoken and drives it from text to audio in the voice channel.
//
// [Orchestrator.Handle] runs a fixed sequence of gates. Each gate either lets
// the message through or stops it with an [Outcome]. Messages that pass
// every gate reserve a playback slot, are synthesised with the author's
// voice, peak-normalised and played through the session manager.
//
// Failures are scoped to the message: they are logged and counted, and
// never spoken.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dectalkbot/internal/observe"
	"github.com/MrWong99/dectalkbot/internal/resilience"
	"github.com/MrWong99/dectalkbot/internal/session"
	"github.com/MrWong99/dectalkbot/pkg/audio"
	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// Reaction markers added to messages that were not spoken as written.
const (
	ReactionMuted     = "❌"
	ReactionTruncated = "⚠"
)

// Outcome is the result of handling one message.
type Outcome int

const (
	// OutcomeIgnored: bot author, no guild, or prefix missing.
	OutcomeIgnored Outcome = iota

	// OutcomeMuted: the author is muted in the guild.
	OutcomeMuted

	// OutcomeEmpty: nothing left to say after shaping.
	OutcomeEmpty

	// OutcomeNoVoiceChannel: the channel is not a voice channel or nobody
	// is listening.
	OutcomeNoVoiceChannel

	// OutcomeBusy: the guild's playback queue is full.
	OutcomeBusy

	// OutcomeFailed: synthesis, decoding or playback failed.
	OutcomeFailed

	// OutcomeSpoken: the message was played.
	OutcomeSpoken
)

// String returns the metric label of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeMuted:
		return "muted"
	case OutcomeEmpty:
		return "empty"
	case OutcomeNoVoiceChannel:
		return "no_voice_channel"
	case OutcomeBusy:
		return "busy"
	case OutcomeFailed:
		return "failed"
	case OutcomeSpoken:
		return "spoken"
	default:
		return "unknown"
	}
}

// Message is the platform-neutral view of a chat message.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// ─── collaborators ───────────────────────────────────────────────────────────

// Prefixes resolves a guild's trigger prefix.
type Prefixes interface {
	Get(guildID string) string
}

// Mutes reports whether a user is muted in a guild.
type Mutes interface {
	Get(guildID, userID string) bool
}

// Voices resolves a user's voice profile.
type Voices interface {
	Get(userID string) tts.VoiceProfile
}

// Sessions hands out playback tickets. *session.Manager implements it.
type Sessions interface {
	Reserve(guildID string) (*session.Ticket, error)
}

// Roster inspects voice channels.
type Roster interface {
	// Occupants returns the number of non-bot users in channelID and whether
	// channelID is a voice-capable channel at all.
	Occupants(guildID, channelID string) (n int, voice bool)
}

// Reactor adds reaction markers to messages.
type Reactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// ─── settings ────────────────────────────────────────────────────────────────

// Settings are the tunables that may change at runtime.
type Settings struct {
	// MaxLength caps spoken text in runes for non-privileged authors.
	// Zero disables the cap.
	MaxLength int

	// TargetPeak is the normalisation target as a fraction of full scale.
	TargetPeak float64

	// Privileged lists user IDs exempt from MaxLength.
	Privileged []string
}

// Validate reports whether s can be applied.
func (s Settings) Validate() error {
	var errs []error
	if s.MaxLength < 0 {
		errs = append(errs, fmt.Errorf("max length %d is negative", s.MaxLength))
	}
	if !(s.TargetPeak >= 0 && s.TargetPeak <= 1) {
		errs = append(errs, fmt.Errorf("target peak %v outside [0, 1]", s.TargetPeak))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("orchestrator: invalid settings: %w", err)
	}
	return nil
}

// settings is the immutable form of Settings swapped atomically.
type settings struct {
	maxLength  int
	targetPeak float64
	privileged map[string]struct{}
}

// ─── Orchestrator ────────────────────────────────────────────────────────────

// Config wires an [Orchestrator]. Every collaborator is required except
// Metrics, which defaults to [observe.DefaultMetrics].
type Config struct {
	Prefixes    Prefixes
	Mutes       Mutes
	Voices      Voices
	Synthesizer tts.Provider
	Sessions    Sessions
	Roster      Roster
	Reactor     Reactor
	Metrics     *observe.Metrics
	Settings    Settings
}

// Orchestrator runs the per-message pipeline. It is safe for concurrent use;
// Discord delivers each message on its own goroutine.
type Orchestrator struct {
	prefixes Prefixes
	mutes    Mutes
	voices   Voices
	synth    tts.Provider
	sessions Sessions
	roster   Roster
	reactor  Reactor
	metrics  *observe.Metrics

	settings atomic.Pointer[settings]
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Prefixes == nil, cfg.Mutes == nil, cfg.Voices == nil:
		return nil, errors.New("orchestrator: stores are required")
	case cfg.Synthesizer == nil:
		return nil, errors.New("orchestrator: synthesizer is required")
	case cfg.Sessions == nil:
		return nil, errors.New("orchestrator: sessions are required")
	case cfg.Roster == nil, cfg.Reactor == nil:
		return nil, errors.New("orchestrator: roster and reactor are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	o := &Orchestrator{
		prefixes: cfg.Prefixes,
		mutes:    cfg.Mutes,
		voices:   cfg.Voices,
		synth:    cfg.Synthesizer,
		sessions: cfg.Sessions,
		roster:   cfg.Roster,
		reactor:  cfg.Reactor,
		metrics:  cfg.Metrics,
	}
	if err := o.SetSettings(cfg.Settings); err != nil {
		return nil, err
	}
	return o, nil
}

// SetSettings replaces the runtime settings. Messages already past the
// length gate keep the settings they started with.
func (o *Orchestrator) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	priv := make(map[string]struct{}, len(s.Privileged))
	for _, id := range s.Privileged {
		priv[id] = struct{}{}
	}
	o.settings.Store(&settings{maxLength: s.MaxLength, targetPeak: s.TargetPeak, privileged: priv})
	return nil
}

// Handle runs msg through the pipeline. The returned error is non-nil only
// for OutcomeBusy and OutcomeFailed; it has already been logged and counted.
func (o *Orchestrator) Handle(ctx context.Context, msg Message) (Outcome, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.Handle",
		trace.WithAttributes(
			attribute.String("guild_id", msg.GuildID),
			attribute.String("channel_id", msg.ChannelID),
		),
	)
	outcome, err := o.handle(ctx, msg)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	observe.EndSpan(span, err)

	o.metrics.RecordMessage(ctx, outcome.String())
	if err != nil {
		observe.Logger(ctx).Warn("orchestrator: message not spoken",
			"guild_id", msg.GuildID,
			"channel_id", msg.ChannelID,
			"message_id", msg.ID,
			"outcome", outcome.String(),
			"err", err,
		)
	}
	return outcome, err
}

func (o *Orchestrator) handle(ctx context.Context, msg Message) (Outcome, error) {
	if msg.AuthorBot || msg.GuildID == "" {
		return OutcomeIgnored, nil
	}

	prefix := o.prefixes.Get(msg.GuildID)
	text, ok := strings.CutPrefix(msg.Content, prefix)
	if !ok {
		return OutcomeIgnored, nil
	}

	if o.mutes.Get(msg.GuildID, msg.AuthorID) {
		o.react(ctx, msg, ReactionMuted)
		return OutcomeMuted, nil
	}

	text = Shape(text)
	if text == "" {
		return OutcomeEmpty, nil
	}

	set := o.settings.Load()
	if _, exempt := set.privileged[msg.AuthorID]; !exempt {
		var cut bool
		if text, cut = Truncate(text, set.maxLength); cut {
			o.react(ctx, msg, ReactionTruncated)
		}
	}

	if n, voice := o.roster.Occupants(msg.GuildID, msg.ChannelID); !voice || n == 0 {
		return OutcomeNoVoiceChannel, nil
	}

	ticket, err := o.sessions.Reserve(msg.GuildID)
	if err != nil {
		if errors.Is(err, session.ErrQueueFull) {
			return OutcomeBusy, err
		}
		return OutcomeFailed, err
	}
	defer ticket.Release()

	clip, err := o.render(ctx, text, o.voices.Get(msg.AuthorID), set.targetPeak)
	if err != nil {
		return OutcomeFailed, err
	}

	if err := ticket.Play(ctx, msg.ChannelID, clip); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSpoken, nil
}

// render synthesises text and prepares it for playback. No session lock is
// held here.
func (o *Orchestrator) render(ctx context.Context, text string, voice tts.VoiceProfile, peak float64) (audio.Clip, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.render",
		trace.WithAttributes(attribute.Int("text_runes", len([]rune(text)))),
	)
	var err error
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	wav, err := o.synth.Synthesize(ctx, text, voice)
	o.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordSynthesisError(ctx, synthesisReason(err))
		return audio.Clip{}, err
	}

	wav, err = audio.Normalize(wav, peak)
	if err != nil {
		o.metrics.RecordSynthesisError(ctx, "decode")
		return audio.Clip{}, fmt.Errorf("orchestrator: normalize: %w", err)
	}

	clip, err := audio.DecodeClip(wav)
	if err != nil {
		o.metrics.RecordSynthesisError(ctx, "decode")
		return audio.Clip{}, fmt.Errorf("orchestrator: decode: %w", err)
	}
	return clip, nil
}

func (o *Orchestrator) react(ctx context.Context, msg Message, emoji string) {
	if err := o.reactor.React(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
		observe.Logger(ctx).Warn("orchestrator: failed to react",
			"guild_id", msg.GuildID,
			"message_id", msg.ID,
			"emoji", emoji,
			"err", err,
		)
	}
}

// synthesisReason classifies a synthesis error for metrics.
func synthesisReason(err error) string {
	var se *tts.SynthesisError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, tts.ErrInvalidVoice):
		return "invalid_voice"
	case errors.As(err, &se) && se.Timeout:
		return "timeout"
	default:
		return "engine"
	}
}
