// Package discord is the Discord gateway layer of the bot. It owns the
// discordgo.Session lifecycle, turns gateway events into calls on the
// message orchestrator and the voice session manager, and routes slash
// command interactions to registered handlers.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/internal/orchestrator"
	"github.com/MrWong99/dectalkbot/pkg/audio"
	discordaudio "github.com/MrWong99/dectalkbot/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID, when set, registers slash commands in that guild only.
	// Guild commands update instantly, which is handy during development.
	GuildID string

	// Owners are user IDs allowed to run every command.
	Owners []string
}

// MessageHandler consumes guild chat messages.
// *orchestrator.Orchestrator implements it.
type MessageHandler interface {
	Handle(ctx context.Context, msg orchestrator.Message) (orchestrator.Outcome, error)
}

// VoiceSessions is the part of the session manager that reacts to voice
// state changes. *session.Manager implements it.
type VoiceSessions interface {
	Bound(guildID string) (string, bool)
	Epoch(guildID string) uint64
	RosterChanged(ctx context.Context, guildID, channelID string, occupants int) error
	Disconnected(ctx context.Context, guildID string, epoch uint64) error
}

// occupancy is implemented by [*Roster].
type occupancy interface {
	Occupants(guildID, channelID string) (int, bool)
	InVoice(guildID, userID string) bool
}

// Bot owns the Discord gateway connection and dispatches events.
type Bot struct {
	ctx       context.Context
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	perms     *PermissionChecker
	roster    occupancy
	guildID   string
	closeOnce sync.Once
	ready     atomic.Bool

	mu       sync.RWMutex
	messages MessageHandler
	voice    VoiceSessions
	commands []*discordgo.ApplicationCommand
}

// New creates a Bot. The gateway is not opened until [Bot.Run]; attach
// handlers with [Bot.Attach] before that. ctx is the parent of every
// event handler's context.
func New(ctx context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	b := &Bot{
		ctx:      ctx,
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.Owners),
		roster:   NewRoster(session.State),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(m.Message)
	})
	session.AddHandler(func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		b.handleVoiceState(s.State.User.ID, v.VoiceState)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Store(true)
		slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.ready.Store(true)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Store(false)
		slog.Warn("discord gateway disconnected")
	})

	return b, nil
}

// Attach sets the consumers of message and voice state events.
func (b *Bot) Attach(messages MessageHandler, voice VoiceSessions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = messages
	b.voice = voice
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Roster returns the voice channel occupancy view backed by the gateway
// state cache.
func (b *Bot) Roster() orchestrator.Roster {
	return NewRoster(b.session.State)
}

// Reactor returns a Reactor sharing the bot's session.
func (b *Bot) Reactor() orchestrator.Reactor {
	return NewReactor(b.session)
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Ready reports whether the gateway connection is up.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// Run opens the gateway, registers slash commands and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		appID := b.session.State.User.ID
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord. Guild-scoped commands are unregistered;
// global commands are kept because they take a while to propagate.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.guildID != "" && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// ─── event handling ──────────────────────────────────────────────────────────

// toMessage converts a gateway message. Messages without an author (system
// messages) return false.
func toMessage(m *discordgo.Message) (orchestrator.Message, bool) {
	if m == nil || m.Author == nil {
		return orchestrator.Message{}, false
	}
	return orchestrator.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		AuthorBot: m.Author.Bot,
		Content:   m.Content,
	}, true
}

func (b *Bot) handleMessage(m *discordgo.Message) {
	b.mu.RLock()
	h := b.messages
	b.mu.RUnlock()
	if h == nil {
		return
	}
	msg, ok := toMessage(m)
	if !ok {
		return
	}
	// Errors are logged by the handler.
	_, _ = h.Handle(b.ctx, msg)
}

// handleVoiceState reacts to somebody joining, leaving or moving. When the
// bot itself was disconnected its session is dropped; otherwise the bound
// channel's occupancy is re-evaluated.
//
// The bot's own leave is echoed back as a self voice state without a
// channel, possibly after a later message has already rejoined. Such an
// echo only drops the connection that was live when it arrived, and not at
// all once the state cache shows the bot in a channel again.
func (b *Bot) handleVoiceState(selfID string, vs *discordgo.VoiceState) {
	b.mu.RLock()
	v := b.voice
	b.mu.RUnlock()
	if v == nil || vs == nil || vs.GuildID == "" {
		return
	}

	if vs.UserID == selfID && vs.ChannelID == "" {
		epoch := v.Epoch(vs.GuildID)
		if epoch == 0 || b.roster.InVoice(vs.GuildID, selfID) {
			return
		}
		if err := v.Disconnected(b.ctx, vs.GuildID, epoch); err != nil {
			slog.Warn("discord: leave after disconnect failed", "guild_id", vs.GuildID, "err", err)
		}
		return
	}

	channelID, ok := v.Bound(vs.GuildID)
	if !ok {
		return
	}
	n, _ := b.roster.Occupants(vs.GuildID, channelID)
	if err := v.RosterChanged(b.ctx, vs.GuildID, channelID, n); err != nil {
		slog.Warn("discord: roster change failed",
			"guild_id", vs.GuildID,
			"channel_id", channelID,
			"err", err,
		)
	}
}
