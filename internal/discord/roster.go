package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Roster answers voice channel occupancy questions from the gateway state
// cache. It never calls the REST API.
type Roster struct {
	state *discordgo.State
}

// NewRoster creates a Roster over state. state must track guilds, channels
// and voice states, which is the discordgo default.
func NewRoster(state *discordgo.State) *Roster {
	return &Roster{state: state}
}

// Occupants returns the number of non-bot users connected to channelID and
// whether channelID is a voice or stage channel. Unknown channels report
// (0, false). The bot itself never counts, even when its member record is
// missing from the cache.
func (r *Roster) Occupants(guildID, channelID string) (int, bool) {
	ch, err := r.state.Channel(channelID)
	if err != nil || !isVoiceChannel(ch.Type) {
		return 0, false
	}
	g, err := r.state.Guild(guildID)
	if err != nil {
		return 0, true
	}

	// Collect occupants under the state lock; member lookups below take the
	// lock themselves.
	var unknown []string
	n := 0
	r.state.RLock()
	self := r.selfIDLocked()
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == self {
			continue
		}
		switch {
		case vs.Member != nil && vs.Member.User != nil:
			if !vs.Member.User.Bot {
				n++
			}
		default:
			unknown = append(unknown, vs.UserID)
		}
	}
	r.state.RUnlock()

	for _, userID := range unknown {
		m, err := r.state.Member(guildID, userID)
		if err != nil || m.User == nil || !m.User.Bot {
			n++
		}
	}
	return n, true
}

// InVoice reports whether the cache shows userID connected to any voice
// channel of guildID.
func (r *Roster) InVoice(guildID, userID string) bool {
	vs, err := r.state.VoiceState(guildID, userID)
	return err == nil && vs.ChannelID != ""
}

// selfIDLocked returns the bot's user ID once the gateway is ready. Must be
// called with the state lock held.
func (r *Roster) selfIDLocked() string {
	if r.state.User == nil {
		return ""
	}
	return r.state.User.ID
}

func isVoiceChannel(t discordgo.ChannelType) bool {
	return t == discordgo.ChannelTypeGuildVoice || t == discordgo.ChannelTypeGuildStageVoice
}

// reactionAdder is the subset of *discordgo.Session used by Reactor.
type reactionAdder interface {
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

// Reactor adds unicode emoji reactions to messages.
type Reactor struct {
	session reactionAdder
}

// NewReactor creates a Reactor for session.
func NewReactor(session *discordgo.Session) *Reactor {
	return &Reactor{session: session}
}

// React adds emoji to the message.
func (r *Reactor) React(ctx context.Context, channelID, messageID, emoji string) error {
	return r.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}
