// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It turns
// decoded [audio.Clip] values into the 48 kHz stereo Opus stream Discord
// voice expects.
//
// The platform requires an active *discordgo.Session owned by the bot layer.
// Each call to [Platform.Join] joins the given voice channel deafened and
// returns a [Connection] that plays clips one at a time.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// voiceJoiner is the subset of *discordgo.Session used by Platform.
type voiceJoiner interface {
	ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session voiceJoiner
}

// New creates a Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Join connects to channelID in guildID, deafened and unmuted, and returns an
// active [audio.Connection]. discordgo blocks until the voice handshake
// completes or times out; ctx cancellation abandons the wait.
func (p *Platform) Join(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- result{vc, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		// Tear down the connection if the join completes after we gave up.
		go func() {
			if late := <-ch; late.vc != nil {
				_ = late.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
	if r.err != nil {
		if r.vc != nil {
			_ = r.vc.Disconnect()
		}
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
	}

	conn, err := newConnection(r.vc, guildID, channelID)
	if err != nil {
		_ = r.vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}
