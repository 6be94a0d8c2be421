// Package audio defines the voice platform abstraction and the PCM/WAV
// handling used to get synthesised speech into a voice channel.
//
// The two primary abstractions are:
//
//   - [Platform] joins a guild voice channel and returns a [Connection].
//   - [Connection] is the live voice link for one guild: it can move between
//     channels, deafen itself, and play [Clip] values one at a time.
//
// Platform adapters (e.g. audio/discord) implement these interfaces. The
// session manager owns every Connection and serialises calls on it, so
// implementations only need to tolerate Disconnect racing with Play.
//
// The package also provides the WAV codec ([DecodeWAV], [EncodeWAV]), peak
// normalization ([Normalize]) and format conversion ([FormatConverter]).
package audio

import (
	"context"
)

// Connection is an active voice link for one guild.
//
// A Connection is obtained from [Platform.Join] and remains valid until
// [Connection.Disconnect] is called or a call fails in a way that tears the
// link down.
type Connection interface {
	// ChannelID returns the voice channel the connection is currently in.
	ChannelID() string

	// Deafened reports whether the bot is server-side deafened.
	Deafened() bool

	// Deafen sets the bot's self-deafen flag without leaving the channel.
	Deafen(ctx context.Context, deaf bool) error

	// Move switches the connection to another voice channel in the same
	// guild, keeping the current deafen state.
	Move(ctx context.Context, channelID string) error

	// Play sends clip to the channel and blocks until it has been fully
	// sent, ctx is cancelled, or the connection drops.
	Play(ctx context.Context, clip Clip) error

	// Disconnect leaves the channel. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use across guilds.
type Platform interface {
	// Join connects to channelID in guildID and returns the connection. The
	// bot joins deafened. ctx bounds the connection attempt only.
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}
