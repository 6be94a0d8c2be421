package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// errClosed is returned by operations on a disconnected Connection.
var errClosed = errors.New("discord: connection closed")

// opusFrameBytes is the exact PCM input size for one Opus frame:
// 960 samples/channel × 2 channels × 2 bytes/sample = 3840 bytes.
const opusFrameBytes = opusFrameSize * opusChannels * 2

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Clips are converted to 48 kHz stereo,
// split into 20 ms frames, Opus-encoded and written to OpusSend.
//
// Connection is safe for concurrent use, though the session manager only
// ever calls it from one goroutine at a time.
type Connection struct {
	guildID string
	opus    chan<- []byte
	enc     *opusEncoder
	conv    audio.FormatConverter

	mu        sync.Mutex
	channelID string
	deafened  bool

	done      chan struct{}
	closeOnce sync.Once

	// The following wrap vc methods; overridden in tests.
	changeChannel func(channelID string, mute, deaf bool) error
	speaking      func(bool) error
	disconnectVC  func() error
}

// newConnection initialises a Connection for an already-joined, deafened
// voice channel.
func newConnection(vc *discordgo.VoiceConnection, guildID, channelID string) (*Connection, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	return &Connection{
		guildID:       guildID,
		opus:          vc.OpusSend,
		enc:           enc,
		conv:          audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}},
		channelID:     channelID,
		deafened:      true,
		done:          make(chan struct{}),
		changeChannel: vc.ChangeChannel,
		speaking:      vc.Speaking,
		disconnectVC:  vc.Disconnect,
	}, nil
}

// ChannelID returns the voice channel the connection is in.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Deafened reports the current self-deafen flag.
func (c *Connection) Deafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deafened
}

// Deafen re-sends the voice state for the current channel with the given
// deafen flag.
func (c *Connection) Deafen(_ context.Context, deaf bool) error {
	if c.closed() {
		return errClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.changeChannel(c.channelID, false, deaf); err != nil {
		return fmt.Errorf("discord: set deafen=%t in %q: %w", deaf, c.channelID, err)
	}
	c.deafened = deaf
	return nil
}

// Move switches to channelID, keeping the current deafen state.
func (c *Connection) Move(_ context.Context, channelID string) error {
	if c.closed() {
		return errClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.changeChannel(channelID, false, c.deafened); err != nil {
		return fmt.Errorf("discord: move to %q: %w", channelID, err)
	}
	c.channelID = channelID
	return nil
}

// Play converts clip to Discord's format and sends it frame by frame. The
// final partial frame is padded with silence. Play returns when every frame
// has been handed to discordgo, ctx is done, or the connection closes.
func (c *Connection) Play(ctx context.Context, clip audio.Clip) error {
	if c.closed() {
		return errClosed
	}
	pcm := c.conv.Convert(clip.Frame()).Data
	if len(pcm) == 0 {
		return nil
	}
	if rem := len(pcm) % opusFrameBytes; rem != 0 {
		pcm = append(pcm, make([]byte, opusFrameBytes-rem)...)
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for off := 0; off < len(pcm); off += opusFrameBytes {
		packet, err := c.enc.encode(pcm[off : off+opusFrameBytes])
		if err != nil {
			return err
		}
		select {
		case c.opus <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errClosed
		}
	}
	return nil
}

// Disconnect leaves the voice channel. It is safe to call more than once;
// subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "guild_id", c.guildID, "speaking", b, "error", err)
	}
}
