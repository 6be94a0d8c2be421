// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	platform := &mock.Platform{}
//	conn, err := platform.Join(ctx, "guild-1", "voice-42")
//	_ = conn.Play(ctx, clip)
//	last := platform.Connections()[0]
//	fmt.Println(last.PlayCount(), last.Deafened())
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dectalkbot/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported error fields before use; inspect the recorded calls after.
type Connection struct {
	mu sync.Mutex

	// GuildID is the guild this connection was joined in.
	GuildID string

	// --- Configurable responses ---

	// DeafenErr is returned by [Connection.Deafen].
	DeafenErr error

	// MoveErr is returned by [Connection.Move].
	MoveErr error

	// PlayErr is returned by [Connection.Play].
	PlayErr error

	// DisconnectErr is returned by the first [Connection.Disconnect].
	DisconnectErr error

	// PlayHook, if set, runs inside Play before it returns. Tests use it to
	// block playback or observe ordering.
	PlayHook func(ctx context.Context, clip audio.Clip) error

	// --- State and call records ---

	channelID    string
	deafened     bool
	disconnected bool

	plays       []audio.Clip
	moves       []string
	deafenCalls []bool
	disconnects int
}

// NewConnection returns a Connection already joined to channelID.
func NewConnection(guildID, channelID string, deafened bool) *Connection {
	return &Connection{GuildID: guildID, channelID: channelID, deafened: deafened}
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Deafened implements [audio.Connection].
func (c *Connection) Deafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deafened
}

// Deafen implements [audio.Connection]. On success the deafen state changes.
func (c *Connection) Deafen(_ context.Context, deaf bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deafenCalls = append(c.deafenCalls, deaf)
	if c.DeafenErr != nil {
		return c.DeafenErr
	}
	c.deafened = deaf
	return nil
}

// Move implements [audio.Connection]. On success the channel changes.
func (c *Connection) Move(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, channelID)
	if c.MoveErr != nil {
		return c.MoveErr
	}
	c.channelID = channelID
	return nil
}

// Play implements [audio.Connection]. It records clip, runs PlayHook, then
// returns PlayErr.
func (c *Connection) Play(ctx context.Context, clip audio.Clip) error {
	c.mu.Lock()
	c.plays = append(c.plays, clip)
	hook := c.PlayHook
	err := c.PlayErr
	c.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, clip); hookErr != nil {
			return hookErr
		}
	}
	return err
}

// Disconnect implements [audio.Connection]. Only the first call counts and
// returns DisconnectErr.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil
	}
	c.disconnected = true
	c.disconnects++
	return c.DisconnectErr
}

// Plays returns a copy of every clip passed to Play.
func (c *Connection) Plays() []audio.Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Clip, len(c.plays))
	copy(out, c.plays)
	return out
}

// PlayCount returns the number of Play calls.
func (c *Connection) PlayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plays)
}

// Moves returns the channel IDs passed to Move, in order.
func (c *Connection) Moves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.moves))
	copy(out, c.moves)
	return out
}

// DeafenCalls returns the values passed to Deafen, in order.
func (c *Connection) DeafenCalls() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(c.deafenCalls))
	copy(out, c.deafenCalls)
	return out
}

// Disconnected reports whether Disconnect has been called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// JoinCall records a single invocation of [Platform.Join].
type JoinCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// JoinErr, if non-nil, is returned by every Join call.
	JoinErr error

	// JoinDeafened sets the initial deafen state of joined connections.
	// Leave false to let the session manager enforce deafening itself.
	JoinDeafened bool

	// Prepare, if set, is called on every new Connection before Join returns.
	// Tests use it to inject per-connection errors or hooks.
	Prepare func(*Connection)

	calls []JoinCall
	conns []*Connection
}

// Join implements [audio.Platform].
func (p *Platform) Join(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, JoinCall{GuildID: guildID, ChannelID: channelID})
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}
	c := NewConnection(guildID, channelID, p.JoinDeafened)
	if p.Prepare != nil {
		p.Prepare(c)
	}
	p.conns = append(p.conns, c)
	return c, nil
}

// JoinCalls returns a copy of every recorded Join call.
func (p *Platform) JoinCalls() []JoinCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]JoinCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Connections returns every Connection handed out, in creation order.
func (p *Platform) Connections() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Connection, len(p.conns))
	copy(out, p.conns)
	return out
}

// Last returns the most recent Connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

// SetJoinErr replaces JoinErr under the lock.
func (p *Platform) SetJoinErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JoinErr = err
}

// Compile-time interface assertions.
var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)
