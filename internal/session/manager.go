package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dectalkbot/internal/observe"
	"github.com/MrWong99/dectalkbot/pkg/audio"
)

// Default manager parameters.
const (
	defaultMaxPending  = 8
	defaultJoinTimeout = 10 * time.Second
)

// Config configures a [Manager].
type Config struct {
	// Platform joins voice channels. Required.
	Platform audio.Platform

	// MaxPending bounds the outstanding tickets per guild. Defaults to 8.
	MaxPending int

	// JoinTimeout bounds a single join attempt. Defaults to 10s.
	JoinTimeout time.Duration

	// Metrics receives transition counts. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager owns one voice session per guild. All methods are safe for
// concurrent use.
//
// Lock order: the table lock (mu) is only ever held for map and counter
// updates and is never taken while a guild lock is held.
type Manager struct {
	platform    audio.Platform
	maxPending  int
	joinTimeout time.Duration
	metrics     *observe.Metrics

	closed atomic.Bool
	joins  atomic.Uint64

	mu     sync.Mutex
	guilds map[string]*guild
}

// guild is the per-guild session record.
type guild struct {
	id string

	// mu is held for join, switch, deafen, leave and play.
	mu      sync.Mutex
	conn    audio.Connection
	channel string
	epoch   uint64

	// snap mirrors conn/channel for lock-free Status reads. Written under mu.
	snap atomic.Pointer[snapshot]

	// Guarded by Manager.mu.
	refs    int
	pending int
	tail    <-chan struct{}
}

type snapshot struct {
	conn     audio.Connection
	channel  string
	epoch    uint64
	deafened bool
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Platform == nil {
		return nil, errors.New("session: platform is required")
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		platform:    cfg.Platform,
		maxPending:  cfg.MaxPending,
		joinTimeout: cfg.JoinTimeout,
		metrics:     cfg.Metrics,
		guilds:      make(map[string]*guild),
	}, nil
}

// ─── Tickets ─────────────────────────────────────────────────────────────────

// Ticket is a reserved playback slot. Tickets of one guild play in the order
// they were reserved. Holders must call [Ticket.Release], typically deferred,
// whether or not they played.
type Ticket struct {
	m    *Manager
	g    *guild
	prev <-chan struct{}
	done chan struct{}

	used        atomic.Bool
	releaseOnce sync.Once
}

// Reserve takes the next playback slot for guildID. It fails with
// [ErrQueueFull] when the guild already has the configured maximum of
// outstanding tickets.
func (m *Manager) Reserve(guildID string) (*Ticket, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.guildLocked(guildID)
	if g.pending >= m.maxPending {
		m.releaseLocked(g)
		return nil, ErrQueueFull
	}
	g.pending++

	t := &Ticket{m: m, g: g, prev: g.tail, done: make(chan struct{})}
	g.tail = t.done
	return t, nil
}

// GuildID returns the guild the ticket belongs to.
func (t *Ticket) GuildID() string { return t.g.id }

// Play waits until every earlier ticket of the guild is released, ensures
// the guild is connected and deafened in channelID, and plays clip. A ticket
// plays at most once.
func (t *Ticket) Play(ctx context.Context, channelID string, clip audio.Clip) error {
	if !t.used.CompareAndSwap(false, true) {
		return ErrTicketUsed
	}
	start := time.Now()

	if t.prev != nil {
		select {
		case <-t.prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m, g := t.m, t.g
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := m.ensureLocked(ctx, g, channelID); err != nil {
		return err
	}

	err := g.conn.Play(ctx, clip)
	m.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.metrics.RecordSessionTransition(ctx, "play", "error")
		m.teardownLocked(ctx, g, "play")
		return &ConnectionError{Op: "play", GuildID: g.id, ChannelID: channelID, Err: err}
	}
	return nil
}

// Release frees the slot so the next ticket may play. It is idempotent.
func (t *Ticket) Release() {
	t.releaseOnce.Do(func() {
		t.used.Store(true)

		// The successor waits on done, so done may only close once every
		// earlier ticket is finished too.
		if t.prev == nil {
			close(t.done)
		} else {
			select {
			case <-t.prev:
				close(t.done)
			default:
				go func() {
					<-t.prev
					close(t.done)
				}()
			}
		}

		m := t.m
		m.mu.Lock()
		defer m.mu.Unlock()
		t.g.pending--
		m.releaseLocked(t.g)
	})
}

// ─── Transitions ─────────────────────────────────────────────────────────────

// Ensure moves guildID to Connected@channelID (joining or switching as
// needed) and makes sure the bot is deafened. It does not wait for queued
// playback to finish, only for the one currently playing.
func (m *Manager) Ensure(ctx context.Context, guildID, channelID string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	g := m.acquire(guildID)
	defer m.release(g)

	g.mu.Lock()
	defer g.mu.Unlock()
	return m.ensureLocked(ctx, g, channelID)
}

// RosterChanged reports that channelID in guildID now has occupants non-bot
// users. When the bound channel is left empty the guild returns to Absent.
func (m *Manager) RosterChanged(ctx context.Context, guildID, channelID string, occupants int) error {
	if occupants > 0 {
		return nil
	}
	g, ok := m.lookup(guildID)
	if !ok {
		return nil
	}
	defer m.release(g)

	g.mu.Lock()
	defer g.mu.Unlock()

	bound := g.conn != nil && g.channel == channelID
	if decide(g.state(), eventRosterEmpty, bound) != actionLeave {
		return nil
	}
	slog.Info("session: channel empty, leaving", "guild_id", guildID, "channel_id", channelID)
	return m.leaveLocked(ctx, g)
}

// Leave disconnects guildID regardless of its roster, for example after the
// bot was kicked from the channel. Leaving an Absent guild is a no-op.
func (m *Manager) Leave(ctx context.Context, guildID string) error {
	g, ok := m.lookup(guildID)
	if !ok {
		return nil
	}
	defer m.release(g)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	return m.leaveLocked(ctx, g)
}

// Disconnected reports that the connection identified by epoch (see
// [Status.Epoch]) was dropped by the platform. The guild returns to Absent
// only while that connection is still the live one; a report about a
// connection that has since been replaced by a newer join is ignored.
func (m *Manager) Disconnected(ctx context.Context, guildID string, epoch uint64) error {
	g, ok := m.lookup(guildID)
	if !ok {
		return nil
	}
	defer m.release(g)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil || g.epoch != epoch {
		slog.Debug("session: ignoring stale disconnect", "guild_id", guildID, "epoch", epoch, "live", g.epoch)
		return nil
	}
	return m.leaveLocked(ctx, g)
}

// ensureLocked applies eventMessage for channelID. Must be called with g.mu
// held.
func (m *Manager) ensureLocked(ctx context.Context, g *guild, channelID string) error {
	bound := g.conn != nil && g.channel == channelID
	switch act := decide(g.state(), eventMessage, bound); act {
	case actionJoin:
		if err := m.joinLocked(ctx, g, channelID); err != nil {
			return err
		}
	case actionSwitch:
		from := g.channel
		if err := g.conn.Move(ctx, channelID); err != nil {
			m.metrics.RecordSessionTransition(ctx, act.String(), "error")
			m.teardownLocked(ctx, g, act.String())
			return &ConnectionError{Op: act.String(), GuildID: g.id, ChannelID: channelID, Err: err}
		}
		g.channel = channelID
		g.publish()
		m.metrics.RecordSessionTransition(ctx, act.String(), "ok")
		slog.Info("session: switched channel", "guild_id", g.id, "from", from, "to", channelID)
	}

	if g.conn.Deafened() {
		return nil
	}
	if err := g.conn.Deafen(ctx, true); err != nil {
		m.metrics.RecordSessionTransition(ctx, "deafen", "error")
		return &ConnectionError{Op: "deafen", GuildID: g.id, ChannelID: channelID, Err: err}
	}
	g.publish()
	m.metrics.RecordSessionTransition(ctx, "deafen", "ok")
	return nil
}

func (m *Manager) joinLocked(ctx context.Context, g *guild, channelID string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	joinCtx, cancel := context.WithTimeout(ctx, m.joinTimeout)
	defer cancel()

	conn, err := m.platform.Join(joinCtx, g.id, channelID)
	if err != nil {
		m.metrics.RecordSessionTransition(ctx, "join", "error")
		return &ConnectionError{Op: "join", GuildID: g.id, ChannelID: channelID, Err: err}
	}
	if m.closed.Load() {
		_ = conn.Disconnect()
		return ErrClosed
	}

	g.conn = conn
	g.channel = channelID
	g.epoch = m.joins.Add(1)
	g.publish()
	m.metrics.RecordSessionTransition(ctx, "join", "ok")
	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session: joined", "guild_id", g.id, "channel_id", channelID)
	return nil
}

// leaveLocked disconnects and returns the guild to Absent. Must be called
// with g.mu held and g.conn set.
func (m *Manager) leaveLocked(ctx context.Context, g *guild) error {
	channelID := g.channel
	err := g.conn.Disconnect()
	m.clearLocked(ctx, g)
	if err != nil {
		m.metrics.RecordSessionTransition(ctx, "leave", "error")
		return &ConnectionError{Op: "leave", GuildID: g.id, ChannelID: channelID, Err: err}
	}
	m.metrics.RecordSessionTransition(ctx, "leave", "ok")
	return nil
}

// teardownLocked drops a connection that failed during op. Must be called
// with g.mu held and g.conn set.
func (m *Manager) teardownLocked(ctx context.Context, g *guild, op string) {
	if err := g.conn.Disconnect(); err != nil {
		slog.Debug("session: disconnect after failure", "guild_id", g.id, "op", op, "err", err)
	}
	slog.Warn("session: connection dropped", "guild_id", g.id, "channel_id", g.channel, "op", op)
	m.clearLocked(ctx, g)
}

func (m *Manager) clearLocked(ctx context.Context, g *guild) {
	g.conn = nil
	g.channel = ""
	g.epoch = 0
	g.publish()
	m.metrics.ActiveSessions.Add(ctx, -1)
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Status returns the current session view for guildID. It never waits for
// playback.
func (m *Manager) Status(guildID string) Status {
	m.mu.Lock()
	g, ok := m.guilds[guildID]
	var pending int
	if ok {
		pending = g.pending
	}
	m.mu.Unlock()
	if !ok {
		return Status{State: StateAbsent}
	}

	st := Status{State: StateAbsent, Pending: pending}
	if s := g.snap.Load(); s != nil && s.conn != nil {
		st.State = StateConnected
		st.ChannelID = s.channel
		st.Deafened = s.deafened
		st.Epoch = s.epoch
	}
	return st
}

// Bound returns the channel guildID is connected to, if any.
func (m *Manager) Bound(guildID string) (string, bool) {
	st := m.Status(guildID)
	return st.ChannelID, st.State == StateConnected
}

// Epoch returns the identifier of guildID's live connection, or 0 when
// Absent.
func (m *Manager) Epoch(guildID string) uint64 {
	return m.Status(guildID).Epoch
}

// Active returns the number of guilds with a live connection.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.guilds {
		if s := g.snap.Load(); s != nil && s.conn != nil {
			n++
		}
	}
	return n
}

// Close leaves every guild and rejects further use. Connections that are in
// the middle of playback are disconnected directly; their playing ticket
// observes the failure and finishes the teardown.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	guilds := make([]*guild, 0, len(m.guilds))
	for _, g := range m.guilds {
		guilds = append(guilds, g)
	}
	m.mu.Unlock()

	ctx := context.Background()
	var errs []error
	for _, g := range guilds {
		if g.mu.TryLock() {
			if g.conn != nil {
				errs = append(errs, m.leaveLocked(ctx, g))
			}
			g.mu.Unlock()
			continue
		}
		if s := g.snap.Load(); s != nil && s.conn != nil {
			errs = append(errs, s.conn.Disconnect())
		}
	}
	return errors.Join(errs...)
}

// ─── Guild table ─────────────────────────────────────────────────────────────

// state returns the guild's state. Must be called with g.mu held.
func (g *guild) state() State {
	if g.conn == nil {
		return StateAbsent
	}
	return StateConnected
}

// publish refreshes the Status snapshot. Must be called with g.mu held.
func (g *guild) publish() {
	s := &snapshot{conn: g.conn, channel: g.channel, epoch: g.epoch}
	if g.conn != nil {
		s.deafened = g.conn.Deafened()
	}
	g.snap.Store(s)
}

// guildLocked returns the guild record, creating it, and takes a reference.
// Must be called with m.mu held.
func (m *Manager) guildLocked(id string) *guild {
	g, ok := m.guilds[id]
	if !ok {
		g = &guild{id: id}
		g.snap.Store(&snapshot{})
		m.guilds[id] = g
	}
	g.refs++
	return g
}

func (m *Manager) acquire(id string) *guild {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guildLocked(id)
}

// lookup takes a reference on an existing guild record.
func (m *Manager) lookup(id string) (*guild, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[id]
	if !ok {
		return nil, false
	}
	g.refs++
	return g, true
}

func (m *Manager) release(g *guild) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(g)
}

// releaseLocked drops a reference and retires the record once it is unused
// and Absent. Must be called with m.mu held.
func (m *Manager) releaseLocked(g *guild) {
	g.refs--
	if g.refs > 0 {
		return
	}
	if s := g.snap.Load(); s != nil && s.conn != nil {
		return
	}
	delete(m.guilds, g.id)
}
