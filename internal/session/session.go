// Package session owns the per-guild voice connection state.
//
// Each guild is either Absent (no connection) or Connected to exactly one
// voice channel. The [Manager] moves a guild between those states in
// response to two events: a message that needs to be spoken in some channel,
// and a voice roster change that leaves the bound channel without listeners.
// The transitions table below is the only place those decisions are made.
//
// Playback within a guild is strictly first-come first-served: callers
// [Manager.Reserve] a [Ticket] when a message arrives, do their slow work
// (synthesis) without any session lock, and then [Ticket.Play] waits for
// every earlier ticket of the guild before it takes the guild lock.
package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is matched by every [*ConnectionError].
	ErrConnection = errors.New("session: voice connection failed")

	// ErrQueueFull is returned by [Manager.Reserve] when a guild already has
	// the maximum number of outstanding tickets.
	ErrQueueFull = errors.New("session: playback queue full")

	// ErrClosed is returned once [Manager.Close] has been called.
	ErrClosed = errors.New("session: manager closed")

	// ErrTicketUsed is returned by [Ticket.Play] on a ticket that was
	// already played or released.
	ErrTicketUsed = errors.New("session: ticket already used")
)

// ConnectionError reports a failed operation on the voice boundary.
type ConnectionError struct {
	// Op is the failed action: "join", "switch", "deafen", "play" or "leave".
	Op        string
	GuildID   string
	ChannelID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s guild %s channel %s: %v", e.Op, e.GuildID, e.ChannelID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnection) succeed.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// State is the connection state of one guild.
type State int

const (
	// StateAbsent means the bot has no voice connection in the guild.
	StateAbsent State = iota

	// StateConnected means the bot is in exactly one voice channel.
	StateConnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// event is an input to the state machine.
type event int

const (
	// eventMessage: a message must be spoken in a channel.
	eventMessage event = iota

	// eventRosterEmpty: a channel has no non-bot occupants left.
	eventRosterEmpty
)

// action is what the manager does in response to an event.
type action int

const (
	actionNone action = iota
	actionJoin
	actionSwitch
	actionLeave
)

func (a action) String() string {
	switch a {
	case actionJoin:
		return "join"
	case actionSwitch:
		return "switch"
	case actionLeave:
		return "leave"
	default:
		return "none"
	}
}

// transitionKey selects a row of the transitions table. bound reports
// whether the event's channel is the channel the guild is connected to; it
// is always false while Absent.
type transitionKey struct {
	state State
	event event
	bound bool
}

// transitions maps every reachable (state, event, bound) triple to its
// action. After a join or switch the connection is deafened if it is not
// already.
var transitions = map[transitionKey]action{
	{StateAbsent, eventMessage, false}:        actionJoin,
	{StateConnected, eventMessage, true}:      actionNone,
	{StateConnected, eventMessage, false}:     actionSwitch,
	{StateConnected, eventRosterEmpty, true}:  actionLeave,
	{StateConnected, eventRosterEmpty, false}: actionNone,
	{StateAbsent, eventRosterEmpty, false}:    actionNone,
}

// decide looks up the action for an event. Unlisted combinations do nothing.
func decide(s State, e event, bound bool) action {
	return transitions[transitionKey{state: s, event: e, bound: bound}]
}

// Status is a point-in-time view of one guild's session.
type Status struct {
	State     State
	ChannelID string
	Deafened  bool

	// Pending is the number of outstanding playback tickets.
	Pending int

	// Epoch identifies the live connection. Every join gets a new value;
	// it is 0 while Absent.
	Epoch uint64
}
