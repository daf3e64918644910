// Package audio defines the interfaces and types for voice platform connectivity
// used by the recorder.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and delivers membership [Event] values
//     for the guild it is bound to.
//   - [Connection] is an active voice connection from which callers subscribe to
//     one participant's compressed audio at a time.
//
// Implementations live in platform-specific adapter packages (e.g.,
// audio/discord); audio/mock holds in-memory doubles.
package audio

import (
	"context"
	"errors"
)

// ErrDisconnected is returned by [Connection.Subscribe] once the connection has
// been torn down.
var ErrDisconnected = errors.New("audio: connection closed")

// EventType classifies membership changes.
type EventType int

const (
	// EventUpdate is a state change that neither enters nor leaves a voice
	// channel (mute, deafen, ...).
	EventUpdate EventType = iota

	// EventJoin is emitted when a participant goes from no channel to a channel.
	EventJoin

	// EventLeave is emitted when a participant goes from a channel to no channel.
	EventLeave

	// EventMove is emitted when a participant switches directly between channels.
	EventMove
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventUpdate:
		return "UPDATE"
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventMove:
		return "MOVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a voice-state change for one guild member. It carries the
// channel before and after the change; an empty channel ID means "not in a
// voice channel".
type Event struct {
	GuildID  string
	UserID   string
	Username string

	// Bot is true when the member is a bot account.
	Bot bool

	BeforeChannelID string
	AfterChannelID  string
}

// Type derives the transition kind from the before/after channels.
func (e Event) Type() EventType {
	switch {
	case e.BeforeChannelID == "" && e.AfterChannelID != "":
		return EventJoin
	case e.BeforeChannelID != "" && e.AfterChannelID == "":
		return EventLeave
	case e.BeforeChannelID != e.AfterChannelID:
		return EventMove
	default:
		return EventUpdate
	}
}

// ChannelID returns the voice channel affected by the event: the new channel if
// there is one, otherwise the channel that was left.
func (e Event) ChannelID() string {
	if e.AfterChannelID != "" {
		return e.AfterChannelID
	}
	return e.BeforeChannelID
}

// Member is a participant currently present in a voice channel.
type Member struct {
	UserID   string
	Username string
	Bot      bool
}

// Connection represents an active voice connection bound to one guild and one
// channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID returns the guild the connection is scoped to.
	GuildID() string

	// ChannelID returns the voice channel the connection is joined to.
	ChannelID() string

	// Subscribe returns the compressed audio stream of one participant. The
	// stream is in manual-end mode: it stays open through silence and is closed
	// only by [Connection.Unsubscribe] or [Connection.Disconnect]. Subscribing a
	// user twice replaces (and closes) the earlier stream.
	Subscribe(userID string) (<-chan Packet, error)

	// Unsubscribe closes the stream returned by Subscribe for userID. It is a
	// no-op when the user is not subscribed.
	Unsubscribe(userID string)

	// Members returns the participants currently in the connection's channel,
	// including the bot itself.
	Members() []Member

	// Disconnect leaves the voice channel and closes every subscribed stream.
	// It is safe to call Disconnect more than once.
	Disconnect() error
}

// Platform is the entry point for a voice provider bound to a single guild.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID. ctx governs the
	// connection attempt only.
	Connect(ctx context.Context, channelID string) (Connection, error)

	// Events returns the stream of membership changes observed in the guild.
	// Consumers stop reading on their own context; the channel may never be
	// closed.
	Events() <-chan Event

	// BotUserID returns the user ID the platform is logged in as.
	BotUserID() string
}
