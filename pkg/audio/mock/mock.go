// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that tests
// can assert on call counts and arguments, and expose fields that control
// return values.
//
// Typical usage:
//
//	conn := mock.NewConnection("guild-1", "voice-1")
//	platform := &mock.Platform{ConnectResult: conn}
//	stream, _ := conn.Subscribe("user-1")
//	conn.Send("user-1", audio.Packet{Opus: []byte{0xFC}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scryer/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection]. Streams handed
// out by Subscribe are fed with [Connection.Send].
type Connection struct {
	mu sync.Mutex

	Guild   string
	Channel string

	// MembersResult is returned by [Connection.Members].
	MembersResult []audio.Member

	// SubscribeErr, when set, is returned by every Subscribe call.
	SubscribeErr error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// SubscribeCalls and UnsubscribeCalls record user IDs in call order.
	SubscribeCalls   []string
	UnsubscribeCalls []string

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	streams map[string]chan audio.Packet
	closed  bool
}

// NewConnection returns a Connection scoped to guildID/channelID.
func NewConnection(guildID, channelID string) *Connection {
	return &Connection{Guild: guildID, Channel: channelID}
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Guild
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// Subscribe implements [audio.Connection].
func (c *Connection) Subscribe(userID string) (<-chan audio.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, userID)
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	if c.closed {
		return nil, audio.ErrDisconnected
	}
	if c.streams == nil {
		c.streams = make(map[string]chan audio.Packet)
	}
	if old, ok := c.streams[userID]; ok {
		close(old)
	}
	ch := make(chan audio.Packet, 64)
	c.streams[userID] = ch
	return ch, nil
}

// Unsubscribe implements [audio.Connection].
func (c *Connection) Unsubscribe(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UnsubscribeCalls = append(c.UnsubscribeCalls, userID)
	if ch, ok := c.streams[userID]; ok {
		close(ch)
		delete(c.streams, userID)
	}
}

// Members implements [audio.Connection].
func (c *Connection) Members() []audio.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Member(nil), c.MembersResult...)
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if !c.closed {
		c.closed = true
		for id, ch := range c.streams {
			close(ch)
			delete(c.streams, id)
		}
	}
	return c.DisconnectError
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// Send delivers pkt to userID's stream. It reports false when the user is not
// subscribed.
func (c *Connection) Send(userID string, pkt audio.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.streams[userID]
	if !ok {
		return false
	}
	ch <- pkt
	return true
}

// Subscribed reports whether userID currently has an open stream.
func (c *Connection) Subscribed(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[userID]
	return ok
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	Ctx       context.Context
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by [Platform.Connect] when ConnectError is nil.
	ConnectResult audio.Connection

	// ConnectError is returned by [Platform.Connect] when non-nil.
	ConnectError error

	// BotID is returned by [Platform.BotUserID].
	BotID string

	// ConnectCalls records every Connect invocation.
	ConnectCalls []ConnectCall

	// ConnectGate, when non-nil, makes Connect block after recording the call
	// until the channel is closed or ctx is done, like a slow voice handshake.
	ConnectGate chan struct{}

	events chan audio.Event
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, ChannelID: channelID})
	gate := p.ConnectGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	return p.ConnectResult, nil
}

// Connects returns how many times Connect was called.
func (p *Platform) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Events implements [audio.Platform].
func (p *Platform) Events() <-chan audio.Event {
	return p.eventChan()
}

// BotUserID implements [audio.Platform].
func (p *Platform) BotUserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.BotID
}

// Emit delivers ev to the Events channel.
func (p *Platform) Emit(ev audio.Event) {
	p.eventChan() <- ev
}

func (p *Platform) eventChan() chan audio.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(chan audio.Event, 64)
	}
	return p.events
}
