package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scryer/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// subscriberBuffer holds ~5 s of 20 ms packets per user.
const subscriberBuffer = 256

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Discord identifies incoming RTP streams by
// SSRC; the SSRC → user mapping is learned from speaking updates, and packets
// of subscribed users are forwarded to their stream.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string

	mu       sync.Mutex
	ssrcUser map[uint32]string
	subs     map[string]chan audio.Packet

	listMembers func() []audio.Member

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Disconnect to leave the channel.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, guildID, channelID string, listMembers func() []audio.Member) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		ssrcUser:     make(map[uint32]string),
		subs:         make(map[string]chan audio.Packet),
		listMembers:  listMembers,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.recvLoop()
	return c
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.channelID }

// Subscribe implements [audio.Connection].
func (c *Connection) Subscribe(userID string) (<-chan audio.Packet, error) {
	select {
	case <-c.done:
		return nil, audio.ErrDisconnected
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.subs[userID]; ok {
		close(old)
	}
	ch := make(chan audio.Packet, subscriberBuffer)
	c.subs[userID] = ch
	return ch, nil
}

// Unsubscribe implements [audio.Connection].
func (c *Connection) Unsubscribe(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[userID]; ok {
		close(ch)
		delete(c.subs, userID)
	}
}

// Members implements [audio.Connection].
func (c *Connection) Members() []audio.Member {
	if c.listMembers == nil {
		return nil
	}
	return c.listMembers()
}

// Disconnect leaves the voice channel and closes all subscriber streams. It is
// safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
	return err
}

// handleSpeakingUpdate records which user owns an SSRC.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()
}

// recvLoop reads Opus packets from the voice connection and forwards them to
// the subscriber of the owning user.
func (c *Connection) recvLoop() {
	dropped := make(map[string]int)
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			c.deliver(pkt, dropped)
		}
	}
}

// deliver hands one packet to its subscriber. The lock is held while sending
// so that Unsubscribe cannot close the channel underneath us; the send itself
// never blocks.
func (c *Connection) deliver(pkt *discordgo.Packet, dropped map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, known := c.ssrcUser[pkt.SSRC]
	if !known {
		return
	}
	ch, subscribed := c.subs[userID]
	if !subscribed {
		return
	}

	select {
	case ch <- audio.Packet{Opus: pkt.Opus, Sequence: pkt.Sequence, Timestamp: pkt.Timestamp}:
	default:
		dropped[userID]++
		// Log on the first drop and then every 50 to avoid flooding.
		if n := dropped[userID]; n == 1 || n%50 == 0 {
			slog.Warn("discord: subscriber buffer full, dropping packet",
				"user_id", userID, "dropped", n)
		}
	}
}
