// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library.
//
// The platform requires an active *discordgo.Session (owned by the bot layer)
// and a guild ID. It translates gateway VoiceStateUpdate events into
// [audio.Event] values and, on [Platform.Connect], joins a voice channel and
// returns a [Connection] that hands out per-user Opus streams.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scryer/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

const eventBuffer = 64

// Platform implements [audio.Platform] for a single Discord guild.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string

	events        chan audio.Event
	removeHandler func()

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Discord Platform for the given session and guild and starts
// listening for voice-state changes. Call [Platform.Close] to stop.
func New(session *discordgo.Session, guildID string) *Platform {
	p := &Platform{
		session: session,
		guildID: guildID,
		events:  make(chan audio.Event, eventBuffer),
		done:    make(chan struct{}),
	}
	p.removeHandler = session.AddHandler(p.handleVoiceStateUpdate)
	return p
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Connection].
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	// mute=true: the recorder never speaks. deaf=false: we need to receive audio.
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.guildID, channelID, p.memberLister(channelID)), nil
}

// Events implements [audio.Platform].
func (p *Platform) Events() <-chan audio.Event {
	return p.events
}

// BotUserID implements [audio.Platform]. It returns "" until the gateway has
// delivered the READY event.
func (p *Platform) BotUserID() string {
	if p.session.State == nil || p.session.State.User == nil {
		return ""
	}
	return p.session.State.User.ID
}

// Close stops delivering events. It is safe to call more than once.
func (p *Platform) Close() {
	p.closeOnce.Do(func() {
		if p.removeHandler != nil {
			p.removeHandler()
		}
		close(p.done)
	})
}

// handleVoiceStateUpdate forwards voice-state changes of this guild to the
// event channel.
func (p *Platform) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.VoiceState == nil || vsu.GuildID != p.guildID {
		return
	}
	ev := eventFromUpdate(vsu)
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// eventFromUpdate converts a gateway update into an [audio.Event].
func eventFromUpdate(vsu *discordgo.VoiceStateUpdate) audio.Event {
	ev := audio.Event{
		GuildID:        vsu.GuildID,
		UserID:         vsu.UserID,
		AfterChannelID: vsu.ChannelID,
	}
	if vsu.BeforeUpdate != nil {
		ev.BeforeChannelID = vsu.BeforeUpdate.ChannelID
	}
	if vsu.Member != nil && vsu.Member.User != nil {
		ev.Username = vsu.Member.User.Username
		ev.Bot = vsu.Member.User.Bot
	}
	return ev
}

// memberLister returns a function listing the members of channelID from the
// session's state cache.
func (p *Platform) memberLister(channelID string) func() []audio.Member {
	return func() []audio.Member {
		if p.session.State == nil {
			return nil
		}
		guild, err := p.session.State.Guild(p.guildID)
		if err != nil {
			return nil
		}

		p.session.State.RLock()
		var ids []string
		for _, vs := range guild.VoiceStates {
			if vs.ChannelID == channelID {
				ids = append(ids, vs.UserID)
			}
		}
		p.session.State.RUnlock()

		members := make([]audio.Member, 0, len(ids))
		for _, id := range ids {
			m := audio.Member{UserID: id}
			if gm, err := p.session.State.Member(p.guildID, id); err == nil && gm.User != nil {
				m.Username = gm.User.Username
				m.Bot = gm.User.Bot
			}
			members = append(members, m)
		}
		return members
	}
}
