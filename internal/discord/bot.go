// Package discord provides the Discord bot layer for scryer. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, and checks operator role permissions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	discordaudio "github.com/MrWong99/scryer/pkg/audio/discord"
)

// ErrNoTextChannel is returned by [Bot.SendText] when no text channel is
// configured.
var ErrNoTextChannel = errors.New("discord: no text channel configured")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token, without the "Bot " prefix.
	Token string

	// GuildID is the single guild the bot serves.
	GuildID string

	// OperatorRoleID may start and stop recordings. Empty allows everyone.
	OperatorRoleID string

	// TextChannelID receives announcements that have no interaction to
	// answer, such as the outcome of a stop forced by shutdown.
	TextChannelID string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu            sync.RWMutex
	session       *discordgo.Session
	platform      *discordaudio.Platform
	router        *CommandRouter
	perms         *PermissionChecker
	guildID       string
	textChannelID string
	commands      []*discordgo.ApplicationCommand
	closeOnce     sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	b := &Bot{
		session:       session,
		router:        NewCommandRouter(),
		perms:         NewPermissionChecker(cfg.OperatorRoleID),
		guildID:       cfg.GuildID,
		textChannelID: cfg.TextChannelID,
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	// The platform must see voice-state updates from the very first event.
	b.platform = discordaudio.New(session, cfg.GuildID)

	if err := session.Open(); err != nil {
		b.platform.Close()
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the audio platform for voice channel connections.
func (b *Bot) Platform() *discordaudio.Platform {
	return b.platform
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Ready reports whether the gateway connection is up and the READY event
// has been processed.
func (b *Bot) Ready() bool {
	s := b.Session()
	s.RLock()
	defer s.RUnlock()
	return s.DataReady
}

// VoiceChannelOf returns the voice channel userID currently sits in within
// the bot's guild, or "".
func (b *Bot) VoiceChannelOf(userID string) string {
	vs, err := b.Session().State.VoiceState(b.guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// SendText posts content to the configured text channel.
func (b *Bot) SendText(_ context.Context, content string) error {
	if b.textChannelID == "" {
		return ErrNoTextChannel
	}
	return SendChannel(b.Session(), b.textChannelID, content)
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters commands, stops voice event delivery and disconnects
// from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.commands) > 0 && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		b.platform.Close()
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
