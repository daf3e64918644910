// Package commands implements the /scry slash command group: starting and
// stopping recordings, and reading back what was recorded.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scryer/internal/app"
	"github.com/MrWong99/scryer/internal/discord"
	"github.com/MrWong99/scryer/internal/summary"
	"github.com/MrWong99/scryer/pkg/archive"
)

const (
	// startTimeout bounds joining the voice channel.
	startTimeout = 30 * time.Second

	// stopTimeout bounds transcription and summarisation of a session.
	stopTimeout = time.Hour

	recallTimeout = 30 * time.Second

	// maxChoices is Discord's autocomplete limit.
	maxChoices = 25

	// excerptLength caps the summary shown per recalled session.
	excerptLength = 300

	statusColor = 0x8E44AD
)

// Scryer is the application surface driven by the commands. *app.App
// satisfies it.
type Scryer interface {
	StartSession(ctx context.Context, session, channelID, startedBy string) error
	StopSession(ctx context.Context, r app.Replier) error
	Status() app.Status
	Summary(session string) (*summary.Document, error)
	Transcript(session string) (*summary.Document, error)
	Sessions() ([]string, error)
	Recall(ctx context.Context, query string) ([]archive.Match, error)
}

var _ Scryer = (*app.App)(nil)

// ScryCommands holds the dependencies for /scry slash commands.
type ScryCommands struct {
	app            Scryer
	perms          *discord.PermissionChecker
	voiceChannelOf func(userID string) string
	now            func() time.Time
}

// New creates ScryCommands. voiceChannelOf reports the voice channel a user
// is connected to, or "".
func New(a Scryer, perms *discord.PermissionChecker, voiceChannelOf func(userID string) string) *ScryCommands {
	return &ScryCommands{app: a, perms: perms, voiceChannelOf: voiceChannelOf, now: time.Now}
}

// NewScryCommands creates ScryCommands bound to bot and registers them with
// the bot's router.
func NewScryCommands(bot *discord.Bot, a Scryer) *ScryCommands {
	sc := New(a, bot.Permissions(), bot.VoiceChannelOf)
	sc.Register(bot.Router())
	return sc
}

// Register registers the /scry command group with the router.
func (sc *ScryCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("scry", sc.Definition(), func(s discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand such as `/scry start` or `/scry stop`.")
	})
	router.RegisterHandler("scry/start", sc.handleStart)
	router.RegisterHandler("scry/stop", sc.handleStop)
	router.RegisterHandler("scry/summary", sc.handleSummary)
	router.RegisterHandler("scry/transcript", sc.handleTranscript)
	router.RegisterHandler("scry/status", sc.handleStatus)
	router.RegisterHandler("scry/recall", sc.handleRecall)
	router.RegisterAutocomplete("scry/summary", sc.autocompleteSession)
	router.RegisterAutocomplete("scry/transcript", sc.autocompleteSession)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *ScryCommands) Definition() *discordgo.ApplicationCommand {
	sessionOption := func(autocomplete bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "session",
			Description:  "Session name",
			Required:     true,
			Autocomplete: autocomplete,
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        "scry",
		Description: "Record, transcribe and summarise voice sessions",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start recording your current voice channel",
				Options:     []*discordgo.ApplicationCommandOption{sessionOption(false)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop recording, then transcribe and summarise the session",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "summary",
				Description: "Show the latest summary of a session",
				Options:     []*discordgo.ApplicationCommandOption{sessionOption(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "transcript",
				Description: "Show the latest transcript of a session",
				Options:     []*discordgo.ApplicationCommandOption{sessionOption(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the active session and who is being recorded",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "recall",
				Description: "Find past sessions by what happened in them",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "What are you looking for?",
					Required:    true,
				}},
			},
		},
	}
}

// ─── start / stop ─────────────────────────────────────────────────────────────

// handleStart handles /scry start.
func (sc *ScryCommands) handleStart(s discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, app.MsgNoPermission)
		return
	}
	userID := interactionUserID(i)
	channelID := sc.voiceChannelOf(userID)
	if channelID == "" {
		discord.RespondEphemeral(s, i, app.MsgNotInVoice)
		return
	}
	session := strings.TrimSpace(subcommandStringOption(i, "session"))

	discord.DeferReply(s, i, false)

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	var msg string
	switch err := sc.app.StartSession(ctx, session, channelID, userID); {
	case err == nil:
		msg = app.MsgStarted(session)
	case errors.Is(err, app.ErrSessionActive):
		msg = app.MsgSessionActive
	case errors.Is(err, app.ErrInvalidSessionName):
		msg = app.MsgInvalidName
	case errors.Is(err, app.ErrStartAborted):
		msg = app.MsgStartAborted
	default:
		slog.Error("discord: start session", "session", session, "channel_id", channelID, "err", err)
		msg = app.MsgStartFailed
	}
	if err := discord.FollowUp(s, i, msg); err != nil {
		slog.Warn("discord: start reply", "err", err)
	}
}

// handleStop handles /scry stop. Progress and outcome arrive as follow-ups
// to a public deferred reply.
func (sc *ScryCommands) handleStop(s discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, app.MsgNoPermission)
		return
	}
	discord.DeferReply(s, i, false)

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := sc.app.StopSession(ctx, &interactionReplier{s: s, i: i}); err != nil {
		slog.Info("discord: stop session", "err", err)
	}
}

// interactionReplier answers through follow-ups. Interaction tokens expire
// after 15 minutes, so once a follow-up fails the message goes to the
// channel instead.
type interactionReplier struct {
	s discord.Responder
	i *discordgo.InteractionCreate
}

var _ app.Replier = (*interactionReplier)(nil)

func (r *interactionReplier) Reply(_ context.Context, content string) error {
	err := discord.FollowUp(r.s, r.i, content)
	if err == nil || r.i.ChannelID == "" {
		return err
	}
	slog.Warn("discord: follow-up failed, posting to channel", "channel_id", r.i.ChannelID, "err", err)
	return discord.SendChannel(r.s, r.i.ChannelID, content)
}

// ─── retrieval ────────────────────────────────────────────────────────────────

// handleSummary handles /scry summary.
func (sc *ScryCommands) handleSummary(s discord.Responder, i *discordgo.InteractionCreate) {
	session := subcommandStringOption(i, "session")
	discord.DeferReply(s, i, false)

	doc, err := sc.app.Summary(session)
	var msg string
	switch {
	case errors.Is(err, summary.ErrSessionNotFound):
		msg = app.MsgSessionNotFound(session)
	case errors.Is(err, summary.ErrNotFound):
		msg = app.MsgNoSummary
	case err != nil:
		slog.Error("discord: read summary", "session", session, "err", err)
		msg = app.MsgSummaryError
	case strings.TrimSpace(doc.Text) == "":
		msg = app.MsgSummaryFailed
	default:
		msg = app.MsgSummary(doc.Text)
	}
	if err := discord.FollowUp(s, i, msg); err != nil {
		slog.Warn("discord: summary reply", "err", err)
	}
}

// handleTranscript handles /scry transcript.
func (sc *ScryCommands) handleTranscript(s discord.Responder, i *discordgo.InteractionCreate) {
	session := subcommandStringOption(i, "session")
	discord.DeferReply(s, i, false)

	doc, err := sc.app.Transcript(session)
	var msg string
	switch {
	case errors.Is(err, summary.ErrSessionNotFound):
		msg = app.MsgSessionNotFound(session)
	case errors.Is(err, summary.ErrNotFound):
		msg = app.MsgNoTranscript
	case err != nil:
		slog.Error("discord: read transcript", "session", session, "err", err)
		msg = app.MsgTranscriptError
	default:
		msg = app.MsgTranscript(doc.Text)
	}
	if err := discord.FollowUp(s, i, msg); err != nil {
		slog.Warn("discord: transcript reply", "err", err)
	}
}

// handleStatus handles /scry status.
func (sc *ScryCommands) handleStatus(s discord.Responder, i *discordgo.InteractionCreate) {
	st := sc.app.Status()
	if !st.Active {
		discord.RespondEphemeral(s, i, app.MsgNoActiveSession)
		return
	}
	discord.RespondEmbed(s, i, sc.statusEmbed(st))
}

func (sc *ScryCommands) statusEmbed(st app.Status) *discordgo.MessageEmbed {
	state := "Recording"
	if st.Stopping {
		state = "Stopping"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Session", Value: st.Name, Inline: true},
		{Name: "State", Value: state, Inline: true},
	}
	if st.ChannelID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Channel", Value: "<#" + st.ChannelID + ">", Inline: true})
	}
	if !st.StartedAt.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Started",
			Value: fmt.Sprintf("<t:%d:R> by <@%s>", st.StartedAt.Unix(), st.StartedBy),
		})
	}

	var b strings.Builder
	for _, a := range st.Recording {
		fmt.Fprintf(&b, "%s: %s\n", a.Username, sc.now().Sub(a.StartedAt).Truncate(time.Second))
	}
	recording := strings.TrimSpace(b.String())
	if recording == "" {
		recording = "Nobody"
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "Recording", Value: recording})

	return &discordgo.MessageEmbed{
		Title:  "Scrying session",
		Color:  statusColor,
		Fields: fields,
	}
}

// ─── recall ───────────────────────────────────────────────────────────────────

// handleRecall handles /scry recall.
func (sc *ScryCommands) handleRecall(s discord.Responder, i *discordgo.InteractionCreate) {
	query := subcommandStringOption(i, "query")
	discord.DeferReply(s, i, false)

	ctx, cancel := context.WithTimeout(context.Background(), recallTimeout)
	defer cancel()

	matches, err := sc.app.Recall(ctx, query)
	var msg string
	switch {
	case errors.Is(err, app.ErrRecallUnavailable):
		msg = app.MsgRecallUnavailable
	case err != nil:
		slog.Error("discord: recall", "err", err)
		msg = app.MsgRecallError
	case len(matches) == 0:
		msg = app.MsgRecallEmpty
	default:
		msg = formatMatches(matches)
	}
	if err := discord.FollowUp(s, i, msg); err != nil {
		slog.Warn("discord: recall reply", "err", err)
	}
}

func formatMatches(matches []archive.Match) string {
	var b strings.Builder
	for n, m := range matches {
		if n > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**%d. %s** (%s, distance %.3f)\n%s",
			n+1, m.Session.Name, m.Session.CreatedAt.Format(time.DateOnly), m.Distance, excerpt(m.Session.Summary, excerptLength))
	}
	return b.String()
}

// excerpt shortens text to at most n runes.
func excerpt(text string, n int) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// ─── autocomplete ─────────────────────────────────────────────────────────────

// autocompleteSession offers stored session names starting with the typed
// prefix.
func (sc *ScryCommands) autocompleteSession(s discord.Responder, i *discordgo.InteractionCreate) {
	partial := strings.ToLower(focusedOption(i))

	sessions, err := sc.app.Sessions()
	if err != nil {
		slog.Warn("discord: list sessions", "err", err)
	}
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, name := range sessions {
		if !strings.HasPrefix(strings.ToLower(name), partial) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
		if len(choices) == maxChoices {
			break
		}
	}
	discord.RespondChoices(s, i, choices)
}

// ─── option helpers ───────────────────────────────────────────────────────────

// subcommandStringOption returns the string option name of the invoked
// subcommand, or "".
func subcommandStringOption(i *discordgo.InteractionCreate, name string) string {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		for _, opt := range data.Options[0].Options {
			if opt.Name == name {
				return opt.StringValue()
			}
		}
	}
	return ""
}

// focusedOption returns the value being typed in an autocomplete interaction.
func focusedOption(i *discordgo.InteractionCreate) string {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		for _, opt := range data.Options[0].Options {
			if opt.Focused {
				return opt.StringValue()
			}
		}
	}
	return ""
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
