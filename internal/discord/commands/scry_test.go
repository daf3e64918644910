package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scryer/internal/app"
	"github.com/MrWong99/scryer/internal/discord"
	"github.com/MrWong99/scryer/internal/discord/mock"
	"github.com/MrWong99/scryer/internal/recording"
	"github.com/MrWong99/scryer/internal/summary"
	"github.com/MrWong99/scryer/pkg/archive"
)

// ─── test doubles ─────────────────────────────────────────────────────────────

type startCall struct {
	Session, ChannelID, StartedBy string
}

type fakeScryer struct {
	mu sync.Mutex

	StartErr  error
	StopFunc  func(ctx context.Context, r app.Replier) error
	StatusVal app.Status
	Docs      map[string]*summary.Document
	DocErr    error
	Names     []string
	Matches   []archive.Match
	RecallErr error

	starts []startCall
}

func (f *fakeScryer) StartSession(_ context.Context, session, channelID, startedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{session, channelID, startedBy})
	return f.StartErr
}

func (f *fakeScryer) StopSession(ctx context.Context, r app.Replier) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx, r)
}

func (f *fakeScryer) Status() app.Status { return f.StatusVal }

func (f *fakeScryer) Summary(session string) (*summary.Document, error) {
	return f.doc("summary/" + session)
}

func (f *fakeScryer) Transcript(session string) (*summary.Document, error) {
	return f.doc("transcript/" + session)
}

func (f *fakeScryer) doc(key string) (*summary.Document, error) {
	if f.DocErr != nil {
		return nil, f.DocErr
	}
	d, ok := f.Docs[key]
	if !ok {
		return nil, summary.ErrNotFound
	}
	return d, nil
}

func (f *fakeScryer) Sessions() ([]string, error) { return f.Names, nil }

func (f *fakeScryer) Recall(context.Context, string) ([]archive.Match, error) {
	return f.Matches, f.RecallErr
}

func (f *fakeScryer) Starts() []startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]startCall(nil), f.starts...)
}

const (
	operatorRole = "role-op"
	userID       = "user-1"
	voiceChannel = "voice-1"
	textChannel  = "text-1"
)

func newCommands(f *fakeScryer) *ScryCommands {
	return New(f, discord.NewPermissionChecker(operatorRole), func(id string) string {
		if id == userID {
			return voiceChannel
		}
		return ""
	})
}

// subcommand builds a /scry interaction invoked by userID with roles.
func subcommand(sub string, roles []string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: textChannel,
		Member:    &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "scry",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:    sub,
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Options: opts,
			}},
		},
	}}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func lastFollowUp(t *testing.T, r *mock.InteractionResponder) string {
	t.Helper()
	got := r.FollowUpContents()
	if len(got) == 0 {
		t.Fatal("no follow-up sent")
	}
	return got[len(got)-1]
}

// ─── definition ───────────────────────────────────────────────────────────────

func TestDefinition(t *testing.T) {
	t.Parallel()

	def := newCommands(&fakeScryer{}).Definition()
	if def.Name != "scry" {
		t.Fatalf("Name = %q, want scry", def.Name)
	}
	var names []string
	for _, o := range def.Options {
		names = append(names, o.Name)
	}
	want := "start,stop,summary,transcript,status,recall"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("subcommands = %s, want %s", got, want)
	}
}

func TestRegister_RoutesSubcommands(t *testing.T) {
	t.Parallel()

	f := &fakeScryer{}
	router := discord.NewCommandRouter()
	newCommands(f).Register(router)

	if got := len(router.ApplicationCommands()); got != 1 {
		t.Fatalf("ApplicationCommands() = %d, want 1", got)
	}
	resp := &mock.InteractionResponder{}
	router.Handle(resp, subcommand("status", nil))
	if got := resp.LastResponse(); got == nil || got.Data.Content != app.MsgNoActiveSession {
		t.Errorf("status response = %+v, want %q", got, app.MsgNoActiveSession)
	}
}

// ─── start ────────────────────────────────────────────────────────────────────

func TestHandleStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		roles     []string
		member    string
		startErr  error
		wantStart bool
		want      string
	}{
		{name: "no permission", roles: nil, want: app.MsgNoPermission},
		{name: "not in voice", roles: []string{operatorRole}, member: "user-2", want: app.MsgNotInVoice},
		{name: "success", roles: []string{operatorRole}, wantStart: true, want: app.MsgStarted("Alpha")},
		{name: "already active", roles: []string{operatorRole}, startErr: app.ErrSessionActive, wantStart: true, want: app.MsgSessionActive},
		{name: "invalid name", roles: []string{operatorRole}, startErr: fmt.Errorf("app: %w", app.ErrInvalidSessionName), wantStart: true, want: app.MsgInvalidName},
		{name: "connect failure", roles: []string{operatorRole}, startErr: errors.New("voice timeout"), wantStart: true, want: app.MsgStartFailed},
		{name: "stopped while connecting", roles: []string{operatorRole}, startErr: fmt.Errorf("%w: %q", app.ErrStartAborted, "alpha"), wantStart: true, want: app.MsgStartAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeScryer{StartErr: tt.startErr}
			resp := &mock.InteractionResponder{}
			i := subcommand("start", tt.roles, stringOpt("session", " Alpha "))
			if tt.member != "" {
				i.Member.User.ID = tt.member
			}

			newCommands(f).handleStart(resp, i)

			starts := f.Starts()
			if tt.wantStart != (len(starts) == 1) {
				t.Fatalf("StartSession calls = %d, want started=%v", len(starts), tt.wantStart)
			}
			if tt.wantStart {
				want := startCall{Session: "Alpha", ChannelID: voiceChannel, StartedBy: userID}
				if starts[0] != want {
					t.Errorf("StartSession(%+v), want %+v", starts[0], want)
				}
				if got := lastFollowUp(t, resp); got != tt.want {
					t.Errorf("follow-up = %q, want %q", got, tt.want)
				}
				return
			}
			if got := resp.LastResponse(); got == nil || got.Data.Content != tt.want {
				t.Errorf("response = %+v, want %q", got, tt.want)
			}
		})
	}
}

// ─── stop ─────────────────────────────────────────────────────────────────────

func TestHandleStop_RepliesThroughFollowUps(t *testing.T) {
	t.Parallel()

	f := &fakeScryer{StopFunc: func(ctx context.Context, r app.Replier) error {
		if err := r.Reply(ctx, app.MsgStopping); err != nil {
			return err
		}
		return r.Reply(ctx, app.MsgStopped("The party met Alice."))
	}}
	resp := &mock.InteractionResponder{}

	newCommands(f).handleStop(resp, subcommand("stop", []string{operatorRole}))

	got := resp.FollowUpContents()
	want := []string{app.MsgStopping, app.MsgStopped("The party met Alice.")}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("follow-ups = %q, want %q", got, want)
	}
	if first := resp.Responses[0]; first.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("first response type = %v, want deferred", first.Type)
	}
}

func TestHandleStop_FallsBackToChannel(t *testing.T) {
	t.Parallel()

	f := &fakeScryer{StopFunc: func(ctx context.Context, r app.Replier) error {
		return r.Reply(ctx, app.MsgStopFailed)
	}}
	resp := &mock.InteractionResponder{Err: errors.New("unknown webhook")}

	newCommands(f).handleStop(resp, subcommand("stop", []string{operatorRole}))

	if len(resp.Messages) != 1 {
		t.Fatalf("channel messages = %d, want 1", len(resp.Messages))
	}
	if m := resp.Messages[0]; m.ChannelID != textChannel || m.Content != app.MsgStopFailed {
		t.Errorf("channel message = %+v", m)
	}
}

func TestHandleStop_NoPermission(t *testing.T) {
	t.Parallel()

	called := false
	f := &fakeScryer{StopFunc: func(context.Context, app.Replier) error {
		called = true
		return nil
	}}
	resp := &mock.InteractionResponder{}

	newCommands(f).handleStop(resp, subcommand("stop", []string{"someone-else"}))

	if called {
		t.Error("StopSession called without permission")
	}
	if got := resp.LastResponse(); got == nil || got.Data.Content != app.MsgNoPermission {
		t.Errorf("response = %+v, want %q", got, app.MsgNoPermission)
	}
}

// ─── summary / transcript ─────────────────────────────────────────────────────

func TestHandleSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		docs   map[string]*summary.Document
		docErr error
		want   string
	}{
		{name: "unknown session", docErr: fmt.Errorf("summary: %w", summary.ErrSessionNotFound), want: app.MsgSessionNotFound("Alpha")},
		{name: "no summary", want: app.MsgNoSummary},
		{name: "read error", docErr: errors.New("permission denied"), want: app.MsgSummaryError},
		{name: "empty summary", docs: map[string]*summary.Document{"summary/Alpha": {Text: "  "}}, want: app.MsgSummaryFailed},
		{name: "found", docs: map[string]*summary.Document{"summary/Alpha": {Text: "They won."}}, want: app.MsgSummary("They won.")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeScryer{Docs: tt.docs, DocErr: tt.docErr}
			resp := &mock.InteractionResponder{}

			newCommands(f).handleSummary(resp, subcommand("summary", nil, stringOpt("session", "Alpha")))

			if got := lastFollowUp(t, resp); got != tt.want {
				t.Errorf("follow-up = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleTranscript_SplitsLongText(t *testing.T) {
	t.Parallel()

	line := "[00:00:01] Alice: " + strings.Repeat("word ", 40) + "\n"
	text := strings.Repeat(line, 30)
	f := &fakeScryer{Docs: map[string]*summary.Document{"transcript/Alpha": {Text: text}}}
	resp := &mock.InteractionResponder{}

	newCommands(f).handleTranscript(resp, subcommand("transcript", nil, stringOpt("session", "Alpha")))

	parts := resp.FollowUpContents()
	if len(parts) < 2 {
		t.Fatalf("follow-ups = %d, want several", len(parts))
	}
	for n, p := range parts {
		if len([]rune(p)) > discord.MaxMessageLength {
			t.Errorf("part %d has %d runes", n, len([]rune(p)))
		}
	}
	if !strings.HasPrefix(parts[0], "The orb reveals every word") {
		t.Errorf("first part = %q", parts[0][:40])
	}
}

func TestHandleTranscript_NotFound(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{}
	newCommands(&fakeScryer{}).handleTranscript(resp, subcommand("transcript", nil, stringOpt("session", "Alpha")))

	if got := lastFollowUp(t, resp); got != app.MsgNoTranscript {
		t.Errorf("follow-up = %q, want %q", got, app.MsgNoTranscript)
	}
}

// ─── status ───────────────────────────────────────────────────────────────────

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	f := &fakeScryer{StatusVal: app.Status{
		Info: app.Info{
			Name:      "Alpha",
			Active:    true,
			ChannelID: voiceChannel,
			StartedAt: now.Add(-time.Hour),
			StartedBy: userID,
		},
		Recording: []recording.Active{
			{UserID: "1", Username: "alice", StartedAt: now.Add(-90 * time.Second)},
		},
	}}
	sc := newCommands(f)
	sc.now = func() time.Time { return now }
	resp := &mock.InteractionResponder{}

	sc.handleStatus(resp, subcommand("status", nil))

	got := resp.LastResponse()
	if got == nil || len(got.Data.Embeds) != 1 {
		t.Fatalf("response = %+v, want one embed", got)
	}
	if got.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Error("status embed should be ephemeral")
	}
	fields := map[string]string{}
	for _, fld := range got.Data.Embeds[0].Fields {
		fields[fld.Name] = fld.Value
	}
	if fields["Session"] != "Alpha" {
		t.Errorf("Session = %q", fields["Session"])
	}
	if fields["State"] != "Recording" {
		t.Errorf("State = %q", fields["State"])
	}
	if fields["Recording"] != "alice: 1m30s" {
		t.Errorf("Recording = %q, want %q", fields["Recording"], "alice: 1m30s")
	}
}

// ─── recall ───────────────────────────────────────────────────────────────────

func TestHandleRecall(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		matches []archive.Match
		err     error
		want    func(string) bool
	}{
		{
			name: "unavailable",
			err:  app.ErrRecallUnavailable,
			want: func(s string) bool { return s == app.MsgRecallUnavailable },
		},
		{
			name: "search error",
			err:  errors.New("connection refused"),
			want: func(s string) bool { return s == app.MsgRecallError },
		},
		{
			name: "no matches",
			want: func(s string) bool { return s == app.MsgRecallEmpty },
		},
		{
			name: "matches",
			matches: []archive.Match{
				{Session: archive.Session{Name: "Alpha", Summary: "The dragon fled.", CreatedAt: created}, Distance: 0.125},
			},
			want: func(s string) bool {
				return strings.Contains(s, "**1. Alpha** (2026-02-14, distance 0.125)") &&
					strings.Contains(s, "The dragon fled.")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeScryer{Matches: tt.matches, RecallErr: tt.err}
			resp := &mock.InteractionResponder{}

			newCommands(f).handleRecall(resp, subcommand("recall", nil, stringOpt("query", "dragon")))

			if got := lastFollowUp(t, resp); !tt.want(got) {
				t.Errorf("follow-up = %q", got)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	if got := excerpt("  short  ", 10); got != "short" {
		t.Errorf("excerpt(short) = %q", got)
	}
	if got := excerpt("äöüäöüäöü", 5); got != "äöüä…" {
		t.Errorf("excerpt(long) = %q, want äöüä…", got)
	}
}

// ─── autocomplete ─────────────────────────────────────────────────────────────

func TestAutocompleteSession(t *testing.T) {
	t.Parallel()

	names := []string{"Alpha", "alpine", "Beta"}
	for n := range 30 {
		names = append(names, fmt.Sprintf("gamma-%02d", n))
	}
	f := &fakeScryer{Names: names}

	tests := []struct {
		partial string
		want    int
	}{
		{partial: "al", want: 2},
		{partial: "BETA", want: 1},
		{partial: "gamma", want: maxChoices},
		{partial: "zeta", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.partial, func(t *testing.T) {
			t.Parallel()

			opt := stringOpt("session", tt.partial)
			opt.Focused = true
			i := subcommand("summary", nil, opt)
			i.Type = discordgo.InteractionApplicationCommandAutocomplete
			resp := &mock.InteractionResponder{}

			newCommands(f).autocompleteSession(resp, i)

			got := resp.LastResponse()
			if got == nil || got.Type != discordgo.InteractionApplicationCommandAutocompleteResult {
				t.Fatalf("response = %+v, want autocomplete result", got)
			}
			if len(got.Data.Choices) != tt.want {
				t.Errorf("choices = %d, want %d", len(got.Data.Choices), tt.want)
			}
		})
	}
}
