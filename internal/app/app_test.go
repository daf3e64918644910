package app_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scryer/internal/app"
	"github.com/MrWong99/scryer/internal/config"
	"github.com/MrWong99/scryer/internal/transcript"
	archivemock "github.com/MrWong99/scryer/pkg/archive/mock"
	"github.com/MrWong99/scryer/pkg/audio"
	audiomock "github.com/MrWong99/scryer/pkg/audio/mock"
	embmock "github.com/MrWong99/scryer/pkg/provider/embeddings/mock"
)

var alice = audio.Member{UserID: "1", Username: "alice"}

func TestNew_RequiresPlatform(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), &config.Config{}, &app.Providers{})
	if err == nil {
		t.Fatal("expected error without audio platform")
	}
}

func TestNew_RequiresProvidersWithoutTranscriber(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), &config.Config{}, &app.Providers{Audio: &audiomock.Platform{}},
		app.WithMetrics(newMetrics(t)))
	if err == nil {
		t.Fatal("expected error without STT and LLM providers")
	}
}

// ─── stop scenarios ───────────────────────────────────────────────────────────

func TestStopSession_NoActiveSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)
	replies := &replyLog{}

	err := f.app.StopSession(context.Background(), replies)
	if !errors.Is(err, app.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	if got := replies.Messages(); !slices.Equal(got, []string{app.MsgNoActiveSession}) {
		t.Errorf("replies = %q", got)
	}
	if calls := f.tr.Calls(); len(calls) != 0 {
		t.Errorf("transcriber called %v", calls)
	}
}

func TestSession_AlphaAlice(t *testing.T) {
	t.Parallel()

	bot := audio.Member{UserID: testBot, Username: "scryer", Bot: true}
	f := newFixture(t, 10*time.Millisecond, []audio.Member{bot, alice})
	ctx := context.Background()

	if err := f.app.StartSession(ctx, "alpha", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	st := f.app.Status()
	if !st.Active || st.Name != "alpha" || st.ChannelID != testChannel || st.StartedBy != "gm" {
		t.Errorf("status = %+v", st.Info)
	}
	if len(st.Recording) != 1 || st.Recording[0].UserID != "1" {
		t.Fatalf("recording = %+v, want alice only", st.Recording)
	}
	enc := f.spawner.Spawned()
	if len(enc) != 1 {
		t.Fatalf("spawned %d encoders, want 1", len(enc))
	}
	wantDir := filepath.Join(f.cfg.Recording.Dir, "alpha")
	if filepath.Dir(enc[0].Path) != wantDir || !strings.HasPrefix(filepath.Base(enc[0].Path), "audio_alice_1_") {
		t.Errorf("output path = %q", enc[0].Path)
	}

	replies := &replyLog{}
	if err := f.app.StopSession(ctx, replies); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	want := []string{app.MsgStopping, app.MsgStopped(okArtifact.Summary)}
	if got := replies.Messages(); !slices.Equal(got, want) {
		t.Errorf("replies = %q, want %q", got, want)
	}
	if calls := f.tr.Calls(); !slices.Equal(calls, []string{"alpha"}) {
		t.Errorf("transcriber calls = %v", calls)
	}
	if !enc[0].Closed() {
		t.Error("encoder still running after stop")
	}
	if f.conn.CallCountDisconnect == 0 {
		t.Error("voice connection not disconnected")
	}
	st = f.app.Status()
	if st.Active || st.Name != "" || len(st.Recording) != 0 {
		t.Errorf("state not cleared: %+v", st)
	}
}

func TestStopSession_TwoUsersOverlap(t *testing.T) {
	t.Parallel()

	const grace = 200 * time.Millisecond
	bob := audio.Member{UserID: "2", Username: "bob"}
	f := newFixture(t, grace, []audio.Member{alice, bob})
	ctx := context.Background()

	if err := f.app.StartSession(ctx, "duo", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if n := len(f.app.Status().Recording); n != 2 {
		t.Fatalf("recording %d users, want 2", n)
	}

	start := time.Now()
	if err := f.app.StopSession(ctx, &replyLog{}); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	took := time.Since(start)

	if took < grace {
		t.Errorf("stop took %s, shorter than the grace period", took)
	}
	if took >= 2*grace {
		t.Errorf("stop took %s, grace periods did not overlap", took)
	}
	if calls := f.tr.Calls(); len(calls) != 1 {
		t.Errorf("transcriber called %d times, want 1", len(calls))
	}
}

func TestStopSession_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		artifact  *transcript.Artifact
		err       error
		wantReply string
		wantErr   bool
	}{
		{name: "transcription error", err: errors.New("stt down"), wantReply: app.MsgStopError, wantErr: true},
		{name: "nil artifact", wantReply: app.MsgStopFailed},
		{
			name:      "summary not saved",
			artifact:  &transcript.Artifact{Summary: "Final summary generation failed", TranscriptionFile: "t.txt"},
			wantReply: app.MsgStopFailed,
		},
		{
			name:      "silent session",
			artifact:  &transcript.Artifact{TranscriptionFile: "t.txt"},
			wantReply: app.MsgStopFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, 0, []audio.Member{alice})
			f.tr.Artifact, f.tr.Err = tt.artifact, tt.err
			ctx := context.Background()
			if err := f.app.StartSession(ctx, "beta", testChannel, "gm"); err != nil {
				t.Fatalf("StartSession: %v", err)
			}

			replies := &replyLog{}
			err := f.app.StopSession(ctx, replies)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := replies.Messages(); !slices.Equal(got, []string{app.MsgStopping, tt.wantReply}) {
				t.Errorf("replies = %q", got)
			}
			if st := f.app.Status(); st.Active || st.Name != "" {
				t.Errorf("state not cleared: %+v", st.Info)
			}
		})
	}
}

// ─── start ────────────────────────────────────────────────────────────────────

func TestStartSession_RejectsSecondSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)
	ctx := context.Background()
	if err := f.app.StartSession(ctx, "one", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := f.app.StartSession(ctx, "two", testChannel, "gm"); !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second start err = %v, want ErrSessionActive", err)
	}
	if name := f.app.Status().Name; name != "one" {
		t.Errorf("session = %q, want one", name)
	}
}

func TestStartSession_InvalidName(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := f.app.StartSession(context.Background(), name, testChannel, "gm"); !errors.Is(err, app.ErrInvalidSessionName) {
			t.Errorf("StartSession(%q) err = %v, want ErrInvalidSessionName", name, err)
		}
	}
	if len(f.platform.ConnectCalls) != 0 {
		t.Errorf("Connect called for invalid names")
	}
}

func TestStartSession_ConnectFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, []audio.Member{alice})
	f.platform.ConnectError = errors.New("voice gateway timeout")

	if err := f.app.StartSession(context.Background(), "gamma", testChannel, "gm"); err == nil {
		t.Fatal("expected connect error")
	}
	if st := f.app.Status(); st.Active || st.Name != "" {
		t.Errorf("state not rolled back: %+v", st.Info)
	}

	f.platform.ConnectError = nil
	if err := f.app.StartSession(context.Background(), "gamma", testChannel, "gm"); err != nil {
		t.Errorf("retry after failed connect: %v", err)
	}
}

// ─── membership events ────────────────────────────────────────────────────────

func TestRun_JoinAndLeave(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	if err := f.app.StartSession(ctx, "delta", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	f.platform.Emit(audio.Event{GuildID: testGuild, UserID: "2", Username: "bob", AfterChannelID: testChannel})
	waitFor(t, "bob to be recorded", func() bool { return len(f.app.Status().Recording) == 1 })

	f.platform.Emit(audio.Event{GuildID: testGuild, UserID: "2", Username: "bob", BeforeChannelID: testChannel})
	waitFor(t, "bob to stop", func() bool { return len(f.app.Status().Recording) == 0 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStopSession_AwaitsInFlightJoin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Millisecond, nil)
	f.spawner.Delay = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.app.Run(ctx) }()

	if err := f.app.StartSession(ctx, "race", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.platform.Emit(audio.Event{GuildID: testGuild, UserID: "2", Username: "bob", AfterChannelID: testChannel})
	// Subscribed but still waiting for the encoder to spawn.
	waitFor(t, "bob's start to be in flight", func() bool { return f.conn.Subscribed("2") })

	var openAtTranscription []string
	f.tr.Before = func(string) {
		for _, e := range f.spawner.Spawned() {
			if !e.Closed() {
				openAtTranscription = append(openAtTranscription, e.Path)
			}
		}
	}
	if err := f.app.StopSession(ctx, &replyLog{}); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	enc := f.spawner.Spawned()
	if len(enc) != 1 {
		t.Fatalf("spawned %d encoders, want bob's", len(enc))
	}
	if len(openAtTranscription) != 0 {
		t.Errorf("encoders still open when transcription began: %v", openAtTranscription)
	}
	if !enc[0].Closed() {
		t.Error("encoder still open after stop")
	}
	if st := f.app.Status(); st.Active || len(st.Recording) != 0 {
		t.Errorf("after stop: %+v", st)
	}
}

func TestStartSession_StopDuringConnect(t *testing.T) {
	t.Parallel()

	metrics, reader := newMeteredMetrics(t)
	f := newFixture(t, 0, []audio.Member{alice}, app.WithMetrics(metrics))
	gate := make(chan struct{})
	f.platform.ConnectGate = gate

	started := make(chan error, 1)
	go func() { started <- f.app.StartSession(context.Background(), "zeta", testChannel, "gm") }()
	waitFor(t, "connect to begin", func() bool { return f.platform.Connects() == 1 })

	replies := &replyLog{}
	if err := f.app.StopSession(context.Background(), replies); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	close(gate)

	if err := <-started; !errors.Is(err, app.ErrStartAborted) {
		t.Fatalf("StartSession err = %v, want ErrStartAborted", err)
	}
	if n := f.conn.Disconnects(); n != 1 {
		t.Errorf("connection disconnected %d times, want 1", n)
	}
	if st := f.app.Status(); st.Active || st.Name != "" || st.ChannelID != "" {
		t.Errorf("state after aborted start = %+v", st.Info)
	}
	if n := len(f.spawner.Spawned()); n != 0 {
		t.Errorf("spawned %d encoders for an aborted start", n)
	}
	if got := activeSessions(t, reader); got != 0 {
		t.Errorf("active sessions gauge = %d, want 0", got)
	}

	if err := f.app.StartSession(context.Background(), "eta", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession after aborted start: %v", err)
	}
	if got := activeSessions(t, reader); got != 1 {
		t.Errorf("active sessions gauge = %d, want 1", got)
	}
}

func TestStartSession_ConnectFailureGauge(t *testing.T) {
	t.Parallel()

	metrics, reader := newMeteredMetrics(t)
	f := newFixture(t, 0, nil, app.WithMetrics(metrics))
	f.platform.ConnectError = errors.New("voice gateway timeout")

	if err := f.app.StartSession(context.Background(), "theta", testChannel, "gm"); err == nil {
		t.Fatal("expected connect error")
	}
	if got := activeSessions(t, reader); got != 0 {
		t.Errorf("active sessions gauge = %d, want 0", got)
	}
}

// ─── archive ──────────────────────────────────────────────────────────────────

func TestStopSession_ArchivesAndRecalls(t *testing.T) {
	t.Parallel()

	store := &archivemock.Store{}
	emb := &embmock.Provider{
		Vector: []float32{0, 1},
		Vectors: map[string][]float32{
			okArtifact.Summary:   {1, 0},
			"when did we open it": {0.9, 0.1},
		},
	}
	f := newFixture(t, 0, []audio.Member{alice}, app.WithArchive(store))
	f.providers.Embeddings = emb
	a := f.app

	ctx := context.Background()
	if err := a.StartSession(ctx, "alpha", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := a.StopSession(ctx, &replyLog{}); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	sessions := store.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("archived %d sessions, want 1", len(sessions))
	}
	got := sessions[0]
	if got.Name != "alpha" || got.Summary != okArtifact.Summary || got.ID == "" || len(got.Embedding) != 2 {
		t.Errorf("archived = %+v", got)
	}

	matches, err := a.Recall(ctx, "when did we open it")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matches) != 1 || matches[0].Session.Name != "alpha" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestRecall_Unavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)
	if _, err := f.app.Recall(context.Background(), "anything"); !errors.Is(err, app.ErrRecallUnavailable) {
		t.Errorf("err = %v, want ErrRecallUnavailable", err)
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestShutdown_StopsActiveSession(t *testing.T) {
	t.Parallel()

	replies := &replyLog{}
	f := newFixture(t, 0, []audio.Member{alice}, app.WithShutdownReplier(replies))
	if err := f.app.StartSession(context.Background(), "epsilon", testChannel, "gm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if calls := f.tr.Calls(); !slices.Equal(calls, []string{"epsilon"}) {
		t.Errorf("transcriber calls = %v", calls)
	}
	if got := replies.Messages(); len(got) != 2 || got[1] != app.MsgStopped(okArtifact.Summary) {
		t.Errorf("shutdown replies = %q", got)
	}
	if f.app.Status().Active {
		t.Error("session still active after Shutdown")
	}
}

func TestApplyConfig_LogLevel(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	f := newFixture(t, 0, nil, app.WithLogLevel(&lv))

	old := *f.cfg
	old.Server.LogLevel = config.LogInfo
	next := old
	next.Server.LogLevel = config.LogDebug

	f.app.ApplyConfig(config.Diff(&old, &next))
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}

	f.app.ApplyConfig(config.ConfigDiff{RestartRequired: []string{"discord"}})
	if lv.Level() != slog.LevelDebug {
		t.Errorf("restart-only change moved the level to %v", lv.Level())
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
