package app_test

import (
	"context"
	"slices"
	"testing"

	"github.com/MrWong99/scryer/internal/app"
	"github.com/MrWong99/scryer/pkg/audio"
	audiomock "github.com/MrWong99/scryer/pkg/audio/mock"
)

func newRouter(t *testing.T, recording bool) (*app.Router, *fakeCapturer) {
	t.Helper()
	state := app.NewState()
	if recording {
		if _, err := state.Begin("alpha", "gm"); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		state.SetConnection(audiomock.NewConnection(testGuild, testChannel))
	}
	rec := &fakeCapturer{}
	return app.NewRouter(state, rec, func() string { return testBot }), rec
}

func TestRouter_Handle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		recording  bool
		ev         audio.Event
		wantStarts []string
		wantStops  []string
	}{
		{
			name:       "join starts",
			recording:  true,
			ev:         audio.Event{GuildID: testGuild, UserID: "1", AfterChannelID: testChannel},
			wantStarts: []string{"1"},
		},
		{
			name:      "leave stops",
			recording: true,
			ev:        audio.Event{GuildID: testGuild, UserID: "1", BeforeChannelID: testChannel},
			wantStops: []string{"1"},
		},
		{
			name:       "move in starts",
			recording:  true,
			ev:         audio.Event{GuildID: testGuild, UserID: "1", BeforeChannelID: "lobby", AfterChannelID: testChannel},
			wantStarts: []string{"1"},
		},
		{
			name:      "move out stops",
			recording: true,
			ev:        audio.Event{GuildID: testGuild, UserID: "1", BeforeChannelID: testChannel, AfterChannelID: "lobby"},
			wantStops: []string{"1"},
		},
		{
			name:      "mute is ignored",
			recording: true,
			ev:        audio.Event{GuildID: testGuild, UserID: "1", BeforeChannelID: testChannel, AfterChannelID: testChannel},
		},
		{
			name:      "other channel is ignored",
			recording: true,
			ev:        audio.Event{GuildID: testGuild, UserID: "1", AfterChannelID: "lobby"},
		},
		{
			name:      "other guild is ignored",
			recording: true,
			ev:        audio.Event{GuildID: "guild-2", UserID: "1", AfterChannelID: testChannel},
		},
		{
			name:      "bot account is ignored",
			recording: true,
			ev:        audio.Event{GuildID: testGuild, UserID: "9", Bot: true, AfterChannelID: testChannel},
		},
		{
			name:      "own bot is ignored",
			recording: true,
			ev:        audio.Event{GuildID: testGuild, UserID: testBot, AfterChannelID: testChannel},
		},
		{
			name: "no session observes only",
			ev:   audio.Event{GuildID: testGuild, UserID: "1", AfterChannelID: testChannel},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, rec := newRouter(t, tt.recording)
			r.Handle(context.Background(), tt.ev)
			r.Wait()

			starts, stops := rec.Calls()
			if !slices.Equal(starts, tt.wantStarts) {
				t.Errorf("starts = %v, want %v", starts, tt.wantStarts)
			}
			if !slices.Equal(stops, tt.wantStops) {
				t.Errorf("stops = %v, want %v", stops, tt.wantStops)
			}
		})
	}
}

func TestRouter_IgnoresEventsWhileStopping(t *testing.T) {
	t.Parallel()

	state := app.NewState()
	if _, err := state.Begin("alpha", "gm"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	state.SetConnection(audiomock.NewConnection(testGuild, testChannel))
	if _, err := state.BeginStop(); err != nil {
		t.Fatalf("BeginStop: %v", err)
	}
	rec := &fakeCapturer{}
	r := app.NewRouter(state, rec, nil)

	r.Handle(context.Background(), audio.Event{GuildID: testGuild, UserID: "1", AfterChannelID: testChannel})
	r.Wait()
	if starts, _ := rec.Calls(); len(starts) != 0 {
		t.Errorf("started %v during stop", starts)
	}
}

func TestRouter_RunStopsOnClosedChannel(t *testing.T) {
	t.Parallel()

	r, rec := newRouter(t, true)
	events := make(chan audio.Event, 2)
	events <- audio.Event{GuildID: testGuild, UserID: "1", AfterChannelID: testChannel}
	events <- audio.Event{GuildID: testGuild, UserID: "2", AfterChannelID: testChannel}
	close(events)

	r.Run(context.Background(), events)

	starts, _ := rec.Calls()
	slices.Sort(starts)
	if !slices.Equal(starts, []string{"1", "2"}) {
		t.Errorf("starts = %v, want [1 2]", starts)
	}
}
