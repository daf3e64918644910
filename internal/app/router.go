package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/scryer/internal/recording"
	"github.com/MrWong99/scryer/pkg/audio"
)

// Capturer starts and stops per-user capture pipelines.
// *recording.Recorder satisfies it.
type Capturer interface {
	Start(ctx context.Context, conn audio.Connection, userID, username string) error
	Stop(ctx context.Context, userID string) *recording.Result
	StopAll(ctx context.Context) []*recording.Result
	Active() []recording.Active

	// Drain waits for starts admitted before the session stopped recording.
	Drain()
}

// Router turns membership events into pipeline starts and stops.
//
// An event is acted upon only while a session is recording and the bot's
// connection sits in the affected channel. Entering that channel starts a
// pipeline in a detached goroutine, so a slow start never delays the next
// event; leaving it stops the user's pipeline and waits for the encoder. A
// start still in flight when a stop begins is awaited by the stop through
// [Capturer.Drain].
type Router struct {
	state *State
	rec   Capturer
	botID func() string

	starts sync.WaitGroup
}

// NewRouter creates a Router. botID reports the bot's own user ID; events
// about the bot are ignored.
func NewRouter(state *State, rec Capturer, botID func() string) *Router {
	return &Router{state: state, rec: rec, botID: botID}
}

// Run consumes events until ctx is done or the channel is closed, then waits
// for in-flight starts.
func (r *Router) Run(ctx context.Context, events <-chan audio.Event) {
	defer r.starts.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event.
func (r *Router) Handle(ctx context.Context, ev audio.Event) {
	if ev.Bot || (r.botID != nil && ev.UserID == r.botID()) {
		return
	}
	if !r.state.Recording() {
		slog.Debug("router: no session, observing", "user_id", ev.UserID, "type", ev.Type())
		return
	}
	conn := r.state.Connection(ev.GuildID)
	if conn == nil {
		return
	}
	channel := conn.ChannelID()

	switch {
	case ev.AfterChannelID == channel && ev.BeforeChannelID != channel:
		r.starts.Go(func() {
			if err := r.rec.Start(ctx, conn, ev.UserID, ev.Username); err != nil {
				slog.Error("router: start recording", "user_id", ev.UserID, "err", err)
			}
		})
	case ev.BeforeChannelID == channel && ev.AfterChannelID != channel:
		res := r.rec.Stop(ctx, ev.UserID)
		if res == nil {
			return
		}
		if res.Err != nil {
			slog.Warn("router: encoder exited with error", "user_id", ev.UserID, "path", res.FilePath, "err", res.Err)
			return
		}
		slog.Info("router: recording finished", "user_id", ev.UserID, "path", res.FilePath)
	}
}

// Wait blocks until every start launched so far has returned.
func (r *Router) Wait() {
	r.starts.Wait()
}
