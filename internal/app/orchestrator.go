package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/transcript"
)

// Replier delivers a message to whoever asked for the stop: an interaction
// response, a channel message or just the log.
type Replier interface {
	Reply(ctx context.Context, content string) error
}

// ReplierFunc adapts a function to [Replier].
type ReplierFunc func(ctx context.Context, content string) error

// Reply implements [Replier].
func (f ReplierFunc) Reply(ctx context.Context, content string) error { return f(ctx, content) }

// Transcriber turns the recordings of a session into a transcript and a
// summary. *transcript.Service satisfies it.
type Transcriber interface {
	TranscribeSession(ctx context.Context, session string) (*transcript.Artifact, error)
}

// StopOutcome summarises a finished stop.
type StopOutcome struct {
	Session    string
	Recordings int
	Artifact   *transcript.Artifact
}

// Orchestrator runs the stop sequence: halt every pipeline and wait for the
// encoders, leave the voice channel, transcribe and summarise, reply, and
// clear the session state whatever the outcome.
type Orchestrator struct {
	state       *State
	rec         Capturer
	transcriber Transcriber
	onSuccess   func(ctx context.Context, out StopOutcome)
	metrics     *observe.Metrics
}

// NewOrchestrator creates an Orchestrator. onSuccess, if non-nil, runs after
// the success reply was sent and the session state was cleared; it is used to
// archive the session.
func NewOrchestrator(state *State, rec Capturer, tr Transcriber, onSuccess func(context.Context, StopOutcome), metrics *observe.Metrics) *Orchestrator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{state: state, rec: rec, transcriber: tr, onSuccess: onSuccess, metrics: metrics}
}

// Stop ends the active session. Every call sends exactly one terminal reply;
// when a session is stopped an acknowledgement precedes it.
//
// The returned error is for logging only: the requester has already been
// told.
func (o *Orchestrator) Stop(ctx context.Context, r Replier) (err error) {
	session, err := o.state.BeginStop()
	switch {
	case errors.Is(err, ErrNoSession):
		o.reply(ctx, r, MsgNoActiveSession)
		return err
	case errors.Is(err, ErrStopInProgress):
		o.reply(ctx, r, MsgStopInProgress)
		return err
	case err != nil:
		return err
	}

	ctx, span := observe.StartSpan(ctx, "app.Stop", observe.Attr("session", session))
	defer func() { observe.EndSpan(span, err) }()
	log := slog.With("session", session)

	// Deferred calls run last-in first-out: the state is cleared before the
	// archive runs, so a new session can start while it does.
	var sealed *StopOutcome
	defer func() {
		if sealed != nil && o.onSuccess != nil {
			o.onSuccess(context.WithoutCancel(ctx), *sealed)
		}
	}()
	defer func() {
		if conn := o.state.End(); conn != nil {
			_ = conn.Disconnect()
		}
		o.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		log.Info("session ended")
	}()

	o.reply(ctx, r, MsgStopping)

	// No start is admitted once BeginStop succeeded; wait for the ones already
	// running so StopAll sees every pipeline.
	start := time.Now()
	o.rec.Drain()
	results := o.rec.StopAll(ctx)
	files := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		files++
		if res.Err != nil {
			log.Warn("encoder exited with error", "user_id", res.UserID, "path", res.FilePath, "err", res.Err)
		}
	}
	log.Info("all pipelines stopped", "pipelines", len(results), "files", files, "took", time.Since(start))

	if conn := o.state.ClearConnection(); conn != nil {
		if err := conn.Disconnect(); err != nil {
			log.Warn("voice disconnect", "err", err)
		}
	}

	art, err := o.transcriber.TranscribeSession(ctx, session)
	if err != nil {
		log.Error("transcription failed", "err", err)
		o.reply(ctx, r, MsgStopError)
		return fmt.Errorf("app: stop %q: %w", session, err)
	}
	if art == nil || art.Summary == "" || art.SummaryFile == "" {
		log.Warn("transcription or summary incomplete")
		o.reply(ctx, r, MsgStopFailed)
		return nil
	}

	o.reply(ctx, r, MsgStopped(art.Summary))
	log.Info("session sealed", "transcript", art.TranscriptionFile, "summary", art.SummaryFile)
	sealed = &StopOutcome{Session: session, Recordings: files, Artifact: art}
	return nil
}

func (o *Orchestrator) reply(ctx context.Context, r Replier, msg string) {
	if r == nil {
		return
	}
	if err := r.Reply(ctx, msg); err != nil {
		slog.Warn("app: reply failed", "err", err)
	}
}
