package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/recording"
	"github.com/MrWong99/scryer/internal/summary"
	"github.com/MrWong99/scryer/pkg/audio"
)

var (
	// ErrInvalidSessionName is returned for names unusable as a directory.
	ErrInvalidSessionName = errors.New("app: invalid session name")

	// ErrStartAborted is returned when the session was stopped while the
	// voice connection was still being established.
	ErrStartAborted = errors.New("app: session stopped while connecting")
)

// Starter opens a session: it claims the state, joins the voice channel and
// starts a pipeline for everyone already there.
type Starter struct {
	state    *State
	platform audio.Platform
	rec      Capturer
	metrics  *observe.Metrics
}

// NewStarter creates a Starter.
func NewStarter(state *State, platform audio.Platform, rec Capturer, metrics *observe.Metrics) *Starter {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Starter{state: state, platform: platform, rec: rec, metrics: metrics}
}

// Start begins recording session in channelID. The name and active flag are
// set before connecting so that members joining during the connect are
// picked up by the router; a failed connect rolls them back.
//
// A stop that arrives during the connect wins: the fresh connection is
// dropped and Start returns [ErrStartAborted].
func (s *Starter) Start(ctx context.Context, session, channelID, startedBy string) error {
	if !summary.ValidSessionName(session) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, session)
	}
	gen, err := s.state.Begin(session, startedBy)
	if err != nil {
		return err
	}
	// The gauge follows Begin. It is decremented by Abort below or by the
	// stop that ends the session.
	s.metrics.ActiveSessions.Add(ctx, 1)

	conn, err := s.platform.Connect(ctx, channelID)
	if err != nil {
		if s.state.Abort(gen) {
			s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		}
		return fmt.Errorf("app: connect %s: %w", channelID, err)
	}
	if !s.state.Attach(gen, conn) {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("app: disconnect after aborted start", "session", session, "err", err)
		}
		slog.Info("session stopped while connecting", "session", session, "channel_id", channelID)
		return fmt.Errorf("%w: %q", ErrStartAborted, session)
	}

	botID := s.platform.BotUserID()
	started := 0
	for _, m := range conn.Members() {
		if m.Bot || m.UserID == botID {
			continue
		}
		err := s.rec.Start(ctx, conn, m.UserID, m.Username)
		if errors.Is(err, recording.ErrNoActiveSession) {
			// A stop began; it owns the remaining members.
			break
		}
		if err != nil {
			slog.Error("app: start recording", "session", session, "user_id", m.UserID, "err", err)
			continue
		}
		started++
	}
	slog.Info("session started", "session", session, "channel_id", channelID, "started_by", startedBy, "pipelines", started)
	return nil
}
