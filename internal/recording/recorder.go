// Package recording captures voice participants to per-user audio files.
//
// A [Recorder] owns one [Pipeline] per participant. Each pipeline subscribes
// to the participant's Opus stream, decodes it to PCM and feeds an external
// encoder (ffmpeg by default) writing
// recordings/<session>/audio_<username>_<userID>_<timestamp>.wav.
//
// Start and Stop are mutually exclusive per user: starting a user that is
// already recorded first stops the old pipeline completely. Stop waits a short
// grace period for in-flight frames, closes the encoder input and returns only
// once the encoder has exited, so the returned file is complete.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/pkg/audio"
	"github.com/MrWong99/scryer/pkg/audio/opus"
)

// DefaultGracePeriod is how long Stop waits for buffered frames before
// closing the encoder input.
const DefaultGracePeriod = 500 * time.Millisecond

var (
	// ErrNoActiveConnection is returned by [Recorder.Start] without a voice
	// connection.
	ErrNoActiveConnection = errors.New("recording: no active voice connection")

	// ErrNoActiveSession is returned by [Recorder.Start] when no session is
	// set or the session is being stopped.
	ErrNoActiveSession = errors.New("recording: no active session")
)

// Session is the view of the current session a [Recorder] needs.
type Session interface {
	// SessionName returns the name of the current session, or "" when idle.
	SessionName() string

	// Recording reports whether new pipelines may start. It turns false as
	// soon as a stop begins.
	Recording() bool
}

// Result is the outcome of stopping one pipeline.
type Result struct {
	UserID   string
	FilePath string

	// Err is non-nil when the encoder exited abnormally. The file may still
	// hold usable audio.
	Err error
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithGracePeriod overrides [DefaultGracePeriod].
func WithGracePeriod(d time.Duration) Option {
	return func(r *Recorder) { r.grace = d }
}

// WithSpawner replaces the ffmpeg encoder.
func WithSpawner(s Spawner) Option {
	return func(r *Recorder) { r.spawner = s }
}

// WithDecoderFactory replaces the Opus decoder.
func WithDecoderFactory(f func() (Decoder, error)) Option {
	return func(r *Recorder) { r.newDecoder = f }
}

// WithClock sets the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder starts and stops capture pipelines.
//
// All methods are safe for concurrent use.
type Recorder struct {
	dir        string
	session    Session
	spawner    Spawner
	newDecoder func() (Decoder, error)
	grace      time.Duration
	now        func() time.Time
	metrics    *observe.Metrics

	registry *Registry

	// starting counts admitted Start calls that have not returned yet.
	gateMu   sync.Mutex
	starting int
	idle     *sync.Cond

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Recorder writing below dir. session supplies the current
// session name for every Start and gates it.
func New(dir string, session Session, opts ...Option) *Recorder {
	r := &Recorder{
		dir:     dir,
		session: session,
		spawner: FFmpeg{},
		newDecoder: func() (Decoder, error) {
			return opus.NewDecoder()
		},
		grace:    DefaultGracePeriod,
		now:      time.Now,
		registry: NewRegistry(),
		locks:    make(map[string]*sync.Mutex),
	}
	r.idle = sync.NewCond(&r.gateMu)
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Registry returns the registry of running pipelines.
func (r *Recorder) Registry() *Registry { return r.registry }

// SessionDir returns the directory recordings of session are written to.
func (r *Recorder) SessionDir(session string) string {
	return filepath.Join(r.dir, session)
}

// userLock returns the mutex serialising Start and Stop for userID.
func (r *Recorder) userLock(userID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[userID] = mu
	}
	return mu
}

// admit checks the session gate and counts the caller as starting. Every
// successful admit must be paired with release.
func (r *Recorder) admit() (string, bool) {
	r.gateMu.Lock()
	defer r.gateMu.Unlock()
	name := r.session.SessionName()
	if name == "" || !r.session.Recording() {
		return "", false
	}
	r.starting++
	return name, true
}

func (r *Recorder) release() {
	r.gateMu.Lock()
	defer r.gateMu.Unlock()
	r.starting--
	if r.starting == 0 {
		r.idle.Broadcast()
	}
}

// Drain blocks until every Start admitted while the session was recording
// has returned. Once the session has stopped recording no new Start is
// admitted, so a StopAll after Drain sees every pipeline of the session.
func (r *Recorder) Drain() {
	r.gateMu.Lock()
	defer r.gateMu.Unlock()
	for r.starting > 0 {
		r.idle.Wait()
	}
}

// Start begins recording userID from conn. A pipeline already running for the
// user is stopped first. Errors leave nothing registered.
//
// Start fails with [ErrNoActiveSession] unless the session is recording.
func (r *Recorder) Start(ctx context.Context, conn audio.Connection, userID, username string) error {
	if conn == nil {
		return ErrNoActiveConnection
	}
	session, ok := r.admit()
	if !ok {
		return ErrNoActiveSession
	}
	defer r.release()

	mu := r.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if old := r.registry.Get(userID); old != nil {
		slog.Info("recording: restarting pipeline", "user_id", userID)
		r.stop(ctx, old)
	}

	dir := r.SessionDir(session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recording: create session dir: %w", err)
	}
	startedAt := r.now()
	path := filepath.Join(dir, AudioFileName(username, userID, startedAt))

	dec, err := r.newDecoder()
	if err != nil {
		return fmt.Errorf("recording: create decoder: %w", err)
	}
	stream, err := conn.Subscribe(userID)
	if err != nil {
		return fmt.Errorf("recording: subscribe %s: %w", userID, err)
	}
	enc, err := r.spawner.Spawn(path)
	if err != nil {
		conn.Unsubscribe(userID)
		return fmt.Errorf("recording: spawn encoder: %w", err)
	}

	p := &Pipeline{
		userID:    userID,
		username:  username,
		path:      path,
		startedAt: startedAt,
		conn:      conn,
		stream:    stream,
		dec:       dec,
		enc:       enc,
		quit:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
		exited:    make(chan struct{}),
	}
	if err := r.registry.Register(p); err != nil {
		conn.Unsubscribe(userID)
		_ = enc.Close()
		return err
	}
	go p.pump()
	go p.watch(r.registry)

	r.metrics.RecordingStarted(ctx)
	slog.Info("recording started", "session", session, "user_id", userID, "username", username, "path", path)
	return nil
}

// Stop ends the recording of userID and returns its file once the encoder has
// exited. It returns nil without side effects when the user is not recorded.
//
// Cancelling ctx only shortens the grace period; the encoder is always awaited.
func (r *Recorder) Stop(ctx context.Context, userID string) *Result {
	mu := r.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	p := r.registry.Get(userID)
	if p == nil {
		return nil
	}
	return r.stop(ctx, p)
}

// stop tears p down. The caller holds the user lock.
func (r *Recorder) stop(ctx context.Context, p *Pipeline) *Result {
	start := time.Now()

	t := time.NewTimer(r.grace)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}

	p.stopping.Store(true)
	p.halt()
	<-p.pumpDone
	if err := p.enc.Close(); err != nil {
		slog.Warn("recording: close encoder input", "user_id", p.userID, "err", err)
	}
	<-p.exited
	// The user lock keeps any newer pipeline out, so the entry is p or gone.
	r.registry.Unregister(p.userID)

	r.metrics.RecordingStopped(ctx, time.Since(start), p.exitErr)
	return &Result{UserID: p.userID, FilePath: p.path, Err: p.exitErr}
}

// StopAll stops every registered pipeline concurrently so the grace periods
// overlap. The result has one entry per pipeline registered at call time; an
// entry is nil when that pipeline finished on its own in the meantime.
func (r *Recorder) StopAll(ctx context.Context) []*Result {
	active := r.registry.ListActive()
	results := make([]*Result, len(active))

	var g errgroup.Group
	for i, a := range active {
		g.Go(func() error {
			results[i] = r.Stop(ctx, a.UserID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Active lists the running pipelines ordered by start time.
func (r *Recorder) Active() []Active {
	return r.registry.ListActive()
}
