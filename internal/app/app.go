// Package app wires the scryer subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the session state, the
// recorder, the transcription service and the optional archive; Run consumes
// voice membership events until the context ends; Shutdown stops a live
// session and tears everything down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithTranscriber, WithRecorderOptions). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scryer/internal/config"
	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/recording"
	"github.com/MrWong99/scryer/internal/summary"
	"github.com/MrWong99/scryer/internal/transcript"
	"github.com/MrWong99/scryer/internal/transcript/phonetic"
	"github.com/MrWong99/scryer/pkg/archive"
	"github.com/MrWong99/scryer/pkg/archive/postgres"
	"github.com/MrWong99/scryer/pkg/audio"
	"github.com/MrWong99/scryer/pkg/provider/embeddings"
	"github.com/MrWong99/scryer/pkg/provider/llm"
	"github.com/MrWong99/scryer/pkg/provider/stt"
)

// ErrRecallUnavailable is returned by [App.Recall] when no archive or no
// embeddings provider is configured.
var ErrRecallUnavailable = errors.New("app: recall requires an archive and an embeddings provider")

// recallTopK is the number of archived sessions returned by [App.Recall].
const recallTopK = 3

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.FileTranscriber
	Embeddings embeddings.Provider
	Audio      audio.Platform
}

// Status is a snapshot of the current session and its running pipelines.
type Status struct {
	Info
	Recording []recording.Active
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	state        *State
	recorder     *recording.Recorder
	router       *Router
	starter      *Starter
	orchestrator *Orchestrator
	transcripts  *transcript.Service
	transcriber  Transcriber
	library      *summary.Library
	archive      archive.Store
	logLevel     *slog.LevelVar

	recorderOpts    []recording.Option
	shutdownReplier Replier
	now             func() time.Time

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects an archive store instead of connecting to
// archive.postgres_dsn.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithTranscriber replaces the transcription service used by the stop
// sequence.
func WithTranscriber(t Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithRecorderOptions appends options to the recorder built from config.
// Later options win, so tests can swap the ffmpeg spawner and opus decoder.
func WithRecorderOptions(opts ...recording.Option) Option {
	return func(a *App) { a.recorderOpts = append(a.recorderOpts, opts...) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithShutdownReplier sets where the outcome of a stop forced by Shutdown is
// reported, typically the configured text channel. Default: the log.
func WithShutdownReplier(r Replier) Option {
	return func(a *App) { a.shutdownReplier = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio platform is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		state:     NewState(),
		library:   summary.NewLibrary(cfg.Transcript.Dir),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.shutdownReplier == nil {
		a.shutdownReplier = ReplierFunc(func(_ context.Context, content string) error {
			slog.Info("shutdown stop", "reply", content)
			return nil
		})
	}

	// ── 1. Recorder ──────────────────────────────────────────────────────
	recOpts := append([]recording.Option{
		recording.WithSpawner(recording.FFmpeg{Path: cfg.Recording.FFmpegPath}),
		recording.WithGracePeriod(cfg.Recording.GracePeriod),
		recording.WithMetrics(a.metrics),
	}, a.recorderOpts...)
	a.recorder = recording.New(cfg.Recording.Dir, a.state, recOpts...)

	// ── 2. Transcription and summary ─────────────────────────────────────
	if a.transcriber == nil {
		if err := a.initTranscripts(); err != nil {
			return nil, fmt.Errorf("app: init transcripts: %w", err)
		}
	}

	// ── 3. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 4. Session control ───────────────────────────────────────────────
	a.router = NewRouter(a.state, a.recorder, providers.Audio.BotUserID)
	a.starter = NewStarter(a.state, providers.Audio, a.recorder, a.metrics)
	a.orchestrator = NewOrchestrator(a.state, a.recorder, a.transcriber, a.archiveSession, a.metrics)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTranscripts builds the summariser and the transcription service from
// config.
func (a *App) initTranscripts() error {
	if a.providers.STT == nil {
		return errors.New("an STT provider is required")
	}
	if a.providers.LLM == nil {
		return errors.New("an LLM provider is required")
	}
	loc, err := a.cfg.Transcript.Location()
	if err != nil {
		return err
	}

	summariser := summary.New(a.providers.LLM, a.cfg.Transcript.Dir,
		summary.WithAttempts(a.cfg.Summary.Attempts),
		summary.WithTemperature(a.cfg.Summary.Temperature),
		summary.WithMetrics(a.metrics),
	)
	opts := []transcript.Option{
		transcript.WithConcurrency(a.cfg.Transcript.Concurrency),
		transcript.WithLocation(loc),
		transcript.WithMetrics(a.metrics),
	}
	if vocab := a.cfg.Transcript.Vocabulary; len(vocab) > 0 {
		opts = append(opts, transcript.WithVocabulary(phonetic.New(vocab)))
	}
	a.transcripts = transcript.New(a.providers.STT, summariser, a.cfg.Recording.Dir, a.cfg.Transcript.Dir, opts...)
	a.transcriber = a.transcripts
	return nil
}

// initArchive connects to the Postgres archive unless one was injected or
// none is configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		return nil
	}
	dims := a.cfg.Archive.EmbeddingDimensions
	if e := a.providers.Embeddings; e != nil && e.Dimensions() != dims {
		return fmt.Errorf("embeddings model %s produces %d dimensions, archive.embedding_dimensions is %d",
			e.ModelID(), e.Dimensions(), dims)
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.archive = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("session archive connected", "dimensions", dims)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run routes voice membership events until ctx is cancelled or the platform
// closes its event channel. Run returns ctx.Err() in the former case and nil
// in the latter.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"recordings_dir", a.cfg.Recording.Dir,
		"transcripts_dir", a.cfg.Transcript.Dir,
		"archive", a.archive != nil,
	)
	a.router.Run(ctx, a.providers.Audio.Events())
	return ctx.Err()
}

// ─── Session control ─────────────────────────────────────────────────────────

// StartSession starts recording session in the voice channel channelID.
// It returns [ErrSessionActive] while another session is live and
// [ErrInvalidSessionName] when session cannot be used as a directory name.
func (a *App) StartSession(ctx context.Context, session, channelID, startedBy string) error {
	return a.starter.Start(ctx, session, channelID, startedBy)
}

// StopSession stops the active session and reports progress and the outcome
// through r. See [Orchestrator.Stop].
func (a *App) StopSession(ctx context.Context, r Replier) error {
	return a.orchestrator.Stop(ctx, r)
}

// Status returns the current session and the users being recorded.
func (a *App) Status() Status {
	return Status{Info: a.state.Info(), Recording: a.recorder.Active()}
}

// Summary returns the latest summary of session.
func (a *App) Summary(session string) (*summary.Document, error) {
	return a.library.LatestSummary(session)
}

// Transcript returns the latest transcript of session.
func (a *App) Transcript(session string) (*summary.Document, error) {
	return a.library.LatestTranscript(session)
}

// Sessions lists the sessions with stored transcripts.
func (a *App) Sessions() ([]string, error) {
	return a.library.Sessions()
}

// ─── Archive ─────────────────────────────────────────────────────────────────

// Archive returns the archive store, or nil when none is configured.
func (a *App) Archive() archive.Store { return a.archive }

// Recall returns the archived sessions closest in meaning to query.
func (a *App) Recall(ctx context.Context, query string) ([]archive.Match, error) {
	if a.archive == nil || a.providers.Embeddings == nil {
		return nil, ErrRecallUnavailable
	}
	emb, err := a.providers.Embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("app: embed query: %w", err)
	}
	matches, err := a.archive.Search(ctx, emb, recallTopK)
	if err != nil {
		return nil, fmt.Errorf("app: search archive: %w", err)
	}
	return matches, nil
}

// archiveSession stores a successfully sealed session. Failures are logged;
// the session is already on disk.
func (a *App) archiveSession(ctx context.Context, out StopOutcome) {
	if a.archive == nil || out.Artifact == nil {
		return
	}
	sess := archive.Session{
		ID:                uuid.NewString(),
		Name:              out.Session,
		Summary:           out.Artifact.Summary,
		Transcript:        out.Artifact.Transcript,
		TranscriptionFile: out.Artifact.TranscriptionFile,
		CreatedAt:         a.now(),
	}
	if a.providers.Embeddings != nil {
		emb, err := a.providers.Embeddings.Embed(ctx, out.Artifact.Summary)
		if err != nil {
			slog.Warn("app: embed summary, archiving without embedding", "session", out.Session, "err", err)
		} else {
			sess.Embedding = emb
		}
	}
	if err := a.archive.Save(ctx, sess); err != nil {
		slog.Error("app: archive session", "session", out.Session, "err", err)
		return
	}
	slog.Info("session archived", "session", out.Session, "id", sess.ID, "embedded", len(sess.Embedding) > 0)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the parts of a config change that take effect without
// a restart: the log level and the transcript vocabulary. Everything else is
// logged as requiring a restart. It is meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged && a.transcripts != nil {
		var m *phonetic.Matcher
		if len(d.NewVocabulary) > 0 {
			m = phonetic.New(d.NewVocabulary)
		}
		a.transcripts.SetVocabulary(m)
		slog.Info("transcript vocabulary reloaded", "terms", len(d.NewVocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLogLevel maps a config log level to its slog level. Unknown values map
// to info.
func ParseLogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops a live session so that no recording is lost, waits for
// in-flight pipeline starts and then closes every subsystem. It is safe to
// call more than once; only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.state.IsActive() {
			slog.Info("stopping active session before shutdown", "session", a.state.SessionName())
			if err := a.orchestrator.Stop(ctx, a.shutdownReplier); err != nil && !errors.Is(err, ErrStopInProgress) {
				errs = append(errs, fmt.Errorf("app: stop session: %w", err))
			}
		}
		a.router.Wait()

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
