// Package transcript turns the recordings of a finished session into a
// written transcript and hands it to the summariser.
//
// Every recording under recordings/<session>/ is transcribed in parallel. The
// recognised text is stamped with the wall-clock time it was spoken (capture
// start plus segment offset), attributed to its speaker, corrected against the
// campaign vocabulary and merged into one chronological transcript:
//
//	2024-05-01 21:03:12 - alice: We should not open that door.
//	2024-05-01 21:03:15 - bob: I open the door.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/recording"
	"github.com/MrWong99/scryer/internal/summary"
	"github.com/MrWong99/scryer/internal/transcript/phonetic"
	"github.com/MrWong99/scryer/pkg/provider/stt"
)

// Errors returned by [Service.TranscribeSession].
var (
	ErrNoRecordings        = errors.New("transcript: no recordings for session")
	ErrTranscriptionFailed = errors.New("transcript: every recording failed to transcribe")
)

const (
	defaultConcurrency = 4
	lineTimeLayout     = "2006-01-02 15:04:05"
)

// Summariser condenses a transcript. *summary.Summariser satisfies it.
type Summariser interface {
	Summarise(ctx context.Context, session, transcript string) (*summary.Result, error)
}

// Artifact is what a finished session leaves behind.
type Artifact struct {
	// Summary is the summary text; empty when there was nothing to summarise.
	Summary string

	// SummaryFile is empty when no summary was saved.
	SummaryFile string

	TranscriptionFile string

	// Transcript is the full text written to TranscriptionFile.
	Transcript string

	// Recordings and Failed count the audio files processed.
	Recordings int
	Failed     int
}

// Line is one attributed utterance.
type Line struct {
	At       time.Time
	Username string
	Text     string
}

// String formats the line as it appears in transcript files.
func (l Line) String() string {
	return l.At.Format(lineTimeLayout) + " - " + l.Username + ": " + l.Text
}

// Option configures a [Service].
type Option func(*Service)

// WithConcurrency bounds how many recordings are transcribed at once.
// Default: 4.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithVocabulary enables correction of misheard campaign terms.
func WithVocabulary(m *phonetic.Matcher) Option {
	return func(s *Service) { s.vocab.Store(m) }
}

// WithLocation sets the time zone of transcript timestamps. Default: local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service transcribes and summarises sessions.
type Service struct {
	recordingsDir  string
	transcriptsDir string
	stt            stt.FileTranscriber
	summariser     Summariser
	vocab          atomic.Pointer[phonetic.Matcher]
	concurrency    int
	loc            *time.Location
	now            func() time.Time
	metrics        *observe.Metrics
}

// SetVocabulary swaps the correction vocabulary. A nil matcher disables
// correction. Sessions already being transcribed may use either vocabulary.
func (s *Service) SetVocabulary(m *phonetic.Matcher) {
	s.vocab.Store(m)
}

// New creates a Service reading recordings from recordingsDir and writing
// transcripts to transcriptsDir.
func New(transcriber stt.FileTranscriber, summariser Summariser, recordingsDir, transcriptsDir string, opts ...Option) *Service {
	s := &Service{
		recordingsDir:  recordingsDir,
		transcriptsDir: transcriptsDir,
		stt:            transcriber,
		summariser:     summariser,
		concurrency:    defaultConcurrency,
		loc:            time.Local,
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// recordingFile is an audio file with the metadata from its name.
type recordingFile struct {
	path string
	info recording.FileInfo
}

// TranscribeSession transcribes every recording of session, writes the
// transcript file and summarises it. A recording that fails to transcribe is
// logged and left out; the call fails only if every recording failed.
func (s *Service) TranscribeSession(ctx context.Context, session string) (_ *Artifact, err error) {
	ctx, span := observe.StartSpan(ctx, "transcript.TranscribeSession", observe.Attr("session", session))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With("session", session)

	files, err := s.listRecordings(ctx, session)
	if err != nil {
		return nil, err
	}
	art := &Artifact{Recordings: len(files)}

	var (
		mu    sync.Mutex
		lines []Line
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.concurrency, 1))
	for _, f := range files {
		g.Go(func() error {
			start := time.Now()
			t, err := s.stt.TranscribeFile(gctx, f.path)
			s.metrics.TranscriptionDuration.Record(gctx, time.Since(start).Seconds())
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Error("transcription failed", "path", f.path, "err", err)
				mu.Lock()
				art.Failed++
				mu.Unlock()
				return nil
			}
			fileLines := s.toLines(f.info, t)
			mu.Lock()
			lines = append(lines, fileLines...)
			mu.Unlock()
			log.Debug("transcribed recording", "path", f.path, "lines", len(fileLines))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	if art.Failed == art.Recordings {
		return nil, fmt.Errorf("%w: %d recordings", ErrTranscriptionFailed, art.Recordings)
	}

	slices.SortStableFunc(lines, func(a, b Line) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	formatted := make([]string, len(lines))
	for i, l := range lines {
		formatted[i] = l.String()
	}
	art.Transcript = strings.Join(formatted, "\n")

	if art.TranscriptionFile, err = s.write(session, art.Transcript); err != nil {
		return nil, err
	}
	log.Info("transcript saved", "path", art.TranscriptionFile, "lines", len(lines), "failed", art.Failed)

	if len(lines) == 0 {
		log.Warn("no speech recognised, skipping summary")
		return art, nil
	}

	res, err := s.summariser.Summarise(ctx, session, art.Transcript)
	if err != nil {
		return nil, fmt.Errorf("transcript: summarise: %w", err)
	}
	art.Summary, art.SummaryFile = res.Text, res.File
	return art, nil
}

// toLines splits a transcript into attributed lines. Segments carry their own
// offsets; without segments the whole text is stamped with the capture start.
func (s *Service) toLines(info recording.FileInfo, t *stt.Transcript) []Line {
	if t == nil {
		return nil
	}
	segments := t.Segments
	if len(segments) == 0 {
		segments = []stt.Segment{{Text: t.Text}}
	}

	var lines []Line
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if vocab := s.vocab.Load(); vocab != nil {
			text, _ = vocab.Correct(text)
		}
		lines = append(lines, Line{
			At:       info.CapturedAt.Add(seg.Start).In(s.loc),
			Username: info.Username,
			Text:     text,
		})
	}
	return lines
}

func (s *Service) listRecordings(ctx context.Context, session string) ([]recordingFile, error) {
	dir := filepath.Join(s.recordingsDir, session)
	paths, err := filepath.Glob(filepath.Join(dir, "audio_*.wav"))
	if err != nil {
		return nil, fmt.Errorf("transcript: list %s: %w", dir, err)
	}

	var files []recordingFile
	for _, p := range paths {
		info, err := recording.ParseAudioFileName(p)
		if err != nil {
			observe.Logger(ctx).Warn("skipping recording with unexpected name", "path", p, "err", err)
			continue
		}
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			continue
		}
		files = append(files, recordingFile{path: p, info: info})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoRecordings, session)
	}
	return files, nil
}

func (s *Service) write(session, text string) (string, error) {
	dir := filepath.Join(s.transcriptsDir, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("transcript: create %s: %w", dir, err)
	}
	name := fmt.Sprintf("transcription_%s_%s.txt", session, s.now().Format(summary.FileTimeLayout))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("transcript: write %s: %w", path, err)
	}
	return path, nil
}
