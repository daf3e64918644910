// Package summary turns a session transcript into a written account of what
// happened and serves stored summaries and transcripts back to users.
//
// The [Summariser] splits the transcript into sentence-aligned chunks sized
// for the configured model, asks the LLM to summarise each chunk and list its
// key events, and then asks once more to combine the partial results. The
// final text is saved as transcripts/<session>/summary_<session>_<ts>.txt.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/resilience"
	"github.com/MrWong99/scryer/pkg/provider/llm"
)

// Text returned instead of a summary when the combining step yields nothing.
const (
	NoSummary     = "No final summary available"
	SummaryFailed = "Final summary generation failed"
)

const (
	defaultAttempts    = 3
	defaultTemperature = 0.5

	// FileTimeLayout formats the timestamp embedded in summary and transcript
	// file names.
	FileTimeLayout = "2006-01-02_15-04-05"
)

const chunkPrompt = `Here is a portion of a conversation transcript. Please summarize it, ignoring any background noise, music, or non-speech sounds. Focus only on the spoken content and relevant dialog.

After the summary, provide a bulleted list of the key events in the order they happened.

Transcript:
%s

Summary:

Key Events:
- first key event
- second key event
- etc.`

const combinePrompt = `Below are summaries and key events from parts of a longer conversation. Combine them into a single, cohesive summary that covers the entire conversation, followed by a complete list of key events in order.

Summaries:
%s

Key Events:
- %s

Overall Summary:

Key Events:`

// Result is the outcome of [Summariser.Summarise].
type Result struct {
	// Text is the combined summary, or [NoSummary] / [SummaryFailed].
	Text string

	// File is the path the summary was saved to. Empty when no summary was
	// produced.
	File string

	// Chunks and FailedChunks count the per-chunk requests.
	Chunks       int
	FailedChunks int
}

// OK reports whether a real summary was produced and saved.
func (r *Result) OK() bool { return r != nil && r.File != "" }

// Option configures a [Summariser].
type Option func(*Summariser)

// WithAttempts sets how often each completion is tried. Default: 3.
func WithAttempts(n int) Option {
	return func(s *Summariser) { s.attempts = n }
}

// WithTemperature sets the sampling temperature. Default: 0.5.
func WithTemperature(t float64) Option {
	return func(s *Summariser) { s.temperature = t }
}

// WithLimits overrides the limits derived from the provider's model.
func WithLimits(l Limits) Option {
	return func(s *Summariser) { s.limits = &l }
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(s *Summariser) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Summariser) { s.metrics = m }
}

// Summariser produces session summaries with an LLM.
type Summariser struct {
	llm         llm.Provider
	dir         string
	attempts    int
	temperature float64
	limits      *Limits
	now         func() time.Time
	metrics     *observe.Metrics
}

// New creates a Summariser that stores summaries below dir (one directory per
// session).
func New(provider llm.Provider, dir string, opts ...Option) *Summariser {
	s := &Summariser{
		llm:         provider,
		dir:         dir,
		attempts:    defaultAttempts,
		temperature: defaultTemperature,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Limits returns the limits in effect.
func (s *Summariser) Limits() Limits {
	if s.limits != nil {
		return *s.limits
	}
	return LimitsFor(s.llm.Model())
}

// Summarise summarises transcript and saves the result for session. Chunks
// whose completion fails on every attempt are skipped. A failing combine step
// is reported through [Result.Text], not as an error; the error return is
// reserved for cancellation and for failing to save the summary.
func (s *Summariser) Summarise(ctx context.Context, session, transcript string) (_ *Result, err error) {
	ctx, span := observe.StartSpan(ctx, "summary.Summarise", observe.Attr("session", session))
	defer func() { observe.EndSpan(span, err) }()
	start := time.Now()
	defer func() { s.metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds()) }()

	log := observe.Logger(ctx).With("session", session)
	limits := s.Limits()
	chunks := SplitSentences(transcript, limits.MaxWordsPerChunk)
	res := &Result{Chunks: len(chunks)}

	var summaries, events []string
	for i, chunk := range chunks {
		out, err := s.complete(ctx, fmt.Sprintf(chunkPrompt, chunk), limits)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("summary: %w", ctx.Err())
			}
			res.FailedChunks++
			log.Error("chunk summary failed", "chunk", i, "err", err)
			continue
		}
		summary, keyEvents := splitChunkSummary(out)
		if summary == "" {
			log.Error("no summary available for chunk", "chunk", i)
			continue
		}
		summaries = append(summaries, summary)
		events = append(events, keyEvents...)
	}

	prompt := fmt.Sprintf(combinePrompt, strings.Join(summaries, "\n\n"), strings.Join(events, "\n- "))
	final, err := s.complete(ctx, prompt, limits)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("summary: %w", ctx.Err())
	case err != nil:
		log.Error("final summary failed", "err", err)
		res.Text = SummaryFailed
		return res, nil
	case final == "":
		log.Error("final summary empty")
		res.Text = NoSummary
		return res, nil
	}

	path, err := s.save(session, final)
	if err != nil {
		return nil, err
	}
	res.Text, res.File = final, path
	log.Info("summary saved", "path", path, "chunks", res.Chunks, "failed_chunks", res.FailedChunks)
	return res, nil
}

// complete runs one prompt with retries and returns the trimmed answer.
func (s *Summariser) complete(ctx context.Context, prompt string, limits Limits) (string, error) {
	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.temperature,
		MaxTokens:   limits.MaxTokens,
	}
	return resilience.Retry(ctx, s.attempts, func(ctx context.Context) (string, error) {
		start := time.Now()
		resp, err := s.llm.Complete(ctx, req)
		s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return "", err
		}
		if resp == nil {
			return "", nil
		}
		return strings.TrimSpace(resp.Content), nil
	}, resilience.OnRetryError(func(attempt int, err error) {
		slog.Debug("summary: completion attempt failed", "attempt", attempt, "err", err)
	}))
}

func (s *Summariser) save(session, text string) (string, error) {
	dir := filepath.Join(s.dir, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("summary: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("summary_%s_%s.txt", session, s.now().Format(FileTimeLayout)))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("summary: write %s: %w", path, err)
	}
	return path, nil
}

// splitChunkSummary takes the first non-blank line as the summary and every
// following non-blank line as a key event.
func splitChunkSummary(text string) (string, []string) {
	var lines []string
	for l := range strings.SplitSeq(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], lines[1:]
}
