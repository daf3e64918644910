package summary_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/summary"
	"github.com/MrWong99/scryer/pkg/provider/llm"
	llmmock "github.com/MrWong99/scryer/pkg/provider/llm/mock"
)

var fixedNow = time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// scriptedLLM answers chunk prompts with chunkAnswer and the combine prompt
// with finalAnswer. failChunk / failFinal make the first n calls of that kind
// fail.
type scriptedLLM struct {
	mu          sync.Mutex
	chunkAnswer string
	finalAnswer string
	failChunk   int
	failFinal   int
	chunkCalls  int
	finalCalls  int
	lastFinal   llm.CompletionRequest
}

func (s *scriptedLLM) provider(model string) *llmmock.Provider {
	return &llmmock.Provider{
		ModelName: model,
		CompleteFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			prompt := req.Messages[0].Content
			if strings.HasPrefix(prompt, "Here is a portion") {
				s.chunkCalls++
				if s.chunkCalls <= s.failChunk {
					return nil, errors.New("rate limited")
				}
				return &llm.CompletionResponse{Content: s.chunkAnswer}, nil
			}
			s.finalCalls++
			s.lastFinal = req
			if s.finalCalls <= s.failFinal {
				return nil, errors.New("rate limited")
			}
			return &llm.CompletionResponse{Content: s.finalAnswer}, nil
		},
	}
}

func newSummariser(t *testing.T, p llm.Provider, opts ...summary.Option) (*summary.Summariser, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]summary.Option{
		summary.WithClock(func() time.Time { return fixedNow }),
		summary.WithMetrics(testMetrics(t)),
	}, opts...)
	return summary.New(p, dir, opts...), dir
}

const transcript = "2024-05-01 12:00:00 - alice: We enter the crypt. " +
	"2024-05-01 12:00:05 - bob: I light a torch. " +
	"2024-05-01 12:00:09 - alice: Something moves in the dark."

func TestSummarise_Success(t *testing.T) {
	t.Parallel()

	script := &scriptedLLM{
		chunkAnswer: "The party explores.\n- Entered the crypt\n- Lit a torch",
		finalAnswer: "  The party explored a crypt and met something.  ",
	}
	s, dir := newSummariser(t, script.provider("gpt-4-turbo"),
		summary.WithLimits(summary.Limits{MaxTokens: 777, MaxWordsPerChunk: 12}))

	res, err := s.Summarise(context.Background(), "alpha", transcript)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if !res.OK() {
		t.Fatalf("result not OK: %+v", res)
	}
	if res.Text != "The party explored a crypt and met something." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Chunks < 2 || script.chunkCalls != res.Chunks {
		t.Errorf("chunks = %d, chunk calls = %d, want >= 2 and equal", res.Chunks, script.chunkCalls)
	}

	wantPath := filepath.Join(dir, "alpha", "summary_alpha_2024-05-01_12-30-45.txt")
	if res.File != wantPath {
		t.Errorf("File = %q, want %q", res.File, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if string(data) != res.Text {
		t.Errorf("file content = %q", data)
	}

	final := script.lastFinal
	if final.Temperature != 0.5 || final.MaxTokens != 777 {
		t.Errorf("final request temperature/max tokens = %v/%d", final.Temperature, final.MaxTokens)
	}
	prompt := final.Messages[0].Content
	if !strings.Contains(prompt, "The party explores.") || !strings.Contains(prompt, "- Entered the crypt") {
		t.Errorf("combine prompt misses chunk output:\n%s", prompt)
	}
}

func TestSummarise_RetriesThreeTimes(t *testing.T) {
	t.Parallel()

	script := &scriptedLLM{chunkAnswer: "ok", finalAnswer: "done", failChunk: 2}
	s, _ := newSummariser(t, script.provider("gpt-3.5-turbo"))

	res, err := s.Summarise(context.Background(), "beta", "Short session.")
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if script.chunkCalls != 3 {
		t.Errorf("chunk calls = %d, want 3", script.chunkCalls)
	}
	if res.FailedChunks != 0 || !res.OK() {
		t.Errorf("result = %+v", res)
	}
}

func TestSummarise_SkipsFailedChunk(t *testing.T) {
	t.Parallel()

	script := &scriptedLLM{chunkAnswer: "ok", finalAnswer: "done", failChunk: 3}
	s, _ := newSummariser(t, script.provider("gpt-3.5-turbo"))

	res, err := s.Summarise(context.Background(), "beta", "Short session.")
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if res.FailedChunks != 1 {
		t.Errorf("FailedChunks = %d, want 1", res.FailedChunks)
	}
	if res.Text != "done" {
		t.Errorf("Text = %q, want combine still attempted", res.Text)
	}
}

func TestSummarise_FinalFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script *scriptedLLM
		want   string
	}{
		{name: "final fails", script: &scriptedLLM{chunkAnswer: "ok", failFinal: 3}, want: summary.SummaryFailed},
		{name: "final empty", script: &scriptedLLM{chunkAnswer: "ok", finalAnswer: "   "}, want: summary.NoSummary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, dir := newSummariser(t, tt.script.provider("gpt-4-turbo"))
			res, err := s.Summarise(context.Background(), "gamma", "Hello there.")
			if err != nil {
				t.Fatalf("Summarise: %v", err)
			}
			if res.Text != tt.want {
				t.Errorf("Text = %q, want %q", res.Text, tt.want)
			}
			if res.OK() || res.File != "" {
				t.Errorf("fallback must not be saved: %+v", res)
			}
			if _, err := os.Stat(filepath.Join(dir, "gamma")); !os.IsNotExist(err) {
				t.Errorf("session dir created for fallback: %v", err)
			}
		})
	}
}

func TestSummarise_Cancelled(t *testing.T) {
	t.Parallel()

	script := &scriptedLLM{chunkAnswer: "ok", finalAnswer: "done"}
	s, _ := newSummariser(t, script.provider("gpt-4-turbo"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Summarise(ctx, "delta", "Hello."); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSummariser_LimitsFromModel(t *testing.T) {
	t.Parallel()
	s, _ := newSummariser(t, &llmmock.Provider{ModelName: "gpt-4-turbo-32k"})
	if got := s.Limits(); got.MaxTokens != 32768 || got.MaxWordsPerChunk != 24576 {
		t.Errorf("Limits() = %+v", got)
	}
}
