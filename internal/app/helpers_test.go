package app_test

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/scryer/internal/app"
	"github.com/MrWong99/scryer/internal/config"
	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/recording"
	recmock "github.com/MrWong99/scryer/internal/recording/mock"
	"github.com/MrWong99/scryer/internal/transcript"
	"github.com/MrWong99/scryer/pkg/audio"
	audiomock "github.com/MrWong99/scryer/pkg/audio/mock"
)

// ─── test doubles ─────────────────────────────────────────────────────────────

// fakeTranscriber records every session it is asked to transcribe.
type fakeTranscriber struct {
	mu    sync.Mutex
	calls []string

	Artifact *transcript.Artifact
	Err      error

	// Before, when set, runs at the start of every call.
	Before func(session string)
}

func (f *fakeTranscriber) TranscribeSession(_ context.Context, session string) (*transcript.Artifact, error) {
	if f.Before != nil {
		f.Before(session)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, session)
	return f.Artifact, f.Err
}

func (f *fakeTranscriber) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// replyLog is a Replier collecting every message.
type replyLog struct {
	mu   sync.Mutex
	msgs []string
}

func (r *replyLog) Reply(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, content)
	return nil
}

func (r *replyLog) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.msgs)
}

// fakeCapturer records router decisions without running pipelines.
type fakeCapturer struct {
	mu     sync.Mutex
	starts []string
	stops  []string
	order  []string
}

func (f *fakeCapturer) Start(_ context.Context, _ audio.Connection, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, userID)
	return nil
}

func (f *fakeCapturer) Stop(_ context.Context, userID string) *recording.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, userID)
	return nil
}

func (f *fakeCapturer) StopAll(context.Context) []*recording.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "stop-all")
	return nil
}

func (f *fakeCapturer) Active() []recording.Active { return nil }

func (f *fakeCapturer) Drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "drain")
}

// Order returns the sequence of Drain and StopAll calls.
func (f *fakeCapturer) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.order)
}

func (f *fakeCapturer) Calls() (starts, stops []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.starts), slices.Clone(f.stops)
}

// ─── fixture ──────────────────────────────────────────────────────────────────

const (
	testGuild   = "guild-1"
	testChannel = "voice-1"
	testBot     = "bot-0"
)

var okArtifact = &transcript.Artifact{
	Summary:           "The party opened the door.",
	SummaryFile:       "transcripts/alpha/summary_alpha_2024-05-01_23-00-00.txt",
	TranscriptionFile: "transcripts/alpha/transcription_alpha_2024-05-01_23-00-00.txt",
	Transcript:        "2024-05-01 21:03:12 - alice: I open the door.",
	Recordings:        1,
}

type fixture struct {
	app       *app.App
	cfg       *config.Config
	providers *app.Providers
	platform *audiomock.Platform
	conn     *audiomock.Connection
	spawner  *recmock.Spawner
	tr       *fakeTranscriber
}

func newMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newFixture(t *testing.T, grace time.Duration, members []audio.Member, opts ...app.Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		cfg: &config.Config{
			Recording:  config.RecordingConfig{Dir: filepath.Join(dir, "recordings"), GracePeriod: grace},
			Transcript: config.TranscriptConfig{Dir: filepath.Join(dir, "transcripts")},
		},
		conn:    audiomock.NewConnection(testGuild, testChannel),
		spawner: &recmock.Spawner{},
		tr:      &fakeTranscriber{Artifact: okArtifact},
	}
	f.conn.MembersResult = members
	f.platform = &audiomock.Platform{ConnectResult: f.conn, BotID: testBot}
	f.providers = &app.Providers{Audio: f.platform}

	all := append([]app.Option{
		app.WithTranscriber(f.tr),
		app.WithMetrics(newMetrics(t)),
		app.WithRecorderOptions(
			recording.WithSpawner(f.spawner),
			recording.WithDecoderFactory(recmock.NewDecoder),
		),
	}, opts...)

	a, err := app.New(context.Background(), f.cfg, f.providers, all...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return f
}

// newMeteredMetrics returns metrics backed by a manual reader, for tests that
// assert on recorded values.
func newMeteredMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// activeSessions sums the scryer.sessions.active counter.
func activeSessions(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "scryer.sessions.active" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("scryer.sessions.active data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
