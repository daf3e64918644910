package recording_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/recording"
	recmock "github.com/MrWong99/scryer/internal/recording/mock"
	"github.com/MrWong99/scryer/pkg/audio"
	audiomock "github.com/MrWong99/scryer/pkg/audio/mock"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

type sessionName string

func (s sessionName) SessionName() string { return string(s) }
func (s sessionName) Recording() bool     { return s != "" }

// stoppableSession is a session that can be switched out of recording, like
// one whose stop has begun.
type stoppableSession struct {
	name    string
	stopped atomic.Bool
}

func (s *stoppableSession) SessionName() string { return s.name }
func (s *stoppableSession) Recording() bool     { return !s.stopped.Load() }

var fixedStart = time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)

type fixture struct {
	rec     *recording.Recorder
	spawner *recmock.Spawner
	conn    *audiomock.Connection
	dir     string
}

func newFixture(t *testing.T, session string, grace time.Duration) *fixture {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		spawner: &recmock.Spawner{},
		conn:    audiomock.NewConnection("guild-1", "voice-1"),
		dir:     t.TempDir(),
	}
	f.rec = recording.New(f.dir, sessionName(session),
		recording.WithGracePeriod(grace),
		recording.WithSpawner(f.spawner),
		recording.WithDecoderFactory(recmock.NewDecoder),
		recording.WithClock(func() time.Time { return fixedStart }),
		recording.WithMetrics(metrics),
	)
	return f
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

// ─── Start ────────────────────────────────────────────────────────────────────

func TestStart_Preconditions(t *testing.T) {
	t.Parallel()

	t.Run("no connection", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "alpha", time.Millisecond)
		err := f.rec.Start(context.Background(), nil, "123", "alice")
		if !errors.Is(err, recording.ErrNoActiveConnection) {
			t.Errorf("err = %v, want ErrNoActiveConnection", err)
		}
	})

	t.Run("no session", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "", time.Millisecond)
		err := f.rec.Start(context.Background(), f.conn, "123", "alice")
		if !errors.Is(err, recording.ErrNoActiveSession) {
			t.Errorf("err = %v, want ErrNoActiveSession", err)
		}
		if len(f.conn.SubscribeCalls) != 0 {
			t.Errorf("subscribed without a session: %v", f.conn.SubscribeCalls)
		}
	})
}

func TestStart_RefusedOnceStopping(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	session := &stoppableSession{name: "alpha"}
	session.stopped.Store(true)
	f.rec = recording.New(f.dir, session,
		recording.WithSpawner(f.spawner),
		recording.WithDecoderFactory(recmock.NewDecoder),
	)

	err := f.rec.Start(context.Background(), f.conn, "123", "alice")
	if !errors.Is(err, recording.ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
	if len(f.spawner.Spawned()) != 0 || f.rec.Registry().Len() != 0 {
		t.Error("a stopping session started a pipeline")
	}
}

func TestDrain_WaitsForAdmittedStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	f.spawner.Delay = 100 * time.Millisecond
	session := &stoppableSession{name: "alpha"}
	f.rec = recording.New(f.dir, session,
		recording.WithGracePeriod(time.Millisecond),
		recording.WithSpawner(f.spawner),
		recording.WithDecoderFactory(recmock.NewDecoder),
	)
	ctx := context.Background()

	started := make(chan error, 1)
	go func() { started <- f.rec.Start(ctx, f.conn, "123", "alice") }()
	waitFor(t, "subscription of the slow start", func() bool { return f.conn.Subscribed("123") })

	session.stopped.Store(true)
	f.rec.Drain()

	if f.rec.Registry().Get("123") == nil {
		t.Fatal("Drain returned before the admitted Start registered its pipeline")
	}
	if err := <-started; err != nil {
		t.Fatalf("admitted Start: %v", err)
	}
	if err := f.rec.Start(ctx, f.conn, "456", "bob"); !errors.Is(err, recording.ErrNoActiveSession) {
		t.Errorf("Start after stop began: err = %v, want ErrNoActiveSession", err)
	}

	results := f.rec.StopAll(ctx)
	if len(results) != 1 || results[0] == nil || results[0].UserID != "123" {
		t.Fatalf("StopAll = %+v, want the drained pipeline", results)
	}
	for _, e := range f.spawner.Spawned() {
		if !e.Closed() {
			t.Errorf("encoder %s still open after StopAll", e.Path)
		}
	}
}

func TestDrain_Idle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	done := make(chan struct{})
	go func() {
		f.rec.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked without any start in flight")
	}
}

func TestStart_SpawnFailureReleasesStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	f.spawner.SpawnErr = errors.New("exec: ffmpeg not found")

	if err := f.rec.Start(context.Background(), f.conn, "123", "alice"); err == nil {
		t.Fatal("expected spawn error")
	}
	if f.conn.Subscribed("123") {
		t.Error("stream still subscribed after failed start")
	}
	if f.rec.Registry().Get("123") != nil {
		t.Error("pipeline registered after failed start")
	}
}

func TestStartStop_WritesDecodedAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", 10*time.Millisecond)
	ctx := context.Background()

	if err := f.rec.Start(ctx, f.conn, "123", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := filepath.Join(f.dir, "alpha", "audio_alice_123_2024-05-01T12-30-45-123Z.wav")
	if p := f.rec.Registry().Get("123"); p == nil || p.FilePath() != want {
		t.Fatalf("registered pipeline = %v, want path %s", p, want)
	}

	f.conn.Send("123", audio.Packet{Opus: []byte{1, 2, 3, 4}})
	enc := f.spawner.Spawned()[0]
	waitFor(t, "pcm written", func() bool { return len(enc.Bytes()) == 4 })

	res := f.rec.Stop(ctx, "123")
	if res == nil {
		t.Fatal("Stop returned nil for a recorded user")
	}
	if res.FilePath != want || res.UserID != "123" || res.Err != nil {
		t.Errorf("result = %+v", res)
	}
	if !enc.Closed() {
		t.Error("encoder still running after Stop")
	}
	if f.rec.Registry().Get("123") != nil {
		t.Error("pipeline still registered after Stop")
	}
	if f.conn.Subscribed("123") {
		t.Error("stream still subscribed after Stop")
	}
}

func TestStart_DecodeErrorDropsPacket(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	f.rec = recording.New(f.dir, sessionName("alpha"),
		recording.WithSpawner(f.spawner),
		recording.WithGracePeriod(time.Millisecond),
		recording.WithDecoderFactory(func() (recording.Decoder, error) {
			return recmock.Decoder{Fail: []byte{0xFF}}, nil
		}),
	)
	ctx := context.Background()
	if err := f.rec.Start(ctx, f.conn, "123", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.conn.Send("123", audio.Packet{Opus: []byte{0xFF}})
	f.conn.Send("123", audio.Packet{Opus: []byte{7, 7}})
	enc := f.spawner.Spawned()[0]
	waitFor(t, "good packet written", func() bool { return len(enc.Bytes()) == 2 })

	if f.rec.Stop(ctx, "123") == nil {
		t.Fatal("pipeline did not survive a decode error")
	}
}

func TestStart_RestartStopsPreviousFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	ctx := context.Background()

	if err := f.rec.Start(ctx, f.conn, "123", "alice"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	first := f.rec.Registry().Get("123")

	if err := f.rec.Start(ctx, f.conn, "123", "alice"); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	encs := f.spawner.Spawned()
	if len(encs) != 2 {
		t.Fatalf("spawned %d encoders, want 2", len(encs))
	}
	if !encs[0].Closed() {
		t.Error("old encoder still open after restart")
	}
	if encs[1].Closed() {
		t.Error("new encoder closed")
	}
	if got := f.rec.Registry().Get("123"); got == nil || got == first {
		t.Error("registry does not hold the new pipeline")
	}
	if n := f.rec.Registry().Len(); n != 1 {
		t.Errorf("registry holds %d pipelines, want 1", n)
	}
}

// ─── Stop ─────────────────────────────────────────────────────────────────────

func TestStop_UnknownUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Second)
	if err := f.rec.Start(context.Background(), f.conn, "123", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if res := f.rec.Stop(context.Background(), "999"); res != nil {
		t.Errorf("Stop(unknown) = %+v, want nil", res)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Stop(unknown) waited for a grace period")
	}
	if f.rec.Registry().Len() != 1 {
		t.Error("Stop(unknown) mutated the registry")
	}
	f.rec.StopAll(context.Background())
}

func TestStop_ContextShortensGrace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Minute)
	if err := f.rec.Start(context.Background(), f.conn, "123", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.rec.Stop(ctx, "123")
	if res == nil || !f.spawner.Spawned()[0].Closed() {
		t.Fatal("cancelled Stop did not finish the pipeline")
	}
}

func TestEncoderExit_Unregisters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Millisecond)
	if err := f.rec.Start(context.Background(), f.conn, "123", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.spawner.Spawned()[0].Exit(errors.New("exit status 1"))

	waitFor(t, "pipeline removal", func() bool { return f.rec.Registry().Get("123") == nil })
	if f.rec.Stop(context.Background(), "123") != nil {
		t.Error("Stop after encoder exit returned a result")
	}
	if err := f.rec.Start(context.Background(), f.conn, "123", "alice"); err != nil {
		t.Fatalf("Start after encoder exit: %v", err)
	}
	f.rec.StopAll(context.Background())
}

// ─── StopAll ──────────────────────────────────────────────────────────────────

func TestStopAll_GracePeriodsOverlap(t *testing.T) {
	t.Parallel()

	const grace = 200 * time.Millisecond
	f := newFixture(t, "alpha", grace)
	ctx := context.Background()

	users := []string{"1", "2", "3"}
	for _, u := range users {
		if err := f.rec.Start(ctx, f.conn, u, "user"+u); err != nil {
			t.Fatalf("Start(%s): %v", u, err)
		}
	}

	start := time.Now()
	results := f.rec.StopAll(ctx)
	took := time.Since(start)

	if took < grace {
		t.Errorf("StopAll took %v, shorter than the grace period", took)
	}
	if took >= 2*grace {
		t.Errorf("StopAll took %v, grace periods did not overlap", took)
	}
	if len(results) != len(users) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(users))
	}
	var got []string
	for _, r := range results {
		if r == nil {
			t.Fatal("nil result for a running pipeline")
		}
		got = append(got, r.UserID)
	}
	slices.Sort(got)
	if !slices.Equal(got, users) {
		t.Errorf("stopped users = %v, want %v", got, users)
	}
	for _, e := range f.spawner.Spawned() {
		if !e.Closed() {
			t.Errorf("encoder %s not closed", e.Path)
		}
	}
	if f.rec.Registry().Len() != 0 {
		t.Error("registry not empty after StopAll")
	}
}

func TestStopAll_Empty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alpha", time.Second)
	if got := f.rec.StopAll(context.Background()); len(got) != 0 {
		t.Errorf("StopAll() = %v, want empty", got)
	}
}
