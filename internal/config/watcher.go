package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] looks at the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher reloads the config file when it changes and hands the difference
// to a callback. Only edits that change the effective config reach the
// callback: a touched file, a reformatted file or an invalid edit do not.
// An invalid edit is logged once and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(ConfigDiff)

	mu      sync.Mutex
	current *Config
	seen    fileVersion
}

// fileVersion identifies the file content last looked at, valid or not.
type fileVersion struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher for it. apply may be nil.
// Polling starts with [Watcher.Run].
func NewWatcher(path string, apply func(ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, apply: apply}
	for _, opt := range opts {
		opt(w)
	}
	cfg, v, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, v
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check looks at the file once and applies an effective change. It reports
// whether the callback ran.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, v, err := w.read()

	w.mu.Lock()
	if v.sum == w.seen.sum {
		w.seen.mtime = v.mtime
		w.mu.Unlock()
		return false
	}
	w.seen = v
	if err != nil {
		w.mu.Unlock()
		slog.Warn("config: edit rejected, keeping the running config", "path", w.path, "err", err)
		return false
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config: file rewritten without effective change", "path", w.path)
		return false
	}
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"vocabulary_changed", d.VocabularyChanged,
		"restart_required", d.RestartRequired,
	)
	if w.apply != nil {
		w.apply(d)
	}
	return true
}

// read loads and validates the file. The version is filled in whenever the
// file could be read, so a broken edit is remembered and not re-reported.
func (w *Watcher) read() (*Config, fileVersion, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	v := fileVersion{mtime: info.ModTime(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, v, err
	}
	return cfg, v, nil
}
