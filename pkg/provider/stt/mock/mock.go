// Package mock provides test doubles for the stt package interfaces.
//
// Example:
//
//	tr := &mock.Transcriber{Results: map[string]*stt.Transcript{
//	    "audio_alice_1_2024-05-01T10-00-00-000Z.wav": {Text: "hello"},
//	}}
package mock

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MrWong99/scryer/pkg/provider/stt"
)

// Compile-time assertion.
var _ stt.FileTranscriber = (*Transcriber)(nil)

// Transcriber is a mock implementation of stt.FileTranscriber.
type Transcriber struct {
	mu sync.Mutex

	// Results maps a file's base name to the transcript returned for it.
	// Files without an entry return an empty transcript.
	Results map[string]*stt.Transcript

	// Errs maps a file's base name to an error returned for it.
	Errs map[string]error

	// Err, if non-nil, is returned for every file.
	Err error

	// TranscribeFunc, if set, replaces the lookup above.
	TranscribeFunc func(ctx context.Context, path string) (*stt.Transcript, error)

	calls []string
}

// TranscribeFile records the call and returns the configured result.
func (m *Transcriber) TranscribeFile(ctx context.Context, path string) (*stt.Transcript, error) {
	m.mu.Lock()
	m.calls = append(m.calls, path)
	fn := m.TranscribeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	base := filepath.Base(path)
	if err, ok := m.Errs[base]; ok {
		return nil, err
	}
	if t, ok := m.Results[base]; ok {
		cp := *t
		return &cp, nil
	}
	return &stt.Transcript{}, nil
}

// Calls returns the paths passed to TranscribeFile, sorted.
func (m *Transcriber) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.calls)
	slices.Sort(out)
	return out
}
