package resilience

import (
	"context"

	"github.com/MrWong99/scryer/pkg/provider/stt"
)

// STTFallback implements [stt.FileTranscriber] with failover across several
// STT backends.
type STTFallback struct {
	group *FallbackGroup[stt.FileTranscriber]
}

// Compile-time interface assertion.
var _ stt.FileTranscriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.FileTranscriber, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT backend.
func (f *STTFallback) AddFallback(name string, t stt.FileTranscriber) {
	f.group.AddFallback(name, t)
}

// TranscribeFile transcribes path with the first healthy backend.
func (f *STTFallback) TranscribeFile(ctx context.Context, path string) (*stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.FileTranscriber) (*stt.Transcript, error) {
		return t.TranscribeFile(ctx, path)
	})
}
