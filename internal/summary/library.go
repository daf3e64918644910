package summary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Errors returned by [Library].
var (
	// ErrSessionNotFound means there is no transcript directory for the session.
	ErrSessionNotFound = errors.New("summary: session not found")

	// ErrNotFound means the session directory holds no matching file.
	ErrNotFound = errors.New("summary: no file found")
)

const (
	summaryPrefix    = "summary_"
	transcriptPrefix = "transcription_"
	textExt          = ".txt"
)

// Document is a stored summary or transcript.
type Document struct {
	Path    string
	ModTime time.Time
	Text    string
}

// Library reads stored summaries and transcripts from the transcripts
// directory. It holds no state; concurrent use is safe.
type Library struct {
	dir string
}

// NewLibrary returns a Library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// LatestSummary returns the most recently modified summary of session.
func (l *Library) LatestSummary(session string) (*Document, error) {
	return l.latest(session, summaryPrefix)
}

// LatestTranscript returns the most recently modified transcript of session.
func (l *Library) LatestTranscript(session string) (*Document, error) {
	return l.latest(session, transcriptPrefix)
}

// Sessions lists the sessions that have a transcript directory, sorted by
// name.
func (l *Library) Sessions() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("summary: list sessions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (l *Library) latest(session, prefix string) (*Document, error) {
	if !ValidSessionName(session) {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, session)
	}
	dir := filepath.Join(l.dir, session)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, session)
	}
	if err != nil {
		return nil, fmt.Errorf("summary: read %s: %w", dir, err)
	}

	var best *Document
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, textExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == nil || info.ModTime().After(best.ModTime) {
			best = &Document{Path: filepath.Join(dir, name), ModTime: info.ModTime()}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(best.Path)
	if err != nil {
		return nil, fmt.Errorf("summary: read %s: %w", best.Path, err)
	}
	best.Text = string(data)
	return best, nil
}

// ValidSessionName reports whether name is usable as a session directory. It
// rejects names that would escape the recordings or transcripts directory.
func ValidSessionName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
