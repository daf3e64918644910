package recording

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	audioPrefix = "audio_"
	audioExt    = ".wav"

	// isoLayout is the UTC ISO-8601 form with millisecond precision.
	isoLayout = "2006-01-02T15:04:05.000Z"
)

// ErrBadFileName is returned by [ParseAudioFileName] for names that were not
// produced by [AudioFileName].
var ErrBadFileName = errors.New("recording: not a recording file name")

var fileTimeReplacer = strings.NewReplacer(":", "-", ".", "-")

// AudioFileName returns the file name for a recording of userID started at t:
// audio_<username>_<userID>_<timestamp>.wav.
func AudioFileName(username, userID string, t time.Time) string {
	ts := fileTimeReplacer.Replace(t.UTC().Format(isoLayout))
	return audioPrefix + sanitizeName(username) + "_" + userID + "_" + ts + audioExt
}

// FileInfo is the metadata encoded in a recording file name.
type FileInfo struct {
	Username   string
	UserID     string
	CapturedAt time.Time
}

// ParseAudioFileName reverses [AudioFileName]. Only the base name of path is
// considered. Usernames may themselves contain underscores, so the name is
// split from the right.
func ParseAudioFileName(path string) (FileInfo, error) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, audioPrefix) || !strings.HasSuffix(name, audioExt) {
		return FileInfo{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, audioPrefix), audioExt)

	i := strings.LastIndexByte(rest, '_')
	if i < 0 {
		return FileInfo{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	ts, err := parseFileTime(rest[i+1:])
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %q: %v", ErrBadFileName, name, err)
	}
	rest = rest[:i]

	j := strings.LastIndexByte(rest, '_')
	if j <= 0 || j == len(rest)-1 {
		return FileInfo{}, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	return FileInfo{
		Username:   rest[:j],
		UserID:     rest[j+1:],
		CapturedAt: ts,
	}, nil
}

// parseFileTime undoes the replacements AudioFileName applies to isoLayout.
// Go layouts only read fractional seconds after '.' or ',', so the separators
// are restored by position before parsing.
func parseFileTime(s string) (time.Time, error) {
	if len(s) != len(isoLayout) || s[13] != '-' || s[16] != '-' || s[19] != '-' {
		return time.Time{}, fmt.Errorf("timestamp %q has the wrong shape", s)
	}
	b := []byte(s)
	b[13], b[16], b[19] = ':', ':', '.'
	return time.Parse(isoLayout, string(b))
}

// sanitizeName keeps a username safe for use as a path component.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', 0:
			return '-'
		}
		return r
	}, name)
	if name == "" {
		return "unknown"
	}
	return name
}
