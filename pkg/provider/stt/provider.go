// Package stt defines the FileTranscriber interface for Speech-to-Text
// backends.
//
// A transcriber takes one finished recording (a WAV file as written by the
// capture pipeline) and returns its text, optionally split into timed
// segments. Backends range from hosted APIs (OpenAI whisper-1, Deepgram) to a
// local whisper.cpp server or the whisper.cpp library itself.
//
// Implementations must be safe for concurrent use: the transcript service
// transcribes the recordings of a session in parallel.
package stt

import (
	"context"
	"time"
)

// Segment is a timed piece of a transcript. Start and End are offsets from the
// beginning of the recording.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcript is the recognised speech of one recording.
type Transcript struct {
	// Text is the full transcription.
	Text string

	// Language is the detected or requested language, if known.
	Language string

	// Duration is the length of the audio, if known.
	Duration time.Duration

	// Segments holds timed fragments when the backend reports them. May be nil.
	Segments []Segment
}

// FileTranscriber is the abstraction over any STT backend.
type FileTranscriber interface {
	// TranscribeFile transcribes the WAV file at path. A recording without
	// speech yields a Transcript with empty Text and a nil error.
	TranscribeFile(ctx context.Context, path string) (*Transcript, error)
}
