// Package mock provides in-memory encoders and decoders for exercising
// [recording.Recorder] without ffmpeg or libopus.
package mock

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/scryer/internal/recording"
)

// ErrClosed is returned by [Encoder.Write] after the encoder has exited.
var ErrClosed = errors.New("mock: encoder closed")

// Encoder is an in-memory [recording.Encoder]. Close makes it exit; Exit makes
// it exit on its own with an error, like a crashed process.
type Encoder struct {
	mu sync.Mutex

	// Path is the output path the encoder was spawned for.
	Path string

	buf      bytes.Buffer
	closed   bool
	exitErr  error
	done     chan struct{}
	doneOnce sync.Once
}

// NewEncoder returns a running Encoder for path.
func NewEncoder(path string) *Encoder {
	return &Encoder{Path: path, done: make(chan struct{})}
}

// Write implements [recording.Encoder].
func (e *Encoder) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	return e.buf.Write(p)
}

// Close implements [recording.Encoder].
func (e *Encoder) Close() error {
	e.exit(nil)
	return nil
}

// Wait implements [recording.Encoder].
func (e *Encoder) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitErr
}

// Exit simulates the encoder process dying with err.
func (e *Encoder) Exit(err error) { e.exit(err) }

// Closed reports whether the encoder has exited.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Bytes returns a copy of everything written so far.
func (e *Encoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bytes.Clone(e.buf.Bytes())
}

func (e *Encoder) exit(err error) {
	e.doneOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.exitErr = err
		e.mu.Unlock()
		close(e.done)
	})
}

// Spawner is a [recording.Spawner] handing out [Encoder] values.
type Spawner struct {
	mu sync.Mutex

	// SpawnErr, when set, is returned by every Spawn call.
	SpawnErr error

	// Delay, when set, is slept before every Spawn, like a slow process start.
	Delay time.Duration

	// Encoders records every encoder handed out, in spawn order.
	Encoders []*Encoder
}

// Compile-time interface assertion.
var _ recording.Spawner = (*Spawner)(nil)

// Spawn implements [recording.Spawner].
func (s *Spawner) Spawn(outPath string) (recording.Encoder, error) {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}
	e := NewEncoder(outPath)
	s.Encoders = append(s.Encoders, e)
	return e, nil
}

// Spawned returns a snapshot of the encoders handed out so far.
func (s *Spawner) Spawned() []*Encoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Encoder(nil), s.Encoders...)
}

// Decoder passes packets through unchanged. Packets equal to Fail are
// rejected with an error.
type Decoder struct {
	Fail []byte
}

// Decode implements [recording.Decoder].
func (d Decoder) Decode(packet []byte) ([]byte, error) {
	if d.Fail != nil && bytes.Equal(packet, d.Fail) {
		return nil, errors.New("mock: corrupt packet")
	}
	return bytes.Clone(packet), nil
}

// NewDecoder is a decoder factory for [recording.WithDecoderFactory].
func NewDecoder() (recording.Decoder, error) { return Decoder{}, nil }
