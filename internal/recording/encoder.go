package recording

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/MrWong99/scryer/pkg/audio"
)

// Encoder persists raw s16le PCM (48 kHz, stereo) to a file.
//
// Closing the encoder closes its input; the encoder then flushes and exits
// asynchronously. The output file is complete only once Wait has returned.
type Encoder interface {
	io.WriteCloser

	// Wait blocks until the encoder has exited. It may be called from several
	// goroutines; all observe the same result.
	Wait() error
}

// Spawner starts an [Encoder] writing to outPath.
type Spawner interface {
	Spawn(outPath string) (Encoder, error)
}

// FFmpeg spawns an ffmpeg process per recording. Its stderr is captured to
// "<outPath>.ffmpeg.log".
type FFmpeg struct {
	// Path is the ffmpeg binary. Empty means "ffmpeg" from $PATH.
	Path string
}

// Compile-time interface assertion.
var _ Spawner = FFmpeg{}

// Args returns the ffmpeg arguments used to encode piped PCM into outPath.
func (FFmpeg) Args(outPath string) []string {
	return []string{
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		outPath,
	}
}

// Spawn implements [Spawner].
func (f FFmpeg) Spawn(outPath string) (Encoder, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin, f.Args(outPath)...)

	logFile, err := os.Create(outPath + ".ffmpeg.log")
	if err != nil {
		return nil, fmt.Errorf("recording: create ffmpeg log: %w", err)
	}
	cmd.Stderr = logFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("recording: ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("recording: start ffmpeg: %w", err)
	}

	e := &ffmpegEncoder{stdin: stdin, done: make(chan struct{})}
	go func() {
		e.err = cmd.Wait()
		logFile.Close()
		close(e.done)
	}()
	return e, nil
}

// ffmpegEncoder is a running ffmpeg process fed through its stdin.
type ffmpegEncoder struct {
	stdin io.WriteCloser
	done  chan struct{}
	err   error
}

func (e *ffmpegEncoder) Write(p []byte) (int, error) { return e.stdin.Write(p) }

func (e *ffmpegEncoder) Close() error { return e.stdin.Close() }

func (e *ffmpegEncoder) Wait() error {
	<-e.done
	return e.err
}
