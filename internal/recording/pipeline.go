package recording

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/scryer/pkg/audio"
)

// Decoder turns one compressed audio packet into s16le interleaved PCM
// (48 kHz, stereo). Decoders are stateful and belong to a single stream.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
}

// Pipeline captures one participant: it drains the participant's compressed
// stream, decodes every packet and writes the PCM to its encoder.
//
// A Pipeline owns its encoder and decoder exclusively. It is created by
// [Recorder.Start] and torn down by [Recorder.Stop] or when the encoder exits
// on its own.
type Pipeline struct {
	userID    string
	username  string
	path      string
	startedAt time.Time

	conn   audio.Connection
	stream <-chan audio.Packet
	dec    Decoder
	enc    Encoder

	quit     chan struct{}
	haltOnce sync.Once
	pumpDone chan struct{}

	// stopping is set by Recorder.Stop before the encoder input is closed.
	stopping atomic.Bool

	// exited is closed once the encoder has exited; exitErr is valid after.
	exited  chan struct{}
	exitErr error
}

// UserID returns the participant being recorded.
func (p *Pipeline) UserID() string { return p.userID }

// FilePath returns the output file of the pipeline.
func (p *Pipeline) FilePath() string { return p.path }

func (p *Pipeline) info() Active {
	return Active{
		UserID:    p.userID,
		Username:  p.username,
		FilePath:  p.path,
		StartedAt: p.startedAt,
	}
}

// pump forwards decoded audio to the encoder until halted or until the stream
// is closed. Decode errors drop the offending packet; a write error means the
// encoder is gone and ends the pump.
func (p *Pipeline) pump() {
	defer close(p.pumpDone)

	var decodeErrs int
	for {
		select {
		case <-p.quit:
			return
		case pkt, ok := <-p.stream:
			if !ok {
				return
			}
			pcm, err := p.dec.Decode(pkt.Opus)
			if err != nil {
				decodeErrs++
				if decodeErrs == 1 || decodeErrs%100 == 0 {
					slog.Warn("recording: decode error",
						"user_id", p.userID, "errors", decodeErrs, "err", err)
				}
				continue
			}
			if _, err := p.enc.Write(pcm); err != nil {
				slog.Error("recording: encoder write failed",
					"user_id", p.userID, "path", p.path, "err", err)
				return
			}
		}
	}
}

// halt stops the pump and releases the participant's stream. It is safe to
// call more than once.
func (p *Pipeline) halt() {
	p.haltOnce.Do(func() {
		close(p.quit)
		p.conn.Unsubscribe(p.userID)
	})
}

// watch waits for the encoder to exit, then removes the pipeline from reg.
// An exit that no stop asked for is logged as a failure.
func (p *Pipeline) watch(reg *Registry) {
	p.exitErr = p.enc.Wait()
	close(p.exited)
	p.halt()
	reg.remove(p)

	if !p.stopping.Load() {
		slog.Warn("recording: encoder exited unexpectedly",
			"user_id", p.userID, "path", p.path, "err", p.exitErr)
		return
	}
	slog.Info("recording finished", "user_id", p.userID, "path", p.path, "err", p.exitErr)
}
