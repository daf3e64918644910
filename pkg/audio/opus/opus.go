// Package opus decodes Discord voice packets into interleaved PCM using the
// libopus bindings from layeh.com/gopus.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/scryer/pkg/audio"
)

// Decoder decodes one participant's Opus stream. Opus decoding is stateful, so
// every stream needs its own Decoder.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder configured for Discord audio
// (48 kHz, stereo, 960-sample frames).
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes a single Opus packet and returns s16le interleaved PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, audio.FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts int16 samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
