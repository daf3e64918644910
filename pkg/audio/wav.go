package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotWAV is returned by [ReadWAV] when the input is not a 16-bit PCM RIFF file.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM wav file")

// PCM is a block of interleaved little-endian int16 samples.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the samples.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Data) / (2 * p.Channels)
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// ReadWAV parses a canonical RIFF/WAVE stream as written by ffmpeg for s16le
// input. Unknown chunks (LIST, fact, ...) are skipped.
func ReadWAV(r io.Reader) (*PCM, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("audio: read riff header: %w", err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return nil, ErrNotWAV
	}

	var (
		pcm     PCM
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) && haveFmt {
				return nil, fmt.Errorf("audio: wav has no data chunk")
			}
			return nil, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, ErrNotWAV
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which ffmpeg uses for >2 channels.
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return nil, ErrNotWAV
			}
			pcm.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, ErrNotWAV
			}
			// ffmpeg leaves the size at 0 or 0xFFFFFFFF when the output was not
			// seekable; read to EOF in that case.
			var (
				data []byte
				err  error
			)
			if size == 0 || size == 0xFFFFFFFF {
				data, err = io.ReadAll(r)
			} else {
				data = make([]byte, size)
				var n int
				n, err = io.ReadFull(r, data)
				if errors.Is(err, io.ErrUnexpectedEOF) {
					data, err = data[:n], nil
				}
			}
			if err != nil {
				return nil, fmt.Errorf("audio: read data chunk: %w", err)
			}
			pcm.Data = data[:len(data)-len(data)%2]
			return &pcm, nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// Float32Mono down-mixes the samples to mono, resamples them to rate with
// linear interpolation, and normalises to [-1.0, 1.0].
func (p *PCM) Float32Mono(rate int) []float32 {
	channels := max(p.Channels, 1)
	frames := len(p.Data) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(p.Data[idx:idx+2]))) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}

	if rate <= 0 || p.SampleRate <= 0 || rate == p.SampleRate || frames < 2 {
		return mono
	}

	outLen := int(int64(frames) * int64(rate) / int64(p.SampleRate))
	out := make([]float32, outLen)
	ratio := float64(p.SampleRate) / float64(rate)
	for i := range outLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		next := mono[min(idx+1, frames-1)]
		out[i] = mono[idx]*(1-frac) + next*frac
	}
	return out
}
