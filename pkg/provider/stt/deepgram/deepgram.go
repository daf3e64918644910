// Package deepgram provides a Deepgram-backed STT provider. A recording is
// streamed over the Deepgram live WebSocket API as linear16 PCM at its native
// rate and the final results are collected into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scryer/pkg/audio"
	"github.com/MrWong99/scryer/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkDuration is how much audio goes into one binary frame.
	chunkDuration = 100 * time.Millisecond

	// keywordBoost is the intensifier applied to vocabulary entries.
	keywordBoost = 2
)

// Compile-time assertion.
var _ stt.FileTranscriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of the given words (campaign names, places).
func WithKeywords(words ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, words...)
	}
}

// WithEndpoint overrides the streaming endpoint (ws:// or wss://).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.FileTranscriber backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	keywords []string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// TranscribeFile implements stt.FileTranscriber.
func (p *Provider) TranscribeFile(ctx context.Context, path string) (*stt.Transcript, error) {
	pcm, err := loadWAV(path)
	if err != nil {
		return nil, err
	}

	wsURL, err := p.buildURL(pcm.SampleRate, pcm.Channels)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.send(ctx, conn, pcm)
	}()

	t := &stt.Transcript{Language: p.language, Duration: pcm.Duration()}
	if err := collect(ctx, conn, t); err != nil {
		return nil, err
	}
	if err := <-writeErr; err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "transcription complete")
	return t, nil
}

// send streams the audio in fixed-size frames, then asks Deepgram to flush
// and close the stream.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, pcm *audio.PCM) error {
	chunk := int(chunkDuration.Seconds()*float64(pcm.SampleRate)) * pcm.Channels * 2
	for off := 0; off < len(pcm.Data); off += chunk {
		end := min(off+chunk, len(pcm.Data))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm.Data[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// collect reads results until Deepgram closes the stream or reports the
// final metadata message.
func collect(ctx context.Context, conn *websocket.Conn, t *stt.Transcript) error {
	var parts []string
	defer func() { t.Text = strings.Join(parts, " ") }()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("deepgram: read: %w", err)
		}

		seg, kind := parseDeepgramResponse(msg)
		switch kind {
		case messageMetadata:
			return nil
		case messageFinal:
			if seg.Text == "" {
				continue
			}
			parts = append(parts, seg.Text)
			t.Segments = append(t.Segments, seg)
		}
	}
}

// buildURL constructs the Deepgram streaming endpoint URL for the recording.
func (p *Provider) buildURL(sampleRate, channels int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))
	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:2")
		q.Add("keywords", fmt.Sprintf("%s:%d", kw, keywordBoost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func loadWAV(path string) (*audio.PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("deepgram: open %s: %w", path, err)
	}
	defer f.Close()
	pcm, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read %s: %w", path, err)
	}
	return pcm, nil
}

// ---- wire format ----

type messageKind int

const (
	messageIgnored messageKind = iota
	messageInterim
	messageFinal
	messageMetadata
)

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse classifies a raw Deepgram message and, for results,
// converts the best alternative into a segment.
func parseDeepgramResponse(data []byte) (stt.Segment, messageKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Segment{}, messageIgnored
	}
	switch resp.Type {
	case "Metadata":
		return stt.Segment{}, messageMetadata
	case "Results":
	default:
		return stt.Segment{}, messageIgnored
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Segment{}, messageIgnored
	}

	start := time.Duration(resp.Start * float64(time.Second))
	seg := stt.Segment{
		Start: start,
		End:   start + time.Duration(resp.Duration*float64(time.Second)),
		Text:  strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
	}
	if !resp.IsFinal {
		return seg, messageInterim
	}
	return seg, messageFinal
}
