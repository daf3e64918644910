// Package openai provides an STT backend using the OpenAI audio transcription
// endpoint (whisper-1 by default).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/scryer/pkg/provider/stt"
)

// Compile-time assertion.
var _ stt.FileTranscriber = (*Provider)(nil)

// Provider implements stt.FileTranscriber using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// Option is a functional option for Provider.
type Option func(*Provider, *[]option.RequestOption)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(_ *Provider, o *[]option.RequestOption) {
		*o = append(*o, option.WithBaseURL(url))
	}
}

// WithTimeout sets a per-request HTTP timeout. Long recordings take a while
// to upload; the default is the SDK's.
func WithTimeout(d time.Duration) Option {
	return func(_ *Provider, o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithModel overrides the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.model = model }
}

// WithLanguage sets an ISO-639-1 language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.language = lang }
}

// WithVocabulary passes uncommon words (names, places) to the model as a
// prompt so it spells them correctly.
func WithVocabulary(words []string) Option {
	return func(p *Provider, _ *[]option.RequestOption) {
		p.prompt = strings.Join(words, ", ")
	}
}

// New constructs an OpenAI transcription Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	p := &Provider{model: string(oai.AudioModelWhisper1)}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(p, &reqOpts)
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// verboseResponse is the part of a verbose_json reply the SDK type does not
// expose.
type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// TranscribeFile implements stt.FileTranscriber.
func (p *Provider) TranscribeFile(ctx context.Context, path string) (*stt.Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("openai stt: open %s: %w", path, err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(f, filepath.Base(path), "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}
	if p.prompt != "" {
		params.Prompt = param.NewOpt(p.prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe %s: %w", filepath.Base(path), err)
	}
	return parseTranscription(res.Text, res.RawJSON()), nil
}

// parseTranscription builds a Transcript from the response text and, when
// available, the verbose_json metadata.
func parseTranscription(text, raw string) *stt.Transcript {
	t := &stt.Transcript{Text: strings.TrimSpace(text)}

	var v verboseResponse
	if raw == "" || json.Unmarshal([]byte(raw), &v) != nil {
		return t
	}
	t.Language = v.Language
	t.Duration = seconds(v.Duration)
	for _, s := range v.Segments {
		t.Segments = append(t.Segments, stt.Segment{
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return t
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
