// Package deepgram transcribes coach recordings with the Deepgram
// pre-recorded REST API.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/types"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition
// (e.g., "en", "de-DE"). A per-call stt.Config.Language overrides it.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the listen endpoint (self-hosted Deepgram, tests).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithFillerWords keeps "um" and "uh" in the transcript so the coach can
// count hesitations. Deepgram drops them by default.
func WithFillerWords(on bool) Option {
	return func(p *Provider) {
		p.fillerWords = on
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey      string
	model       string
	language    string
	endpoint    string
	fillerWords bool
	httpClient  *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts the raw recording to Deepgram and returns the first
// alternative of the first channel.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*types.Transcript, error) {
	if len(audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}

	reqURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	tr, err := parseDeepgramResponse(data)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if tr.Language == "" {
		tr.Language = p.languageFor(cfg)
	}
	return tr, nil
}

func (p *Provider) languageFor(cfg stt.Config) string {
	if cfg.Language != "" {
		return cfg.Language
	}
	return p.language
}

// buildURL constructs the Deepgram listen URL for the given config.
func (p *Provider) buildURL(cfg stt.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.languageFor(cfg))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if p.fillerWords {
		q.Set("filler_words", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by the pre-recorded API.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

var errNoAlternatives = errors.New("response has no transcript alternatives")

// parseDeepgramResponse converts a raw pre-recorded response into a Transcript.
// Punctuated word forms are preferred when smart formatting supplied them.
func parseDeepgramResponse(data []byte) (*types.Transcript, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return nil, errNoAlternatives
	}

	ch := resp.Results.Channels[0]
	alt := ch.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, types.WordDetail{
			Text:       text,
			Type:       types.WordTypeWord,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			HasTiming:  true,
			Confidence: w.Confidence,
		})
	}

	return &types.Transcript{
		Text:     alt.Transcript,
		Language: ch.DetectedLanguage,
		Words:    words,
		Duration: seconds(resp.Metadata.Duration),
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var _ stt.Provider = (*Provider)(nil)
