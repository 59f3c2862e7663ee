// Package elevenlabs provides an STT provider backed by the ElevenLabs
// speech-to-text (Scribe) REST API. It implements the stt.Provider interface.
//
// Scribe returns one token per word, per inter-word spacing, and per audio
// event such as laughter; all three token types are preserved so that the
// voice coach can reason about pauses.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/types"
)

const (
	defaultEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"
	defaultModel    = "scribe_v1"
)

// Option is a functional option for configuring the ElevenLabs STT Provider.
type Option func(*Provider)

// WithModel sets the Scribe model ID (e.g., "scribe_v1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the speech-to-text endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithAudioEvents toggles tagging of non-speech audio events. Enabled by default.
func WithAudioEvents(enabled bool) Option {
	return func(p *Provider) {
		p.tagAudioEvents = enabled
	}
}

// Provider implements stt.Provider backed by the ElevenLabs Scribe API.
type Provider struct {
	apiKey         string
	model          string
	endpoint       string
	tagAudioEvents bool
	httpClient     *http.Client
}

// New creates a new ElevenLabs STT Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:         apiKey,
		model:          defaultModel,
		endpoint:       defaultEndpoint,
		tagAudioEvents: true,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// scribeResponse is the JSON body returned by POST /v1/speech-to-text.
type scribeResponse struct {
	LanguageCode string       `json:"language_code"`
	Text         string       `json:"text"`
	Words        []scribeWord `json:"words"`
}

type scribeWord struct {
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	LogProb *float64 `json:"logprob"`
}

// Transcribe uploads the recording as multipart/form-data and returns the
// word-level transcript.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*types.Transcript, error) {
	if len(audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}

	body, contentType, err := p.buildForm(audio, cfg)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var sr scribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode response: %w", err)
	}
	return toTranscript(sr), nil
}

// buildForm assembles the multipart body. The file part carries cfg.ContentType
// when set so the service does not have to sniff the container.
func (p *Provider) buildForm(audio []byte, cfg stt.Config) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"model_id", p.model},
		{"timestamps_granularity", "word"},
		{"tag_audio_events", fmt.Sprintf("%t", p.tagAudioEvents)},
	}
	if cfg.Language != "" {
		fields = append(fields, [2]string{"language_code", cfg.Language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, cfg.FilenameOrDefault()))
	ct := cfg.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// toTranscript maps Scribe tokens to WordDetail values. Tokens without timing
// keep HasTiming false rather than inventing zero timestamps.
func toTranscript(sr scribeResponse) *types.Transcript {
	tr := &types.Transcript{
		Text:     sr.Text,
		Language: sr.LanguageCode,
		Words:    make([]types.WordDetail, 0, len(sr.Words)),
	}
	for _, w := range sr.Words {
		wd := types.WordDetail{
			Text: w.Text,
			Type: wordType(w.Type),
		}
		if w.Start != nil && w.End != nil {
			wd.Start = seconds(*w.Start)
			wd.End = seconds(*w.End)
			wd.HasTiming = true
			if wd.End > tr.Duration {
				tr.Duration = wd.End
			}
		}
		if w.LogProb != nil {
			wd.Confidence = logProbToConfidence(*w.LogProb)
		}
		tr.Words = append(tr.Words, wd)
	}
	return tr
}

func wordType(s string) types.WordType {
	switch types.WordType(s) {
	case types.WordTypeSpacing:
		return types.WordTypeSpacing
	case types.WordTypeAudioEvent:
		return types.WordTypeAudioEvent
	default:
		return types.WordTypeWord
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// logProbToConfidence converts a natural-log probability to the 0..1 range.
func logProbToConfidence(lp float64) float64 {
	if lp >= 0 {
		return 1
	}
	return math.Exp(lp)
}

var _ stt.Provider = (*Provider)(nil)
