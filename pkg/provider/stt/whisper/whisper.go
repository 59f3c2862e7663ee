// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference, and requests the verbose JSON response so that each segment
// carries word-level timestamps.
//
// whisper.cpp only decodes 16 kHz mono WAV unless the server was started with
// --convert. WAV uploads in any other PCM layout are converted before upload;
// other containers are forwarded untouched and rely on the server's converter.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := p.Transcribe(ctx, recording, stt.Config{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/fishtank/pkg/audio"
	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/types"
)

const defaultLanguage = "en"

// inputFormat is the only PCM layout whisper.cpp decodes natively.
var inputFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). A per-call stt.Config.Language overrides it.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 120 s timeout
// because CPU inference of long recordings is slow.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// verboseResponse mirrors whisper-server's response_format=verbose_json.
type verboseResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []word  `json:"words"`
}

type word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Transcribe uploads the recording to /inference and converts the verbose
// JSON reply into a types.Transcript.
func (p *Provider) Transcribe(ctx context.Context, recording []byte, cfg stt.Config) (*types.Transcript, error) {
	if len(recording) == 0 {
		return nil, stt.ErrEmptyAudio
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	filename := cfg.FilenameOrDefault()
	if pcm, f, err := audio.DecodeWAV(recording); err == nil && f != inputFormat {
		recording = audio.EncodeWAV(audio.Convert(pcm, f, inputFormat), inputFormat)
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(recording); err != nil {
		return nil, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        lang,
		"model":           p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return toTranscript(vr, lang), nil
}

// toTranscript flattens segments into a single word list. Segments without
// word timestamps contribute their whitespace-separated tokens untimed.
func toTranscript(vr verboseResponse, fallbackLang string) *types.Transcript {
	tr := &types.Transcript{
		Text:     strings.TrimSpace(vr.Text),
		Language: vr.Language,
		Duration: seconds(vr.Duration),
	}
	if tr.Language == "" {
		tr.Language = fallbackLang
	}

	var parts []string
	for _, seg := range vr.Segments {
		parts = append(parts, strings.TrimSpace(seg.Text))
		if len(seg.Words) == 0 {
			for _, tok := range strings.Fields(seg.Text) {
				tr.Words = append(tr.Words, types.WordDetail{Text: tok, Type: types.WordTypeWord})
			}
			continue
		}
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			tr.Words = append(tr.Words, types.WordDetail{
				Text:       text,
				Type:       types.WordTypeWord,
				Start:      seconds(w.Start),
				End:        seconds(w.End),
				HasTiming:  true,
				Confidence: w.Probability,
			})
		}
	}
	if tr.Text == "" {
		tr.Text = strings.Join(parts, " ")
	}
	if tr.Duration == 0 && len(vr.Segments) > 0 {
		tr.Duration = seconds(vr.Segments[len(vr.Segments)-1].End)
	}
	return tr
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
