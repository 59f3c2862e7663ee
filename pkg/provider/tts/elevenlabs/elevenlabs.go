// Package elevenlabs voices judge replies through the ElevenLabs stream-input
// WebSocket API.
//
// One [Provider.SynthesizeStream] call is one WebSocket session: an opening
// frame authenticates and carries the voice settings, text frames follow, and
// an empty text frame asks the server to flush the remaining audio.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/fishtank/pkg/audio"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
	"github.com/MrWong99/fishtank/pkg/types"
)

const (
	defaultStreamBase = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultVoicesURL  = "https://api.elevenlabs.io/v1/voices"
	defaultModel      = "eleven_flash_v2_5"
	defaultOutputFmt  = "pcm_16000"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the ElevenLabs model, e.g. "eleven_multilingual_v2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects the output format. Only "pcm_<rate>" formats are
// accepted by [New].
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithStreamBase overrides the WebSocket base URL; "/<voice>/stream-input" is
// appended per call.
func WithStreamBase(base string) Option {
	return func(p *Provider) { p.streamBase = strings.TrimRight(base, "/") }
}

// WithVoicesEndpoint overrides the URL queried by ListVoices.
func WithVoicesEndpoint(endpoint string) Option {
	return func(p *Provider) { p.voicesURL = endpoint }
}

// WithHTTPClient replaces the client used by ListVoices.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithVoiceSettings sets stability and similarity boost, both in [0, 1].
// Lower stability makes judges sound more animated.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// Provider implements [tts.Provider].
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	format       audio.Format
	settings     voiceSettings
	streamBase   string
	voicesURL    string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New returns a provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		streamBase:   defaultStreamBase,
		voicesURL:    defaultVoicesURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if err := p.settings.validate(); err != nil {
		return nil, err
	}
	f, err := parseFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = f
	return p, nil
}

// OutputFormat is mono PCM at the configured rate.
func (p *Provider) OutputFormat() audio.Format { return p.format }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (v voiceSettings) validate() error {
	if v.Stability < 0 || v.Stability > 1 || v.SimilarityBoost < 0 || v.SimilarityBoost > 1 {
		return fmt.Errorf("elevenlabs: voice settings %+v out of range [0, 1]", v)
	}
	return nil
}

// frame is a client message. The opening frame carries the key and the
// settings; an empty Text is the flush command.
type frame struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// chunk is a server message.
type chunk struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// SynthesizeStream opens a session for voice and streams text into it.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	// The server rejects an empty first text.
	open := frame{Text: " ", VoiceSettings: &p.settings, XiAPIKey: p.apiKey}
	if err := wsjson.Write(ctx, conn, open); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}

	s := &stream{
		conn:  conn,
		out:   make(chan []byte, 64),
		done:  make(chan struct{}),
		voice: voice.ID,
	}
	go s.run(ctx, text)
	return s.out, nil
}

// stream is one live synthesis session. receive owns out until done closes.
type stream struct {
	conn  *websocket.Conn
	out   chan []byte
	done  chan struct{}
	err   error
	voice string
}

func (s *stream) run(ctx context.Context, text <-chan string) {
	go s.receive(ctx)

	if err := s.send(ctx, text); err != nil {
		_ = s.conn.CloseNow()
		<-s.done
		s.finish(err)
		return
	}
	<-s.done
	_ = s.conn.Close(websocket.StatusNormalClosure, "done")
	s.finish(s.err)
}

func (s *stream) finish(err error) {
	close(s.out)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("elevenlabs: stream ended early", "voice", s.voice, "err", err)
	}
}

// send forwards fragments until text closes, then flushes. Voice settings
// already rode on the opening frame.
func (s *stream) send(ctx context.Context, text <-chan string) error {
	for {
		select {
		case frag, ok := <-text:
			if !ok {
				return wsjson.Write(ctx, s.conn, frame{})
			}
			if frag == "" {
				continue
			}
			if err := wsjson.Write(ctx, s.conn, frame{Text: frag}); err != nil {
				return err
			}
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// receive emits decoded audio until the final chunk or a failure. err is only
// read after done closes.
func (s *stream) receive(ctx context.Context) {
	defer close(s.done)
	for {
		var c chunk
		if err := wsjson.Read(ctx, s.conn, &c); err != nil {
			s.err = err
			return
		}
		if c.Error != "" {
			s.err = fmt.Errorf("elevenlabs: server error %s: %s", c.Error, c.Message)
			return
		}
		if c.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(c.Audio)
			if err != nil {
				s.err = fmt.Errorf("elevenlabs: decode audio: %w", err)
				return
			}
			select {
			case s.out <- pcm:
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			}
		}
		if c.IsFinal {
			return
		}
	}
}

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices lists the voices available to the API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	return vr.profiles(), nil
}

// profiles folds the category into the label metadata.
func (vr voicesResponse) profiles() []types.VoiceProfile {
	out := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return out
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return p.streamBase + "/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// parseFormat maps "pcm_<rate>" to mono PCM.
func parseFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q is not raw PCM", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", s)
	}
	return audio.Format{SampleRate: n, Channels: 1}, nil
}
