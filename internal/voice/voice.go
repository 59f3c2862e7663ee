// Package voice renders judge lines as base64 WAV clips for inline delivery
// in API responses. Audio is never written to disk.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/pkg/audio"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
	"github.com/MrWong99/fishtank/pkg/types"
)

// ErrNoAudio is returned when the provider closed its stream without
// emitting any audio.
var ErrNoAudio = errors.New("voice: provider returned no audio")

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring a [Voice].
type Option func(*Voice)

// WithTimeout bounds synthesis of one line. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(v *Voice) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithOutputFormat resamples clips to f. By default clips keep the
// provider's native format.
func WithOutputFormat(f audio.Format) Option {
	return func(v *Voice) { v.format = f }
}

// WithMetrics records synthesis latency and provider outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Voice) { v.metrics = m }
}

// Voice synthesises text with a [tts.Provider]. It is safe for concurrent
// use.
type Voice struct {
	tts     tts.Provider
	timeout time.Duration
	format  audio.Format
	metrics *observe.Metrics
}

// New returns a Voice backed by p.
func New(p tts.Provider, opts ...Option) *Voice {
	v := &Voice{tts: p, timeout: defaultTimeout}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Synthesize renders text in voiceID and returns the WAV clip base64
// encoded.
func (v *Voice) Synthesize(ctx context.Context, voiceID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	wav, err := v.render(ctx, voiceID, text)
	if v.metrics != nil {
		v.metrics.RecordSynthesis(ctx, start, err)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(wav), nil
}

func (v *Voice) render(ctx context.Context, voiceID, text string) ([]byte, error) {
	fragments := make(chan string, 1)
	fragments <- text
	close(fragments)

	stream, err := v.tts.SynthesizeStream(ctx, fragments, types.VoiceProfile{ID: voiceID})
	if err != nil {
		return nil, fmt.Errorf("voice: synthesize: %w", err)
	}
	pcm, err := audio.Collect(ctx, stream)
	if err == nil {
		// Providers close the stream early on cancellation.
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("voice: synthesize: %w", err)
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}

	src := v.tts.OutputFormat()
	dst := v.format
	if dst == (audio.Format{}) {
		dst = src
	}
	return audio.EncodeWAV(audio.Convert(pcm, src, dst), dst), nil
}
