package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/fishtank/pkg/audio"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
	"github.com/MrWong99/fishtank/pkg/types"
)

// TTSFallback is a [tts.Provider] that fails over between voice backends.
//
// Backends may emit different PCM layouts; audio from a fallback is
// converted to the primary's [tts.Provider.OutputFormat], so a judge's reply
// clip has the same shape whoever voiced it.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a fallback provider preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// SynthesizeStream reads all of text, then opens a stream on the first backend
// that accepts it. Failover covers stream setup only; an error after the
// first chunk ends the stream.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	var parts []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case p, ok := <-text:
			if !ok {
				return f.open(ctx, parts, voice)
			}
			parts = append(parts, p)
		}
	}
}

func (f *TTSFallback) open(ctx context.Context, parts []string, voice types.VoiceProfile) (<-chan []byte, error) {
	want := f.OutputFormat()
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
		src, err := p.SynthesizeStream(ctx, replay(parts), voice)
		if err != nil {
			return nil, err
		}
		got := p.OutputFormat()
		switch {
		case got == want:
			return src, nil
		case got.SampleRate <= 0 || got.Channels <= 0:
			go audio.Drain(src)
			return nil, fmt.Errorf("resilience: tts %v: unusable output format", got)
		}
		return convert(src, got, want), nil
	})
}

// replay returns a closed channel holding parts.
func replay(parts []string) <-chan string {
	ch := make(chan string, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return ch
}

// convert relays src with every chunk converted from got to want.
func convert(src <-chan []byte, got, want audio.Format) <-chan []byte {
	out := make(chan []byte, cap(src))
	go func() {
		defer close(out)
		for chunk := range src {
			out <- audio.Convert(chunk, got, want)
		}
	}()
	return out
}

// ListVoices asks the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// OutputFormat is the primary's format.
func (f *TTSFallback) OutputFormat() audio.Format { return f.group.Primary().OutputFormat() }

// Status reports every backend's breaker.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }
