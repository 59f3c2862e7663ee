// Package mock is an in-memory [tts.Provider] for tests. It drains the text
// it is given, remembers it per call and answers with fixed PCM chunks.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/fishtank/pkg/audio"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
	"github.com/MrWong99/fishtank/pkg/types"
)

// Utterance is one recorded SynthesizeStream call.
type Utterance struct {
	Voice types.VoiceProfile
	text  *strings.Builder
}

// Provider answers every synthesis with SynthesizeChunks.
type Provider struct {
	mu sync.Mutex

	SynthesizeChunks [][]byte
	SynthesizeErr    error

	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// Format is reported by OutputFormat. Zero means 16 kHz mono.
	Format audio.Format

	SynthesizeStreamCalls []Utterance
}

// SynthesizeStream reads text to the end before emitting any audio, so
// [Provider.Texts] is complete once the returned channel closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	u := Utterance{Voice: voice, text: &strings.Builder{}}
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, u)
	if err := p.SynthesizeErr; err != nil {
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for frag := range text {
			p.mu.Lock()
			u.text.WriteString(frag)
			p.mu.Unlock()
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices returns ListVoicesResult and ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// OutputFormat returns Format or 16 kHz mono.
func (p *Provider) OutputFormat() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Format.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.Format
}

// Texts returns the text each started synthesis received, in call order.
// Calls rejected with SynthesizeErr are skipped.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return nil
	}
	out := make([]string, len(p.SynthesizeStreamCalls))
	for i, u := range p.SynthesizeStreamCalls {
		out[i] = u.text.String()
	}
	return out
}

func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
}

var _ tts.Provider = (*Provider)(nil)
