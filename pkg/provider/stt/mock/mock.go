// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify that the caller passes the expected audio and Config,
// and to feed a controlled Transcript without a live backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcript: &types.Transcript{Text: "hello world"},
//	}
//	tr, err := p.Transcribe(ctx, audio, stt.Config{Language: "en"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the recording passed to Transcribe.
	Audio []byte
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe. If nil, an empty Transcript is returned.
	Transcript *types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Transcript, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: cp, Cfg: cfg})
	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if p.Transcript == nil {
		return &types.Transcript{}, nil
	}
	tr := *p.Transcript
	return &tr, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
