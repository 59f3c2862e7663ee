package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/types"
)

// STTFallback is an [stt.Provider] that fails over between transcription
// backends for the voice coach.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a fallback provider preferring primary. Empty audio
// is a permanent error in addition to whatever cfg.Permanent reports.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Permanent = anyOf(cfg.Permanent, func(err error) bool { return errors.Is(err, stt.ErrEmptyAudio) })
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Transcribe returns the first successful transcript.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*types.Transcript, error) {
	if len(audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (*types.Transcript, error) {
		return p.Transcribe(ctx, audio, cfg)
	})
}

// Status reports every backend's breaker.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// anyOf combines permanent-error classifiers; nil entries are ignored.
func anyOf(fns ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, fn := range fns {
			if fn != nil && fn(err) {
				return true
			}
		}
		return false
	}
}
