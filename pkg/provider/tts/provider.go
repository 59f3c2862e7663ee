// Package tts is the speech synthesis seam. Fish Tank voices judge replies
// through it; each judge maps to one [types.VoiceProfile].
package tts

import (
	"context"

	"github.com/MrWong99/fishtank/pkg/audio"
	"github.com/MrWong99/fishtank/pkg/types"
)

// Provider turns text into raw PCM. Implementations are safe for concurrent
// use since several judges may be voiced in the same turn.
type Provider interface {
	// SynthesizeStream reads text fragments until the channel closes and
	// emits PCM chunks in [Provider.OutputFormat]. The audio channel closes
	// when synthesis ends, fails or ctx is done; callers must drain it. The
	// error is non-nil only when the stream could not start.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices lists the voices the backend offers.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	OutputFormat() audio.Format
}
