// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., ElevenLabs
// Scribe, Deepgram pre-recorded, or a local whisper.cpp server) and exposes a
// uniform interface: one recording in, one word-level transcript out.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/fishtank/pkg/types"
)

// ErrEmptyAudio is returned by Transcribe when the recording has no bytes.
var ErrEmptyAudio = errors.New("stt: audio is empty")

// Config describes the recording and recognition hints for a Transcribe call.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// ContentType is the MIME type of the recording (e.g., "audio/webm",
	// "audio/wav"). Empty means the provider sniffs the container itself.
	ContentType string

	// Filename is forwarded to providers that require a multipart filename.
	// Defaults to "audio" when empty.
	Filename string
}

// Provider is the abstraction over any STT backend.
//
// Transcription failure is fatal for the request that needed it; callers must
// not substitute a default transcript.
type Provider interface {
	// Transcribe converts a complete recording into text with word-level
	// timing. Returns ErrEmptyAudio for an empty recording, or an error if the
	// backend fails or ctx is cancelled first.
	Transcribe(ctx context.Context, audio []byte, cfg Config) (*types.Transcript, error)
}

// FilenameOrDefault returns cfg.Filename, or "audio" when it is empty.
func (cfg Config) FilenameOrDefault() string {
	if cfg.Filename == "" {
		return "audio"
	}
	return cfg.Filename
}
