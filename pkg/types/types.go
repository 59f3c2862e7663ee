// Package types defines the shared types used across all Fish Tank packages.
//
// These types are the lingua franca between providers and the negotiation and
// coaching layers. Each package defines its own domain types; only data that
// crosses a provider boundary lives here to avoid circular imports.
package types

import "time"

// Role values for [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONMode indicates the model can be forced to emit a single JSON object.
	SupportsJSONMode bool
}

// Transcript is the result of transcribing one recording.
type Transcript struct {
	// Text is the full transcribed speech content.
	Text string

	// Language is the detected or requested language code. May be empty.
	Language string

	// Words carries word-level detail when the provider reports it.
	// May be nil for providers without word timestamps.
	Words []WordDetail

	// Duration is the length of the recording when the provider reports it.
	Duration time.Duration
}

// WordType classifies a [WordDetail] token.
type WordType string

const (
	// WordTypeWord is a spoken word.
	WordTypeWord WordType = "word"

	// WordTypeSpacing is the whitespace or pause between two words.
	WordTypeSpacing WordType = "spacing"

	// WordTypeAudioEvent is a non-speech event such as laughter or a cough.
	WordTypeAudioEvent WordType = "audio_event"
)

// WordDetail holds per-word metadata from STT providers that support it.
// HasTiming is false when the provider did not report Start/End for the token.
type WordDetail struct {
	Text       string
	Type       WordType
	Start      time.Duration
	End        time.Duration
	HasTiming  bool
	Confidence float64
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}
