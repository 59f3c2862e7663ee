package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"elevenlabs", "deepgram", "whisper"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references in
// secret-bearing fields, applies defaults and validates the result.
// An empty document yields the defaults, which fail validation because no LLM
// is configured.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves ${VAR} in fields that usually carry secrets. Free text
// such as personas is left alone so a literal "$" survives.
func expandEnv(cfg *Config) {
	expandEntry := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expandEntry(&cfg.Providers.LLM)
	expandEntry(&cfg.Providers.STT)
	expandEntry(&cfg.Providers.TTS)
	for _, list := range [][]ProviderEntry{cfg.Providers.LLMFallbacks, cfg.Providers.STTFallbacks, cfg.Providers.TTSFallbacks} {
		for i := range list {
			expandEntry(&list[i])
		}
	}
	cfg.Store.PostgresDSN = os.ExpandEnv(cfg.Store.PostgresDSN)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; judges cannot respond without a chat-completion provider"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks)...)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; the voice coach will be unavailable")
	}
	if cfg.Negotiation.VoiceReplies && cfg.Providers.TTS.Name == "" {
		slog.Warn("negotiation.voice_replies is set but providers.tts is not configured; replies will be text only")
	}

	// Negotiation
	if cfg.Negotiation.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("negotiation.call_timeout %s must not be negative", cfg.Negotiation.CallTimeout))
	}
	if cfg.Negotiation.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("negotiation.history_window %d must not be negative", cfg.Negotiation.HistoryWindow))
	}
	errs = append(errs, validateJudges(cfg.Negotiation.Judges)...)

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}
	if cfg.Store.TTL < 0 || cfg.Store.SweepInterval < 0 {
		errs = append(errs, errors.New("store.ttl and store.sweep_interval must not be negative"))
	}

	// Coach
	if cfg.Coach.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("coach.max_upload_bytes %d must not be negative", cfg.Coach.MaxUploadBytes))
	}

	return errors.Join(errs...)
}

// validateJudges checks a judge panel override. An empty list keeps the
// built-in panel.
func validateJudges(judges []JudgeConfig) []error {
	if len(judges) == 0 {
		return nil
	}
	var errs []error
	if len(judges) != 3 {
		errs = append(errs, fmt.Errorf("negotiation.judges must list exactly 3 judges, got %d", len(judges)))
	}
	seen := make(map[string]int, len(judges))
	for i, j := range judges {
		prefix := fmt.Sprintf("negotiation.judges[%d]", i)
		if j.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[j.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of negotiation.judges[%d]", prefix, j.ID, prev))
			}
			seen[j.ID] = i
		}
		if j.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if j.Persona == "" {
			errs = append(errs, fmt.Errorf("%s.persona is required", prefix))
		}
		if j.Conviction < 0 || j.Conviction > 100 {
			errs = append(errs, fmt.Errorf("%s.conviction %d is out of range [0, 100]", prefix, j.Conviction))
		}
	}
	return errs
}

// validateFallbacks rejects fallbacks without a primary and unnamed entries.
func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s to be configured", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
