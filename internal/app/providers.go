package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/fishtank/internal/config"
	"github.com/MrWong99/fishtank/internal/health"
	"github.com/MrWong99/fishtank/internal/resilience"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM llm.Provider

	// STT powers the voice coach. Nil disables it.
	STT stt.Provider

	// TTS voices judge replies. Nil means text only.
	TTS tts.Provider
}

// BuildProviders instantiates every provider named in pc through reg. A slot
// with fallbacks is wrapped in a resilience group that fails over in order.
func BuildProviders(pc config.ProvidersConfig, reg *config.Registry, fc resilience.FallbackConfig) (*Providers, error) {
	ps := &Providers{}

	if pc.LLM.Name != "" {
		primary, err := reg.CreateLLM(pc.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", pc.LLM.Name, err)
		}
		ps.LLM = primary
		if len(pc.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(primary, pc.LLM.Name, fc)
			for _, e := range pc.LLMFallbacks {
				p, err := reg.CreateLLM(e)
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.LLM = group
		}
		slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "fallbacks", len(pc.LLMFallbacks))
	}

	if pc.STT.Name != "" {
		primary, err := reg.CreateSTT(pc.STT)
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", pc.STT.Name, err)
		}
		ps.STT = primary
		if len(pc.STTFallbacks) > 0 {
			group := resilience.NewSTTFallback(primary, pc.STT.Name, fc)
			for _, e := range pc.STTFallbacks {
				p, err := reg.CreateSTT(e)
				if err != nil {
					return nil, fmt.Errorf("app: create stt fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.STT = group
		}
		slog.Info("provider created", "kind", "stt", "name", pc.STT.Name, "fallbacks", len(pc.STTFallbacks))
	}

	if pc.TTS.Name != "" {
		primary, err := reg.CreateTTS(pc.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", pc.TTS.Name, err)
		}
		ps.TTS = primary
		if len(pc.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(primary, pc.TTS.Name, fc)
			for _, e := range pc.TTSFallbacks {
				p, err := reg.CreateTTS(e)
				if err != nil {
					return nil, fmt.Errorf("app: create tts fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.TTS = group
		}
		slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name, "fallbacks", len(pc.TTSFallbacks))
	}

	return ps, nil
}

// statusReporter is implemented by the resilience fallback groups.
type statusReporter interface {
	Status() []resilience.EntryStatus
}

// providerChecks reports a fallback group as unready once every entry's
// breaker is open. Plain providers have nothing to probe.
func providerChecks(ps *Providers) []health.Checker {
	var checks []health.Checker
	add := func(name string, p any) {
		if r, ok := p.(statusReporter); ok {
			checks = append(checks, health.HealthyCheck(name, func() bool { return available(r) }))
		}
	}
	add("llm", ps.LLM)
	add("stt", ps.STT)
	add("tts", ps.TTS)
	return checks
}

// available reports whether any entry of r can take calls.
func available(r statusReporter) bool {
	for _, s := range r.Status() {
		if s.State != resilience.StateOpen {
			return true
		}
	}
	return false
}
