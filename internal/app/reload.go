package app

import (
	"log/slog"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/config"
	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/negotiation"
	"github.com/MrWong99/fishtank/internal/voice"
)

// buildSettings derives the engine settings from the negotiation section.
func (a *App) buildSettings(cfg *config.Config) (negotiation.Settings, error) {
	nc := cfg.Negotiation
	panel, err := buildPanel(nc.Judges)
	if err != nil {
		return negotiation.Settings{}, err
	}
	s := negotiation.Settings{
		Analyzer: analysis.New(a.providers.LLM,
			analysis.WithCallTimeout(nc.CallTimeout),
			analysis.WithHistoryWindow(nc.HistoryWindow),
			analysis.WithMetrics(a.metrics),
		),
		Panel:    panel,
		Greeting: nc.Greeting,
	}
	if nc.VoiceReplies && a.providers.TTS != nil {
		s.Voice = voice.New(a.providers.TTS,
			voice.WithTimeout(nc.VoiceTimeout),
			voice.WithMetrics(a.metrics),
		)
	}
	return s, nil
}

// buildPanel returns the configured judge panel, or the built-in one when
// the config lists none.
func buildPanel(judges []config.JudgeConfig) (*judge.Registry, error) {
	if len(judges) == 0 {
		return judge.Default(), nil
	}
	defs := make([]judge.Definition, len(judges))
	for i, j := range judges {
		defs[i] = judge.Definition{
			ID:         j.ID,
			Name:       j.Name,
			VoiceID:    j.VoiceID,
			Persona:    j.Persona,
			Style:      j.Style,
			Conviction: j.Conviction,
		}
	}
	return judge.NewRegistry(defs)
}

// Reload applies the hot-reloadable parts of a config edit. It matches
// [config.ChangeFunc] so it can be handed to [config.NewWatcher] directly.
// Sections that need a restart are left alone.
func (a *App) Reload(_, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if !d.NegotiationChanged {
		return
	}
	settings, err := a.buildSettings(cfg)
	if err == nil {
		err = a.engine.UpdateSettings(settings)
	}
	if err != nil {
		slog.Warn("keeping previous negotiation settings", "err", err)
		return
	}
	slog.Info("negotiation settings reloaded", "judge_changes", len(d.JudgeChanges))
}
