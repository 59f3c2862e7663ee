package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// NegotiationChanged is true if the greeting, history window, call
	// timeout or judge panel changed. New sessions pick up the new values;
	// running sessions keep the judges they were cloned from.
	NegotiationChanged bool

	// JudgeChanges lists judges that were added, removed or edited, keyed by ID.
	JudgeChanges []JudgeDiff

	// RestartRequired lists top-level sections that changed but are not
	// hot-reloadable.
	RestartRequired []string
}

// JudgeDiff describes what changed for a single judge between two configs.
type JudgeDiff struct {
	ID      string
	Added   bool
	Removed bool
	Edited  bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	on, nn := old.Negotiation, new.Negotiation
	if on.Greeting != nn.Greeting || on.HistoryWindow != nn.HistoryWindow ||
		on.CallTimeout != nn.CallTimeout || on.VoiceReplies != nn.VoiceReplies ||
		on.VoiceTimeout != nn.VoiceTimeout || !slices.Equal(on.Judges, nn.Judges) {
		d.NegotiationChanged = true
	}
	d.JudgeChanges = diffJudges(on.Judges, nn.Judges)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.ReadTimeout != new.Server.ReadTimeout ||
		old.Server.WriteTimeout != new.Server.WriteTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Coach != new.Coach {
		d.RestartRequired = append(d.RestartRequired, "coach")
	}

	return d
}

// diffJudges compares two judge panels by ID, preserving the new panel order
// for added and edited judges and listing removals last.
func diffJudges(old, new []JudgeConfig) []JudgeDiff {
	oldByID := make(map[string]JudgeConfig, len(old))
	for _, j := range old {
		oldByID[j.ID] = j
	}
	newIDs := make(map[string]bool, len(new))

	var out []JudgeDiff
	for _, j := range new {
		newIDs[j.ID] = true
		prev, ok := oldByID[j.ID]
		switch {
		case !ok:
			out = append(out, JudgeDiff{ID: j.ID, Added: true})
		case prev != j:
			out = append(out, JudgeDiff{ID: j.ID, Edited: true})
		}
	}
	for _, j := range old {
		if !newIDs[j.ID] {
			out = append(out, JudgeDiff{ID: j.ID, Removed: true})
		}
	}
	return out
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual) &&
		slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, entryEqual)
}

// entryEqual compares the scalar fields of two entries. Options maps are
// compared by length only, which is enough to flag a restart.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
