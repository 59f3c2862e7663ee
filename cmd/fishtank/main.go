// Command fishtank serves the Fish Tank pitch game and the voice coach over
// HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/fishtank/internal/app"
	"github.com/MrWong99/fishtank/internal/config"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/resilience"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/provider/llm/anyllm"
	"github.com/MrWong99/fishtank/pkg/provider/llm/openai"
	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/provider/stt/deepgram"
	sttelevenlabs "github.com/MrWong99/fishtank/pkg/provider/stt/elevenlabs"
	"github.com/MrWong99/fishtank/pkg/provider/stt/whisper"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
	ttselevenlabs "github.com/MrWong99/fishtank/pkg/provider/tts/elevenlabs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file with provider secrets")
	flag.Parse()

	// Secrets referenced as ${VAR} in the config may live in a dotenv file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "fishtank: load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fishtank: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fishtank: %v\n", err)
		}
		return 1
	}

	// The level is adjusted by app.New and by hot reloads.
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("fishtank starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fishtank",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg.Providers, reg, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit changed", "provider", name, "from", from, "to", to)
			},
		},
	})
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// openai-go serves "openai"; any-llm-go serves the rest. Local servers never
	// take a key.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && !anyllm.Local(backend) {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterSTT("elevenlabs", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttelevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, sttelevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttelevenlabs.WithEndpoint(entry.BaseURL))
		}
		if optBool(entry.Options, "audio_events") {
			opts = append(opts, sttelevenlabs.WithAudioEvents(true))
		}
		return sttelevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if optBool(entry.Options, "filler_words") {
			opts = append(opts, deepgram.WithFillerWords(true))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttselevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttselevenlabs.WithStreamBase(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, ttselevenlabs.WithOutputFormat(outputFmt))
		}
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS || okB {
			if !okS {
				stability = 0.5
			}
			if !okB {
				similarity = 0.75
			}
			opts = append(opts, ttselevenlabs.WithVoiceSettings(stability, similarity))
		}
		return ttselevenlabs.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("+---------------------------------------+")
	fmt.Println("|        Fish Tank startup summary      |")
	fmt.Println("+---------------------------------------+")
	printRow("LLM", providerLabel(cfg.Providers.LLM, len(cfg.Providers.LLMFallbacks)))
	printRow("STT", providerLabel(cfg.Providers.STT, len(cfg.Providers.STTFallbacks)))
	printRow("TTS", providerLabel(cfg.Providers.TTS, len(cfg.Providers.TTSFallbacks)))
	printRow("Store", string(cfg.Store.Backend))
	judges := "built-in"
	if n := len(cfg.Negotiation.Judges); n > 0 {
		judges = fmt.Sprintf("%d custom", n)
	}
	printRow("Judges", judges)
	if cfg.Negotiation.VoiceReplies {
		printRow("Voice replies", "on")
	} else {
		printRow("Voice replies", "off")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("+---------------------------------------+")
}

func providerLabel(e config.ProviderEntry, fallbacks int) string {
	if e.Name == "" {
		return "(not configured)"
	}
	label := e.Name
	if e.Model != "" {
		label += " / " + e.Model
	}
	if fallbacks > 0 {
		label += fmt.Sprintf(" +%d", fallbacks)
	}
	return label
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("|  %-13s : %-19s |\n", key, value)
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes
// whole numbers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optBool extracts a boolean value from a provider Options map.
func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
