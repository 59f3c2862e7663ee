// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the judges access to every chat backend that library speaks.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
//
// Without an API key option each backend reads its usual environment
// variable (ANTHROPIC_API_KEY, GROQ_API_KEY and so on).
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/types"
)

// jsonInstruction is added to the system prompt of JSON requests. Not every
// backend has a native JSON mode, so the prompt always carries it.
const jsonInstruction = "Respond with a single JSON object and nothing else. Do not wrap it in markdown."

// ErrUnsupportedBackend is returned by [New] for names outside [Backends].
var ErrUnsupportedBackend = errors.New("anyllm: unsupported backend")

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps a provider name to its any-llm-go constructor.
var backends = map[string]constructor{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends returns the supported backend names, sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Local reports whether backend runs on the player's own machine and so takes
// no API key.
func Local(backend string) bool {
	switch strings.ToLower(backend) {
	case "ollama", "llamacpp", "llamafile":
		return true
	}
	return false
}

// Provider is an [llm.Provider] over one any-llm-go backend and model.
type Provider struct {
	name    string
	model   string
	backend anyllmlib.Provider
	caps    types.ModelCapabilities
}

// New returns a provider for model on the named backend. opts are passed to
// the backend constructor unchanged.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(backend)
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnsupportedBackend, backend, strings.Join(Backends(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{name: name, model: model, backend: b, caps: capabilitiesFor(model)}, nil
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: request has no messages")
	}
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities { return p.caps }

// params translates req. A MaxTokens above the model limit is capped.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)

	system := strings.TrimSpace(req.SystemPrompt)
	if req.ResponseFormat == llm.FormatJSONObject {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}
	if system != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature > 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := min(req.MaxTokens, p.caps.MaxOutputTokens)
		params.MaxTokens = &n
	}
	return params
}

// capabilityRule applies caps to models whose lower-cased name contains match.
// Rules are checked in order; the first hit wins.
type capabilityRule struct {
	match string
	caps  types.ModelCapabilities
}

var capabilityRules = []capabilityRule{
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsJSONMode: true}},
	{"gpt-4.1", types.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsJSONMode: true}},
	{"gpt-4-turbo", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{"gpt-4", types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5", types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{"claude-3-opus", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}},
	{"claude", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{"gemini-1.5-pro", types.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"gemini", types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"deepseek", types.ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"mistral", types.ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"llama", types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048, SupportsJSONMode: true}},
}

// defaultCapabilities covers models no rule knows.
var defaultCapabilities = types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}

func capabilitiesFor(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if strings.Contains(lower, r.match) {
			return r.caps
		}
	}
	return defaultCapabilities
}

var _ llm.Provider = (*Provider)(nil)
