// Package openai is an [llm.Provider] on the official openai-go SDK. It also
// serves OpenAI-compatible servers through [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/types"
)

// defaultMaxRetries is lower than the SDK's; the fallback group retries on
// another provider instead.
const defaultMaxRetries = 1

// Provider implements [llm.Provider] against the Chat Completions API.
type Provider struct {
	client oai.Client
	model  string
	caps   types.ModelCapabilities
}

type settings struct {
	reqOpts    []option.RequestOption
	maxRetries int
	httpClient *http.Client
}

// Option configures [New].
type Option func(*settings)

// WithBaseURL points the client at another endpoint, such as vLLM or LM Studio.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithMaxRetries sets how often a failed request is retried. Defaults to 1.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = max(n, 0) }
}

// New returns a provider for model authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	s := settings{maxRetries: defaultMaxRetries}
	for _, o := range opts {
		o(&s)
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(s.maxRetries),
	}, s.reqOpts...)
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   capabilitiesFor(model),
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
	}

	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities { return p.caps }

// reasoning reports whether model is an o-series model, which rejects a
// custom temperature.
func reasoning(model string) bool {
	m := strings.ToLower(model)
	return len(m) > 1 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

func capabilitiesFor(model string) types.ModelCapabilities {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"):
		return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsJSONMode: true}
	case strings.HasPrefix(m, "gpt-4.1"):
		return types.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsJSONMode: true}
	case strings.HasPrefix(m, "gpt-4-turbo"):
		return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}
	case strings.HasPrefix(m, "gpt-4"):
		return types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}
	case strings.HasPrefix(m, "gpt-3.5"):
		return types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsJSONMode: true}
	case strings.HasPrefix(m, "o1-mini"):
		return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}
	case reasoning(m):
		return types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true}
	}
	return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}
}

// params translates req into SDK params.
func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		msgs = append(msgs, oai.SystemMessage(sys))
	}
	for i, m := range req.Messages {
		msg, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature > 0 && !reasoning(p.model) {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(min(req.MaxTokens, p.caps.MaxOutputTokens)))
	}
	if req.ResponseFormat == llm.FormatJSONObject && p.caps.SupportsJSONMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

func toParam(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		u := oai.ChatCompletionUserMessageParam{}
		u.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			u.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfUser: &u}, nil
	case types.RoleAssistant:
		a := oai.ChatCompletionAssistantMessageParam{}
		a.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			a.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &a}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", m.Role)
}

var _ llm.Provider = (*Provider)(nil)
