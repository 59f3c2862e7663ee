package resilience

import (
	"context"

	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/types"
)

// LLMFallback is an [llm.Provider] that fails over between chat backends.
// Judges, the intent classifier and the grammar reviewer all share it.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback provider preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Complete returns the first successful completion. Requests are forwarded
// unchanged, JSON mode included.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities describes the primary. A JSON-mode caller that needs a
// guarantee must not rely on it during failover.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// Status reports every backend's breaker.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// Healthy reports whether any backend accepts calls.
func (f *LLMFallback) Healthy() bool { return f.group.Healthy() }
