package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/fishtank/pkg/provider/llm"
	llmmock "github.com/MrWong99/fishtank/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	errDown := errors.New("backend down")
	reply := func(content string) *llmmock.Provider {
		return &llmmock.Provider{Replies: []llmmock.Reply{{Content: content}}}
	}
	down := func() *llmmock.Provider {
		return &llmmock.Provider{Replies: []llmmock.Reply{{Err: errDown}}}
	}

	tests := []struct {
		name      string
		primary   *llmmock.Provider
		secondary *llmmock.Provider
		want      string
		wantErr   error
		wantCalls [2]int
	}{
		{name: "primary answers", primary: reply("from primary"), secondary: reply("from secondary"), want: "from primary", wantCalls: [2]int{1, 0}},
		{name: "fails over", primary: down(), secondary: reply("from secondary"), want: "from secondary", wantCalls: [2]int{1, 1}},
		{name: "all down", primary: down(), secondary: down(), wantErr: ErrAllFailed, wantCalls: [2]int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewLLMFallback(tt.primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", tt.secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "judge"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Complete: %v", err)
			} else if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			got := [2]int{len(tt.primary.Calls()), len(tt.secondary.Calls())}
			if got != tt.wantCalls {
				t.Errorf("calls (primary, secondary) = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestLLMFallback_ForwardsClassifierRequest(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "{}"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	req := llm.CompletionRequest{
		SystemPrompt:   "classify",
		Messages:       []llm.Message{{Role: "user", Content: "deal"}},
		ResponseFormat: llm.FormatJSONObject,
	}
	if _, err := fb.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(calls))
	}
	if diff := cmp.Diff(req, calls[0].Req); diff != "" {
		t.Errorf("forwarded request mismatch (-want +got):\n%s", diff)
	}
}

func TestLLMFallback_CapabilitiesFollowPrimary(t *testing.T) {
	want := llm.ModelCapabilities{ContextWindow: 128000, SupportsJSONMode: true}
	fb := NewLLMFallback(&llmmock.Provider{ModelCapabilities: want}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{})

	if diff := cmp.Diff(want, fb.Capabilities()); diff != "" {
		t.Errorf("Capabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestLLMFallback_OpenBreakerMakesUnhealthy(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("down")}, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	if !fb.Healthy() {
		t.Fatal("fresh fallback should be healthy")
	}
	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})
	if fb.Healthy() {
		t.Fatal("fallback with its only breaker open should be unhealthy")
	}
	if st := fb.Status(); len(st) != 1 || st[0].State != StateOpen {
		t.Errorf("Status = %+v, want one open entry", st)
	}
}
