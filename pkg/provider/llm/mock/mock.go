// Package mock is an in-memory [llm.Provider] for tests.
//
// Responses are chosen in this order: CompleteFunc, then the first entry of
// Replies whose Match occurs in the system prompt, then CompleteResponse and
// CompleteErr. Replies lets a test script every judge prompt kind without
// writing a switch:
//
//	p := &mock.Provider{Replies: []mock.Reply{
//	    {Match: `{"score"`, Content: `{"score": 7}`},
//	    {Content: "What are your margins?"},
//	}}
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// CompleteCall is one recorded Complete request.
type CompleteCall struct {
	Req llm.CompletionRequest
}

// Reply answers requests whose system prompt contains Match. An empty Match
// answers everything.
type Reply struct {
	Match   string
	Content string
	Err     error
}

// Provider records requests and answers them from its fields.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc overrides every other field. It runs without the lock
	// held and may block.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	Replies []Reply

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	ModelCapabilities llm.ModelCapabilities

	CompleteCalls []CompleteCall
}

// Complete records req and returns the scripted answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	fn := p.CompleteFunc
	reply, matched := p.match(req.SystemPrompt)
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case matched:
		if reply.Err != nil {
			return nil, reply.Err
		}
		return &llm.CompletionResponse{Content: reply.Content}, nil
	}
	return resp, err
}

func (p *Provider) match(prompt string) (Reply, bool) {
	for _, r := range p.Replies {
		if strings.Contains(prompt, r.Match) {
			return r, true
		}
	}
	return Reply{}, false
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded requests.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.CompleteCalls...)
}

// Prompts returns the system prompt of every recorded request.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.CompleteCalls))
	for i, c := range p.CompleteCalls {
		out[i] = c.Req.SystemPrompt
	}
	return out
}

// Reset forgets the recorded requests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
