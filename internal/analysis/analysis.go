// Package analysis turns Fish Tank session state into chat-completion prompts
// and decodes the model's answers into typed values.
//
// Every operation runs under a per-call timeout. Model output is never
// trusted: JSON is stripped of markdown fences, decoded, and range-checked.
// Decode failures surface as errors wrapping [ErrMalformed] or
// [ErrOutOfRange] so the caller can log them and keep its safe default; no
// method panics on bad model output.
//
// The operations are:
//
//   - [Analyzer.ScoreConviction] rates the player's message 0..10 for a judge.
//   - [Analyzer.ExtractOffer] pulls {amount, equity} out of a judge's reply.
//   - [Analyzer.GenerateReply] writes a judge's in-character reply.
//   - [Analyzer.ClassifyIntent] detects acceptance and counter-offers.
//   - [Analyzer.Autopilot] writes the next entrepreneur message.
//   - [Analyzer.GrammarFeedback] reviews a transcript for the voice coach.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/types"
)

var (
	// ErrMalformed means the model answered with something that does not
	// decode into the expected shape.
	ErrMalformed = errors.New("analysis: malformed model output")

	// ErrOutOfRange means the model's answer decoded but a value is outside
	// its allowed range.
	ErrOutOfRange = errors.New("analysis: value out of range")
)

// Operation names used for metrics and logs.
const (
	OpScore     = "score"
	OpExtract   = "extract"
	OpReply     = "reply"
	OpClassify  = "classify"
	OpAutopilot = "autopilot"
	OpGrammar   = "grammar"
)

const (
	defaultCallTimeout   = 20 * time.Second
	defaultHistoryWindow = 5
)

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithCallTimeout bounds every chat-completion call. Default: 20s.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHistoryWindow sets how many trailing dialogue entries are quoted into
// prompts. Default: 5.
func WithHistoryWindow(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.history = n
		}
	}
}

// WithMetrics records call latency and fallbacks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer wraps an [llm.Provider] with the Fish Tank prompts. It holds no
// per-session state and is safe for concurrent use.
type Analyzer struct {
	llm     llm.Provider
	timeout time.Duration
	history int
	metrics *observe.Metrics
}

// New returns an [Analyzer] backed by provider.
func New(provider llm.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		llm:     provider,
		timeout: defaultCallTimeout,
		history: defaultHistoryWindow,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// HistoryWindow returns the number of dialogue entries quoted into prompts.
func (a *Analyzer) HistoryWindow() int { return a.history }

// complete runs one chat-completion call for op under the call timeout and
// returns the trimmed content.
func (a *Analyzer) complete(ctx context.Context, op string, req llm.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.llm.Complete(ctx, req)
	if a.metrics != nil {
		a.metrics.RecordLLMCall(ctx, op, start, err)
	}
	if err != nil {
		return "", fmt.Errorf("analysis: %s: %w", op, err)
	}
	if resp == nil {
		return "", fmt.Errorf("analysis: %s: %w: empty response", op, ErrMalformed)
	}
	return strings.TrimSpace(resp.Content), nil
}

// fallback records that op's output was replaced by a safe default.
func (a *Analyzer) fallback(ctx context.Context, op string) {
	if a.metrics != nil {
		a.metrics.RecordAnalysisFallback(ctx, op)
	}
}

// userMessage wraps content as the single user turn of a request.
func userMessage(content string) []llm.Message {
	return []llm.Message{{Role: types.RoleUser, Content: content}}
}
