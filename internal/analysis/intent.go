package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/session"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// Intent is the classification of a player's message during the deal phase.
// The zero value means neither acceptance nor counter-offer.
type Intent struct {
	IsAcceptance   bool
	IsCounterOffer bool

	// CounterAmount and CounterEquity are set only for counter-offers, and
	// only when the message named them.
	CounterAmount *int64
	CounterEquity *float64
}

// ClassifyIntent decides whether the latest dialogue entry accepts a
// standing offer or counters one. On any failure it returns the zero
// [Intent] together with the error, so callers can log and proceed.
func (a *Analyzer) ClassifyIntent(ctx context.Context, s *session.Session) (Intent, error) {
	req := llm.CompletionRequest{
		SystemPrompt:   fmt.Sprintf(classifySystemPrompt, renderOffers(s)),
		Messages:       userMessage("Conversation so far:\n" + renderHistory(s, s.Recent(a.history))),
		Temperature:    0,
		MaxTokens:      80,
		ResponseFormat: llm.FormatJSONObject,
	}
	content, err := a.complete(ctx, OpClassify, req)
	if err != nil {
		return Intent{}, err
	}
	in, err := parseIntent(ctx, content)
	if err != nil {
		a.fallback(ctx, OpClassify)
		return Intent{}, fmt.Errorf("analysis: classify: %w", err)
	}
	return in, nil
}

// parseIntent decodes the classification. A counter-offer takes precedence
// over acceptance, and a counter-offer that names no terms is downgraded to
// neither.
func parseIntent(ctx context.Context, content string) (Intent, error) {
	var r struct {
		IsAcceptance       *bool           `json:"isAcceptance"`
		IsCounterOffer     *bool           `json:"isCounterOffer"`
		CounterOfferAmount json.RawMessage `json:"counterOfferAmount"`
		CounterOfferEquity json.RawMessage `json:"counterOfferEquity"`
	}
	if err := decodeObject(content, &r); err != nil {
		return Intent{}, err
	}
	if r.IsAcceptance == nil || r.IsCounterOffer == nil {
		return Intent{}, fmt.Errorf("%w: isAcceptance and isCounterOffer are required", ErrMalformed)
	}

	in := Intent{IsAcceptance: *r.IsAcceptance}
	if !*r.IsCounterOffer {
		return in, nil
	}

	amount, hasAmount, err := number(r.CounterOfferAmount)
	if err != nil {
		return Intent{}, err
	}
	equity, hasEquity, err := number(r.CounterOfferEquity)
	if err != nil {
		return Intent{}, err
	}
	if !hasAmount && !hasEquity {
		observe.Logger(ctx).Debug("analysis: counter-offer without terms treated as neither")
		return Intent{}, nil
	}
	if hasAmount {
		if amount <= 0 {
			return Intent{}, fmt.Errorf("%w: counter amount %v must be positive", ErrOutOfRange, amount)
		}
		v := int64(math.Round(amount))
		in.CounterAmount = &v
	}
	if hasEquity {
		if equity <= 0 || equity > 100 {
			return Intent{}, fmt.Errorf("%w: counter equity %v not in (0, 100]", ErrOutOfRange, equity)
		}
		v := roundEquity(equity)
		in.CounterEquity = &v
	}
	in.IsCounterOffer = true
	in.IsAcceptance = false
	return in, nil
}
