package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// ExtractOffer asks the model for the offer stated in a judge's reply. It
// returns nil, nil when the reply states no concrete offer.
func (a *Analyzer) ExtractOffer(ctx context.Context, reply string) (*judge.Offer, error) {
	req := llm.CompletionRequest{
		SystemPrompt:   extractSystemPrompt,
		Messages:       userMessage("Judge's reply:\n" + reply),
		Temperature:    0,
		MaxTokens:      60,
		ResponseFormat: llm.FormatJSONObject,
	}
	content, err := a.complete(ctx, OpExtract, req)
	if err != nil {
		return nil, err
	}
	offer, err := parseOffer(content)
	if err != nil {
		a.fallback(ctx, OpExtract)
		return nil, fmt.Errorf("analysis: extract offer: %w", err)
	}
	return offer, nil
}

// parseOffer decodes {"amount", "equity"}. A bare null, or either value
// missing, means no offer.
func parseOffer(content string) (*judge.Offer, error) {
	if isNull(content) {
		return nil, nil
	}
	var r struct {
		Amount json.RawMessage `json:"amount"`
		Equity json.RawMessage `json:"equity"`
	}
	if err := decodeObject(content, &r); err != nil {
		return nil, err
	}
	amount, hasAmount, err := number(r.Amount)
	if err != nil {
		return nil, err
	}
	equity, hasEquity, err := number(r.Equity)
	if err != nil {
		return nil, err
	}
	if !hasAmount || !hasEquity {
		return nil, nil
	}
	if err := checkTerms(amount, equity); err != nil {
		return nil, err
	}
	return &judge.Offer{Amount: int64(math.Round(amount)), Equity: roundEquity(equity)}, nil
}

// checkTerms range-checks a dollar amount and an equity percentage.
func checkTerms(amount, equity float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount %v must be positive", ErrOutOfRange, amount)
	}
	if equity <= 0 || equity > 100 {
		return fmt.Errorf("%w: equity %v not in (0, 100]", ErrOutOfRange, equity)
	}
	return nil
}

// roundEquity keeps one decimal place.
func roundEquity(e float64) float64 {
	return math.Round(e*10) / 10
}
