package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/session"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// MaxScore is the top of the conviction scoring scale.
const MaxScore = 10

// ScoreConviction asks the model how convincing the latest dialogue entry is
// to j and returns a score in [0, MaxScore]. The prompt quotes the last
// [Analyzer.HistoryWindow] entries of s.
//
// A provider error, an unparseable answer or a score outside the scale is
// returned as an error; callers keep the judge's conviction unchanged.
func (a *Analyzer) ScoreConviction(ctx context.Context, s *session.Session, j *judge.Judge) (int, error) {
	req := llm.CompletionRequest{
		SystemPrompt:   fmt.Sprintf(scoreSystemPrompt, j.Name, j.Persona, j.Conviction),
		Messages:       userMessage("Conversation so far:\n" + renderHistory(s, s.Recent(a.history))),
		Temperature:    0,
		MaxTokens:      20,
		ResponseFormat: llm.FormatJSONObject,
	}
	content, err := a.complete(ctx, OpScore, req)
	if err != nil {
		return 0, err
	}
	score, err := parseScore(content)
	if err != nil {
		a.fallback(ctx, OpScore)
		return 0, fmt.Errorf("analysis: score %s: %w", j.ID, err)
	}
	return score, nil
}

// parseScore accepts {"score": n} or a bare number.
func parseScore(content string) (int, error) {
	cleaned := stripMarkdown(content)
	raw := json.RawMessage(cleaned)
	if strings.Contains(cleaned, "{") {
		var r struct {
			Score json.RawMessage `json:"score"`
		}
		if err := decodeObject(cleaned, &r); err != nil {
			return 0, err
		}
		raw = r.Score
	}
	v, present, err := integer(raw)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, fmt.Errorf("%w: score missing", ErrMalformed)
	}
	if v < 0 || v > MaxScore {
		return 0, fmt.Errorf("%w: score %d not in [0, %d]", ErrOutOfRange, v, MaxScore)
	}
	return int(v), nil
}
