package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// Issue is one grammar or word-choice mistake.
type Issue struct {
	Original    string `json:"original"`
	Suggestion  string `json:"suggestion"`
	Explanation string `json:"explanation"`
}

// Feedback is the coach's review of a transcript.
type Feedback struct {
	Corrected string  `json:"corrected"`
	Issues    []Issue `json:"issues"`

	// Degraded is set when the model's answer could not be used and
	// Feedback echoes the transcript with no issues.
	Degraded bool `json:"-"`
}

// GrammarFeedback reviews transcript. A provider error is returned; an
// unparseable answer degrades to the transcript with no issues.
func (a *Analyzer) GrammarFeedback(ctx context.Context, transcript string) (Feedback, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Feedback{Issues: []Issue{}}, nil
	}
	req := llm.CompletionRequest{
		SystemPrompt:   grammarSystemPrompt,
		Messages:       userMessage(transcript),
		Temperature:    0.1,
		MaxTokens:      1024,
		ResponseFormat: llm.FormatJSONObject,
	}
	content, err := a.complete(ctx, OpGrammar, req)
	if err != nil {
		return Feedback{}, err
	}

	var fb Feedback
	if err := decodeObject(content, &fb); err != nil {
		observe.Logger(ctx).Warn("analysis: grammar feedback unparseable", "err", err)
		a.fallback(ctx, OpGrammar)
		return Feedback{Corrected: transcript, Issues: []Issue{}, Degraded: true}, nil
	}
	fb.Corrected = strings.TrimSpace(fb.Corrected)
	if fb.Corrected == "" {
		fb.Corrected = transcript
	}
	issues := fb.Issues[:0]
	for _, is := range fb.Issues {
		if strings.TrimSpace(is.Original) == "" && strings.TrimSpace(is.Suggestion) == "" {
			continue
		}
		issues = append(issues, is)
	}
	if issues == nil {
		issues = []Issue{}
	}
	fb.Issues = issues
	return fb, nil
}
