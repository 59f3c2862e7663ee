package analysis

import (
	"context"
	"fmt"

	"github.com/MrWong99/fishtank/internal/session"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// Autopilot writes the entrepreneur's next message for s. It returns an
// error when the model fails or answers with nothing.
func (a *Analyzer) Autopilot(ctx context.Context, s *session.Session) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(autopilotSystemPrompt, autopilotGuidance(s)),
		Messages:     userMessage("Conversation so far:\n" + renderHistory(s, s.Recent(a.history)) + "\n\nWhat do you say next?"),
		Temperature:  0.9,
		MaxTokens:    200,
	}
	content, err := a.complete(ctx, OpAutopilot, req)
	if err != nil {
		return "", err
	}
	text := cleanReply(content, "Entrepreneur")
	if text == "" {
		return "", fmt.Errorf("analysis: %s: %w: empty message", OpAutopilot, ErrMalformed)
	}
	return text, nil
}

// autopilotGuidance steers the entrepreneur by stage.
func autopilotGuidance(s *session.Session) string {
	switch s.Stage {
	case session.StageEvaluation:
		return "Pitch your business and answer the judges' questions with concrete numbers."
	case session.StageInitialOffers, session.StageNegotiation:
		if !s.AnyInterested() {
			return "Every judge is out. Make one last attempt to win someone back."
		}
		return fmt.Sprintf("Negotiate. The offers on the table are:\n%sAccept one, or counter with different terms.", renderOffers(s))
	case session.StageClosure:
		return "The negotiation is over. Thank the judges."
	}
	return ""
}
