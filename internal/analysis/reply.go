package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/session"
	"github.com/MrWong99/fishtank/pkg/provider/llm"
)

// FallbackLine is spoken in place of a reply the model failed to produce.
const FallbackLine = "Give me a moment to think that over."

var (
	outPattern   = regexp.MustCompile(`(?i)\bi'?m\s+out`)
	apostrophes  = strings.NewReplacer("’", "'", "‘", "'", "`", "'")
	quoteTrimSet = "\"'“”"
)

// Lead is a reply one judge already gave this turn. A second responder
// comments on it instead of asking another question.
type Lead struct {
	Name string
	Text string
}

// Reply is a judge's generated line.
type Reply struct {
	Text string

	// Out reports that the judge said "I'm out".
	Out bool

	// Fallback reports that Text is [FallbackLine] because generation failed.
	Fallback bool
}

// GenerateReply writes j's in-character reply to the conversation in s. When
// lead is non-nil the judge follows up on lead's statement.
//
// GenerateReply never fails: a provider error or an empty answer yields
// [FallbackLine] with Fallback set.
func (a *Analyzer) GenerateReply(ctx context.Context, s *session.Session, j *judge.Judge, lead *Lead) Reply {
	var user strings.Builder
	user.WriteString("Conversation so far:\n")
	user.WriteString(renderHistory(s, s.Recent(a.history)))
	if lead != nil {
		fmt.Fprintf(&user, "\n\n%s just said: %q\nComment briefly on that statement only. Do not ask a new question.", lead.Name, lead.Text)
	}
	fmt.Fprintf(&user, "\n\nWhat do you say, %s?", j.Name)

	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(replySystemPrompt,
			j.Name, j.Persona, j.Style, j.Conviction, convictionHint(j.Conviction), stageInstruction(s, j)),
		Messages:    userMessage(user.String()),
		Temperature: 0.8,
		MaxTokens:   200,
	}
	content, err := a.complete(ctx, OpReply, req)
	if err != nil {
		observe.Logger(ctx).Warn("analysis: reply generation failed", "judge_id", j.ID, "err", err)
		a.fallback(ctx, OpReply)
		return Reply{Text: FallbackLine, Fallback: true}
	}
	text := cleanReply(content, j.Name)
	if text == "" {
		observe.Logger(ctx).Warn("analysis: empty reply", "judge_id", j.ID)
		a.fallback(ctx, OpReply)
		return Reply{Text: FallbackLine, Fallback: true}
	}
	return Reply{Text: text, Out: IsOut(text)}
}

// IsOut reports whether text contains "I'm out" anywhere, ignoring case,
// typographic apostrophes and a missing apostrophe. "I'm outta here" counts.
func IsOut(text string) bool {
	return outPattern.MatchString(apostrophes.Replace(text))
}

// cleanReply drops a leading "Name:" prefix and surrounding quotes.
func cleanReply(content, name string) string {
	text := strings.TrimSpace(content)
	for _, prefix := range []string{name + ":", "**" + name + ":**", "**" + name + "**:"} {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	return strings.TrimSpace(strings.Trim(text, quoteTrimSet))
}
