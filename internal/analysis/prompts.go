package analysis

import (
	"fmt"
	"strings"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/session"
)

const showPremise = `This is Fish Tank, a televised pitch show. An entrepreneur pitches a business to a panel of three investors (the judges), who question them and may offer money for equity.`

const scoreSystemPrompt = showPremise + `

You are scoring the pitch on behalf of the judge below. Read the conversation and rate how convincing the entrepreneur's latest message is TO THIS JUDGE, given their persona and priorities.

Judge: %s
Persona: %s
Current conviction: %d/100

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"score": <integer from 0 to 10>}

0 means the message makes the judge want to leave, 10 means it makes them eager to invest.`

const extractSystemPrompt = `You extract investment offers from a Fish Tank judge's spoken reply.

If the reply states a concrete offer, return the amount in US dollars and the equity percentage asked for. If it does not state both numbers, return nulls.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"amount": <integer dollars or null>, "equity": <percentage number or null>}`

const classifySystemPrompt = showPremise + `

You classify the entrepreneur's latest message during the deal phase.

Offers currently on the table:
%s
Decide whether the entrepreneur is accepting an offer as it stands, making a counter-offer with different terms, or neither.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"isAcceptance": <true|false>, "isCounterOffer": <true|false>, "counterOfferAmount": <integer dollars or null>, "counterOfferEquity": <percentage number or null>}`

const replySystemPrompt = showPremise + `

You are %s, one of the judges. Stay in character at all times.
Persona: %s
Speaking style: %s
Your current conviction about this deal: %d/100. %s

%s

Reply with 1 to 3 spoken sentences. No stage directions, no name prefix, no lists.`

const autopilotSystemPrompt = showPremise + `

You are the entrepreneur. Write your next message to the judges as spoken dialogue, 1 to 3 sentences. %s

No stage directions, no name prefix.`

const grammarSystemPrompt = `You are a friendly English speaking coach. The text below is a transcript of something the learner said aloud.

Find grammar and word-choice mistakes. Ignore filler words, false starts and punctuation, which come from transcription.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected": "<the full transcript with mistakes fixed>",
  "issues": [
    {"original": "<phrase as spoken>", "suggestion": "<better phrase>", "explanation": "<one short sentence>"}
  ]
}

If there are no mistakes, return an empty issues array and corrected equal to the input.`

// convictionHint tells a judge how to act on their conviction.
func convictionHint(c int) string {
	switch {
	case c < judge.OutFloor:
		return `You have lost interest. If nothing changes your mind, say "I'm out".`
	case c < judge.OfferThreshold:
		return "You are skeptical and not ready to invest."
	case c < 75:
		return "You are interested but want better terms or answers."
	default:
		return "You are excited about this business."
	}
}

// stageInstruction is the per-stage task for a replying judge.
func stageInstruction(s *session.Session, j *judge.Judge) string {
	switch s.Stage {
	case session.StageEvaluation:
		return "The pitch is still being evaluated. React to what the entrepreneur said and ask one probing question about the business. Do not make an offer yet."
	case session.StageInitialOffers:
		if j.Offer != nil {
			return fmt.Sprintf("It is time for offers. You must state your offer: %s. Say both numbers out loud.", j.Offer)
		}
		return `It is time for offers, but you are not convinced enough to make one. Explain briefly why, or say "I'm out".`
	case session.StageNegotiation:
		if j.Offer != nil {
			return fmt.Sprintf("You are negotiating. Your offer on the table is %s. Respond to the entrepreneur's latest position: hold, adjust or withdraw your offer.", j.Offer)
		}
		return "Other judges are negotiating. You have no offer on the table; comment briefly or make a late offer with both numbers."
	case session.StageClosure:
		if s.Accepted != nil {
			if s.Accepted.JudgeID == j.ID {
				return fmt.Sprintf("The deal is done: the entrepreneur accepted your offer of %s. Give a brief closing thought.", s.Accepted.Offer)
			}
			return "The entrepreneur made a deal with another judge. Give a brief closing thought."
		}
		return "The negotiation is over without a deal. Give a brief closing thought."
	}
	return ""
}

// renderHistory formats entries as a transcript with speaker names resolved.
func renderHistory(s *session.Session, entries []session.Entry) string {
	if len(entries) == 0 {
		return "(no conversation yet)"
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(speakerName(s, e))
		sb.WriteString(": ")
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func speakerName(s *session.Session, e session.Entry) string {
	if e.Speaker == session.SpeakerJudge {
		if j := s.Judge(e.JudgeID); j != nil {
			return j.Name
		}
		return "Judge"
	}
	return "Entrepreneur"
}

// renderOffers lists the standing offers in panel order.
func renderOffers(s *session.Session) string {
	var sb strings.Builder
	for _, j := range s.Judges {
		if j.Offer == nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", j.Name, j.Offer)
	}
	if sb.Len() == 0 {
		return "(none)\n"
	}
	return sb.String()
}
