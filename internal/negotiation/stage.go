package negotiation

import (
	"context"
	"log/slog"
	"math"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/session"
)

const (
	// EvaluationTurns is how many player messages the evaluation stage takes.
	EvaluationTurns = 3

	// MaxNegotiationRounds forces closure once reached.
	MaxNegotiationRounds = 3
)

// ClassifyFunc classifies the latest player message of a session.
type ClassifyFunc func(ctx context.Context, s *session.Session) (analysis.Intent, error)

// Transition is the outcome of one [Advance] call.
type Transition struct {
	From session.Stage
	To   session.Stage

	// Intent is the classification used, if the stage needed one.
	Intent analysis.Intent
}

// Changed reports whether the stage moved.
func (t Transition) Changed() bool { return t.From != t.To }

// InitialOffer derives the opening offer of a judge at conviction c:
// c × 2000 dollars rounded to the nearest thousand, for 40 − 0.3c percent
// equity at one decimal.
func InitialOffer(c int) judge.Offer {
	amount := int64(math.Round(float64(c)*2000/1000) * 1000)
	equity := math.Round((40-0.3*float64(c))*10) / 10
	return judge.Offer{Amount: amount, Equity: equity}
}

// Advance moves s through the stage machine after a player message has been
// appended and the judges rescored. classify is only called in the deal
// stages, and not on the final negotiation round; its failures count as
// "neither" and are logged.
//
// Stages never move backwards, and closure never mutates anything.
func Advance(ctx context.Context, s *session.Session, classify ClassifyFunc) Transition {
	t := Transition{From: s.Stage, To: s.Stage}
	log := observe.Logger(ctx).With("stage", string(s.Stage))

	switch s.Stage {
	case session.StageEvaluation:
		s.EvaluationResponses++
		if s.EvaluationResponses < EvaluationTurns {
			break
		}
		offered := 0
		for i := range s.Judges {
			j := &s.Judges[i]
			if j.Interested() {
				o := InitialOffer(j.Conviction)
				j.Offer = &o
				offered++
			}
		}
		if offered == 0 {
			log.Info("negotiation: no judge qualified for an offer")
			t.To = session.StageClosure
		} else {
			t.To = session.StageInitialOffers
		}

	case session.StageInitialOffers:
		if !s.AnyInterested() {
			log.Info("negotiation: no judge still interested")
			t.To = session.StageClosure
			break
		}
		t.Intent = classifyOrNeither(ctx, s, classify, log)
		if accept(s, t.Intent, log) {
			t.To = session.StageClosure
			break
		}
		counter(s, t.Intent, log)
		t.To = session.StageNegotiation

	case session.StageNegotiation:
		s.NegotiationRound++
		if s.NegotiationRound >= MaxNegotiationRounds {
			// The last round closes whatever the player said.
			log.Info("negotiation: round limit reached", "round", s.NegotiationRound)
			finalize(s)
			t.To = session.StageClosure
			break
		}
		t.Intent = classifyOrNeither(ctx, s, classify, log)
		if accept(s, t.Intent, log) {
			t.To = session.StageClosure
			break
		}
		counter(s, t.Intent, log)

	case session.StageClosure:
	}

	if t.To.Before(t.From) {
		log.Error("negotiation: refusing backward stage move", "to", string(t.To))
		t.To = t.From
	}
	s.Stage = t.To
	return t
}

func classifyOrNeither(ctx context.Context, s *session.Session, classify ClassifyFunc, log *slog.Logger) analysis.Intent {
	if classify == nil {
		return analysis.Intent{}
	}
	in, err := classify(ctx, s)
	if err != nil {
		log.Warn("negotiation: classification failed, treating as neither", "err", err)
		return analysis.Intent{}
	}
	return in
}

// accept records the leader's offer as accepted and final. It reports false
// when the intent is not an acceptance or nobody is left to accept.
func accept(s *session.Session, in analysis.Intent, log *slog.Logger) bool {
	if !in.IsAcceptance {
		return false
	}
	leader := s.Leader()
	if leader == nil {
		log.Info("negotiation: acceptance without an interested judge ignored")
		return false
	}
	if leader.Offer == nil {
		o := InitialOffer(leader.Conviction)
		leader.Offer = &o
	}
	leader.Offer.Final = true
	s.Accepted = &session.AcceptedOffer{JudgeID: leader.ID, Offer: *leader.Offer}
	return true
}

// counter overwrites the leader's offer with the counter terms. A term the
// player left out keeps the standing value.
func counter(s *session.Session, in analysis.Intent, log *slog.Logger) {
	if !in.IsCounterOffer {
		return
	}
	leader := s.Leader()
	if leader == nil {
		log.Info("negotiation: counter-offer without an interested judge ignored")
		return
	}
	o := InitialOffer(leader.Conviction)
	if leader.Offer != nil {
		o = *leader.Offer
	}
	if in.CounterAmount != nil {
		o.Amount = *in.CounterAmount
	}
	if in.CounterEquity != nil {
		o.Equity = *in.CounterEquity
	}
	o.Final = false
	leader.Offer = &o
}

// finalize marks every standing offer final.
func finalize(s *session.Session) {
	for i := range s.Judges {
		if o := s.Judges[i].Offer; o != nil {
			o.Final = true
		}
	}
}
