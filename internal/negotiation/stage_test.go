package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/session"
)

func newSession(convictions ...int) *session.Session {
	judges := judge.Default().Clone()
	for i, c := range convictions {
		judges[i].Conviction = c
	}
	return session.New("s1", judges, time.Unix(1_700_000_000, 0))
}

func intentOf(in analysis.Intent, err error) ClassifyFunc {
	return func(context.Context, *session.Session) (analysis.Intent, error) { return in, err }
}

func mustNotClassify(t *testing.T) ClassifyFunc {
	return func(context.Context, *session.Session) (analysis.Intent, error) {
		t.Error("classify called outside the deal stages")
		return analysis.Intent{}, nil
	}
}

func TestInitialOffer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		conviction int
		want       judge.Offer
	}{
		{50, judge.Offer{Amount: 100000, Equity: 25}},
		{55, judge.Offer{Amount: 110000, Equity: 23.5}},
		{73, judge.Offer{Amount: 146000, Equity: 18.1}},
		{100, judge.Offer{Amount: 200000, Equity: 10}},
	}
	for _, tt := range tests {
		if got := InitialOffer(tt.conviction); got != tt.want {
			t.Errorf("InitialOffer(%d) = %+v, want %+v", tt.conviction, got, tt.want)
		}
	}
}

func TestAdvance_EvaluationNeedsThreeMessages(t *testing.T) {
	t.Parallel()
	s := newSession(90, 90, 90)
	for i := 1; i < EvaluationTurns; i++ {
		tr := Advance(context.Background(), s, mustNotClassify(t))
		if tr.Changed() || s.Stage != session.StageEvaluation {
			t.Fatalf("after %d messages stage = %s, want evaluation", i, s.Stage)
		}
		if s.EvaluationResponses != i {
			t.Errorf("EvaluationResponses = %d, want %d", s.EvaluationResponses, i)
		}
	}
	tr := Advance(context.Background(), s, mustNotClassify(t))
	if tr.From != session.StageEvaluation || tr.To != session.StageInitialOffers {
		t.Fatalf("transition = %s -> %s, want evaluation -> initial_offers", tr.From, tr.To)
	}
}

func TestAdvance_OnlyQualifiedJudgesGetOffers(t *testing.T) {
	t.Parallel()
	s := newSession(55, 40, 10)
	s.EvaluationResponses = EvaluationTurns - 1

	Advance(context.Background(), s, mustNotClassify(t))

	if s.Stage != session.StageInitialOffers {
		t.Fatalf("stage = %s, want initial_offers", s.Stage)
	}
	if got := s.Judges[0].Offer; got == nil || *got != (judge.Offer{Amount: 110000, Equity: 23.5}) {
		t.Errorf("judge A offer = %v, want $110000 for 23.5%%", got)
	}
	if s.Judges[1].Offer != nil || s.Judges[2].Offer != nil {
		t.Errorf("judges below 50 got offers: %v, %v", s.Judges[1].Offer, s.Judges[2].Offer)
	}
}

func TestAdvance_NoQualifiedJudgeCloses(t *testing.T) {
	t.Parallel()
	s := newSession(49, 30, 20)
	s.EvaluationResponses = EvaluationTurns - 1
	Advance(context.Background(), s, mustNotClassify(t))
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", s.Stage)
	}
	if len(s.JudgeOffers()) != 0 {
		t.Errorf("offers = %v, want none", s.JudgeOffers())
	}
}

func TestAdvance_InitialOffers(t *testing.T) {
	t.Parallel()
	amount := int64(150000)
	equity := 12.0

	tests := []struct {
		name      string
		intent    analysis.Intent
		err       error
		wantStage session.Stage
		check     func(t *testing.T, s *session.Session)
	}{
		{
			name:      "acceptance",
			intent:    analysis.Intent{IsAcceptance: true},
			wantStage: session.StageClosure,
			check: func(t *testing.T, s *session.Session) {
				if s.Accepted == nil || s.Accepted.JudgeID != "lena" {
					t.Fatalf("accepted = %+v, want lena", s.Accepted)
				}
				if !s.Accepted.Offer.Final || !s.Judges[1].Offer.Final {
					t.Error("accepted offer not marked final")
				}
				if s.Accepted.Offer.Amount != 140000 {
					t.Errorf("accepted amount = %d, want 140000", s.Accepted.Offer.Amount)
				}
			},
		},
		{
			name:      "counter",
			intent:    analysis.Intent{IsCounterOffer: true, CounterAmount: &amount, CounterEquity: &equity},
			wantStage: session.StageNegotiation,
			check: func(t *testing.T, s *session.Session) {
				if got := *s.Judges[1].Offer; got != (judge.Offer{Amount: 150000, Equity: 12}) {
					t.Errorf("leader offer = %+v, want counter terms", got)
				}
				if got := *s.Judges[0].Offer; got != InitialOffer(60) {
					t.Errorf("other offer = %+v, want untouched", got)
				}
			},
		},
		{
			name:      "partial counter keeps equity",
			intent:    analysis.Intent{IsCounterOffer: true, CounterAmount: &amount},
			wantStage: session.StageNegotiation,
			check: func(t *testing.T, s *session.Session) {
				if got := *s.Judges[1].Offer; got != (judge.Offer{Amount: 150000, Equity: InitialOffer(70).Equity}) {
					t.Errorf("leader offer = %+v", got)
				}
			},
		},
		{
			name:      "neither",
			wantStage: session.StageNegotiation,
			check: func(t *testing.T, s *session.Session) {
				if got := *s.Judges[1].Offer; got != InitialOffer(70) {
					t.Errorf("leader offer = %+v, want untouched", got)
				}
			},
		},
		{
			name:      "classification failure is neither",
			intent:    analysis.Intent{IsAcceptance: true},
			err:       errors.New("bad json"),
			wantStage: session.StageNegotiation,
			check: func(t *testing.T, s *session.Session) {
				if s.Accepted != nil {
					t.Errorf("accepted = %+v, want none", s.Accepted)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSession(60, 70, 10)
			s.Stage = session.StageInitialOffers
			for _, i := range []int{0, 1} {
				o := InitialOffer(s.Judges[i].Conviction)
				s.Judges[i].Offer = &o
			}

			tr := Advance(context.Background(), s, intentOf(tt.intent, tt.err))
			if s.Stage != tt.wantStage || tr.To != tt.wantStage {
				t.Fatalf("stage = %s, want %s", s.Stage, tt.wantStage)
			}
			tt.check(t, s)
		})
	}
}

func TestAdvance_InitialOffersWithoutInterestCloses(t *testing.T) {
	t.Parallel()
	s := newSession(45, 30, 10)
	s.Stage = session.StageInitialOffers
	Advance(context.Background(), s, intentOf(analysis.Intent{IsAcceptance: true}, nil))
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", s.Stage)
	}
	if s.Accepted != nil {
		t.Errorf("accepted = %+v, want none", s.Accepted)
	}
}

func TestAdvance_NegotiationRoundLimit(t *testing.T) {
	t.Parallel()
	s := newSession(60, 30, 10)
	s.Stage = session.StageNegotiation
	o := InitialOffer(60)
	s.Judges[0].Offer = &o

	for round := 1; round < MaxNegotiationRounds; round++ {
		Advance(context.Background(), s, intentOf(analysis.Intent{}, nil))
		if s.Stage != session.StageNegotiation {
			t.Fatalf("round %d: stage = %s, want negotiation", round, s.Stage)
		}
	}
	want := *s.Judges[0].Offer
	want.Final = true

	// A counter on the last round is not classified and changes nothing.
	amount := int64(500_000)
	calls := 0
	classify := func(context.Context, *session.Session) (analysis.Intent, error) {
		calls++
		return analysis.Intent{IsCounterOffer: true, CounterAmount: &amount}, nil
	}
	tr := Advance(context.Background(), s, classify)
	if calls != 0 {
		t.Errorf("classify called %d times on the last round, want 0", calls)
	}
	if tr.Intent != (analysis.Intent{}) {
		t.Errorf("transition intent = %+v, want none", tr.Intent)
	}
	if *s.Judges[0].Offer != want {
		t.Errorf("offer = %+v, want %+v", *s.Judges[0].Offer, want)
	}
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure after %d rounds", s.Stage, MaxNegotiationRounds)
	}
	if s.NegotiationRound != MaxNegotiationRounds {
		t.Errorf("NegotiationRound = %d, want %d", s.NegotiationRound, MaxNegotiationRounds)
	}
	if !s.Judges[0].Offer.Final {
		t.Error("remaining offer not marked final")
	}
	if s.Accepted != nil {
		t.Errorf("accepted = %+v, want none", s.Accepted)
	}
}

func TestAdvance_AcceptanceOnLastRoundIsIgnored(t *testing.T) {
	t.Parallel()
	s := newSession(80, 65, 10)
	s.Stage = session.StageNegotiation
	s.NegotiationRound = MaxNegotiationRounds - 1
	o := InitialOffer(80)
	s.Judges[0].Offer = &o

	Advance(context.Background(), s, mustNotClassify(t))
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", s.Stage)
	}
	if s.Accepted != nil {
		t.Errorf("accepted = %+v, want no deal from the forced closure", s.Accepted)
	}
}

func TestAdvance_StagesNeverMoveBackwards(t *testing.T) {
	t.Parallel()
	s := newSession(80, 65, 10)
	prev := s.Stage
	for turn := range EvaluationTurns + 1 + MaxNegotiationRounds + 2 {
		Advance(context.Background(), s, intentOf(analysis.Intent{}, nil))
		if s.Stage.Before(prev) {
			t.Fatalf("turn %d: stage moved back from %s to %s", turn, prev, s.Stage)
		}
		prev = s.Stage
	}
	if s.Stage != session.StageClosure {
		t.Errorf("stage = %s, want closure", s.Stage)
	}
}

func TestAdvance_NegotiationAcceptance(t *testing.T) {
	t.Parallel()
	s := newSession(80, 65, 10)
	s.Stage = session.StageNegotiation
	a, b := InitialOffer(80), InitialOffer(65)
	s.Judges[0].Offer, s.Judges[1].Offer = &a, &b

	Advance(context.Background(), s, intentOf(analysis.Intent{IsAcceptance: true}, nil))
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", s.Stage)
	}
	if s.Accepted == nil || s.Accepted.JudgeID != "marcus" || s.Accepted.Offer.Amount != a.Amount {
		t.Errorf("accepted = %+v, want marcus's offer", s.Accepted)
	}
}

func TestAdvance_TieGoesToPanelOrder(t *testing.T) {
	t.Parallel()
	s := newSession(70, 70, 70)
	s.Stage = session.StageNegotiation
	Advance(context.Background(), s, intentOf(analysis.Intent{IsAcceptance: true}, nil))
	if s.Accepted == nil || s.Accepted.JudgeID != "marcus" {
		t.Errorf("accepted = %+v, want the first judge", s.Accepted)
	}
	if s.Accepted.Offer != (judge.Offer{Amount: 140000, Equity: 19, Final: true}) {
		t.Errorf("accepted offer = %+v, want a derived final offer", s.Accepted.Offer)
	}
}

func TestAdvance_ClosureIsTerminal(t *testing.T) {
	t.Parallel()
	s := newSession(80, 80, 80)
	s.Stage = session.StageClosure
	o := InitialOffer(80)
	s.Judges[0].Offer = &o
	before := *s.Judges[0].Offer

	for range 3 {
		tr := Advance(context.Background(), s, mustNotClassify(t))
		if tr.Changed() || s.Stage != session.StageClosure {
			t.Fatalf("stage = %s, want closure", s.Stage)
		}
	}
	if *s.Judges[0].Offer != before || s.Accepted != nil || s.NegotiationRound != 0 {
		t.Errorf("closure mutated the session: offer=%+v accepted=%+v round=%d", *s.Judges[0].Offer, s.Accepted, s.NegotiationRound)
	}
}

func TestAdvance_NilClassifyIsNeither(t *testing.T) {
	t.Parallel()
	s := newSession(60, 30, 10)
	s.Stage = session.StageInitialOffers
	Advance(context.Background(), s, nil)
	if s.Stage != session.StageNegotiation {
		t.Fatalf("stage = %s, want negotiation", s.Stage)
	}
}
