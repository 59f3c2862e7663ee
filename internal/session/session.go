// Package session holds the Fish Tank session model: the dialogue, the
// session's own copy of the judge panel, and the negotiation stage.
//
// A Session is plain data. It is mutated only by the negotiation engine while
// the engine holds that session's lock, and it is persisted as JSON by the
// session stores.
package session

import (
	"time"

	"github.com/MrWong99/fishtank/internal/judge"
)

// Stage is one of the four ordered negotiation phases.
type Stage string

const (
	StageEvaluation    Stage = "evaluation"
	StageInitialOffers Stage = "initial_offers"
	StageNegotiation   Stage = "negotiation"
	StageClosure       Stage = "closure"
)

// rank orders stages. Unknown stages rank below evaluation.
func (s Stage) rank() int {
	switch s {
	case StageEvaluation:
		return 1
	case StageInitialOffers:
		return 2
	case StageNegotiation:
		return 3
	case StageClosure:
		return 4
	}
	return 0
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool { return s.rank() > 0 }

// Before reports whether s comes strictly before o.
func (s Stage) Before(o Stage) bool { return s.rank() < o.rank() }

// Speaker identifies who produced a dialogue entry.
type Speaker string

const (
	SpeakerJudge          Speaker = "judge"
	SpeakerPlayer         Speaker = "player"
	SpeakerAIEntrepreneur Speaker = "ai_entrepreneur"
)

// Entry is one line of dialogue. Entries are never modified after they are
// appended.
type Entry struct {
	Speaker  Speaker   `json:"speaker"`
	Text     string    `json:"text"`
	AudioRef string    `json:"audio_ref,omitempty"`
	JudgeID  string    `json:"judge_id,omitempty"`
	At       time.Time `json:"at"`
}

// AcceptedOffer records the deal a player accepted.
type AcceptedOffer struct {
	JudgeID string      `json:"judge_id"`
	Offer   judge.Offer `json:"offer"`
}

// Session is the full state of one pitch.
type Session struct {
	ID                  string         `json:"id"`
	Dialogue            []Entry        `json:"dialogue"`
	Judges              []judge.Judge  `json:"judges"`
	Stage               Stage          `json:"stage"`
	EvaluationResponses int            `json:"evaluation_responses"`
	NegotiationRound    int            `json:"negotiation_round"`
	Accepted            *AcceptedOffer `json:"accepted_offer,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// New returns a session in [StageEvaluation] owning judges.
func New(id string, judges []judge.Judge, now time.Time) *Session {
	return &Session{
		ID:        id,
		Dialogue:  []Entry{},
		Judges:    judges,
		Stage:     StageEvaluation,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds e to the dialogue and bumps UpdatedAt.
func (s *Session) Append(e Entry) {
	s.Dialogue = append(s.Dialogue, e)
	if e.At.After(s.UpdatedAt) {
		s.UpdatedAt = e.At
	}
}

// Recent returns up to n trailing dialogue entries. The result aliases the
// dialogue; callers must not modify it.
func (s *Session) Recent(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n >= len(s.Dialogue) {
		return s.Dialogue
	}
	return s.Dialogue[len(s.Dialogue)-n:]
}

// Judge returns the session judge with id, or nil.
func (s *Session) Judge(id string) *judge.Judge {
	for i := range s.Judges {
		if s.Judges[i].ID == id {
			return &s.Judges[i]
		}
	}
	return nil
}

// JudgeOffers maps judge id to that judge's current offer. Judges without an
// offer are absent.
func (s *Session) JudgeOffers() map[string]judge.Offer {
	offers := make(map[string]judge.Offer, len(s.Judges))
	for _, j := range s.Judges {
		if j.Offer != nil {
			offers[j.ID] = *j.Offer
		}
	}
	return offers
}

// Leader returns the interested judge with the highest conviction, or nil.
// Ties go to the judge earlier in panel order.
func (s *Session) Leader() *judge.Judge {
	var best *judge.Judge
	for i := range s.Judges {
		j := &s.Judges[i]
		if !j.Interested() {
			continue
		}
		if best == nil || j.Conviction > best.Conviction {
			best = j
		}
	}
	return best
}

// AnyInterested reports whether some judge is at or above the offer
// threshold.
func (s *Session) AnyInterested() bool { return s.Leader() != nil }

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Dialogue = append([]Entry(nil), s.Dialogue...)
	if cp.Dialogue == nil {
		cp.Dialogue = []Entry{}
	}
	cp.Judges = make([]judge.Judge, len(s.Judges))
	for i, j := range s.Judges {
		cp.Judges[i] = j.Clone()
	}
	if s.Accepted != nil {
		a := *s.Accepted
		cp.Accepted = &a
	}
	return &cp
}
