// Package negotiation runs Fish Tank turns: it scores the judges, advances
// the stage machine, picks who answers and generates their replies.
//
// Turns for one session are serialised; different sessions run in parallel.
// Every session is loaded from and written back to a [sessionstore.Store],
// so the engine itself holds no session state between turns.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/session"
	"github.com/MrWong99/fishtank/internal/sessionstore"
)

var (
	// ErrEmptyMessage is returned when a reply carries no text.
	ErrEmptyMessage = errors.New("negotiation: message is empty")

	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("negotiation: session not found")
)

// Analyzer is the model-backed half of a turn. [*analysis.Analyzer] is the
// production implementation.
type Analyzer interface {
	ScoreConviction(ctx context.Context, s *session.Session, j *judge.Judge) (int, error)
	ExtractOffer(ctx context.Context, reply string) (*judge.Offer, error)
	GenerateReply(ctx context.Context, s *session.Session, j *judge.Judge, lead *analysis.Lead) analysis.Reply
	ClassifyIntent(ctx context.Context, s *session.Session) (analysis.Intent, error)
	Autopilot(ctx context.Context, s *session.Session) (string, error)
}

var _ Analyzer = (*analysis.Analyzer)(nil)

// Synthesizer voices a judge line. It returns base64 encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) (string, error)
}

// Settings are the engine dependencies that may be swapped at runtime.
type Settings struct {
	Analyzer Analyzer
	Panel    *judge.Registry
	Greeting string

	// Voice is optional. Nil means text-only replies.
	Voice Synthesizer
}

func (s Settings) validate() error {
	var errs []error
	if s.Analyzer == nil {
		errs = append(errs, errors.New("negotiation: settings: analyzer is required"))
	}
	if s.Panel == nil {
		errs = append(errs, errors.New("negotiation: settings: judge panel is required"))
	}
	return errors.Join(errs...)
}

// JudgeReply is one judge line produced by a turn.
type JudgeReply struct {
	JudgeID string `json:"judge_id"`
	Name    string `json:"name"`
	Text    string `json:"text"`

	// Audio is a base64 WAV rendition of Text when voicing is enabled.
	Audio string `json:"audio,omitempty"`

	// Out is set when the judge dropped out with this line.
	Out bool `json:"out,omitempty"`
}

// Start is the result of [Engine.StartSession].
type Start struct {
	Session  *session.Session
	Greeting JudgeReply
}

// Turn is the result of one processed message.
type Turn struct {
	// Session is a snapshot taken after the turn was persisted.
	Session *session.Session

	Replies    []JudgeReply
	Transition Transition

	// EntrepreneurMessage is the generated player line of an autopilot turn.
	EntrepreneurMessage string
}

// Engine processes Fish Tank turns. All methods are safe for concurrent use.
type Engine struct {
	store    sessionstore.Store
	settings atomic.Pointer[Settings]
	locks    *keyedMutex
	metrics  *observe.Metrics
	now      func() time.Time
	newID    func() string
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithMetrics records turns, stage transitions and the session gauge on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for dialogue timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDFunc overrides session id generation. The default is a random UUID.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New returns an engine persisting sessions in store.
func New(store sessionstore.Store, settings Settings, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("negotiation: store is required")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	e.settings.Store(&settings)
	return e, nil
}

// Settings returns the settings in effect.
func (e *Engine) Settings() Settings { return *e.settings.Load() }

// UpdateSettings swaps the settings. Turns already running finish with the
// previous ones. Existing sessions keep the judges they were started with.
func (e *Engine) UpdateSettings(s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}
	e.settings.Store(&s)
	return nil
}

// StartSession creates a session with a fresh copy of the panel and the
// greeting as its first dialogue entry, attributed to the first judge.
func (e *Engine) StartSession(ctx context.Context) (*Start, error) {
	set := e.Settings()
	now := e.now().UTC()
	s := session.New(e.newID(), set.Panel.Clone(), now)
	if len(s.Judges) == 0 {
		return nil, fmt.Errorf("negotiation: start session: %w", judge.ErrInvalidPanel)
	}
	ctx = observe.WithSessionID(ctx, s.ID)

	host := &s.Judges[0]
	s.Append(session.Entry{Speaker: session.SpeakerJudge, JudgeID: host.ID, Text: set.Greeting, At: now})
	greeting := JudgeReply{JudgeID: host.ID, Name: host.Name, Text: set.Greeting}
	greeting.Audio = e.voice(ctx, set, host, set.Greeting)

	if err := e.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("negotiation: start session: %w", err)
	}
	observe.Logger(ctx).Info("negotiation: session started")
	return &Start{Session: s.Clone(), Greeting: greeting}, nil
}

// Reply processes a player message for session id. audioRef is stored with
// the dialogue entry as given.
func (e *Engine) Reply(ctx context.Context, id, message, audioRef string) (*Turn, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	ctx = observe.WithSessionID(ctx, id)

	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Append(session.Entry{Speaker: session.SpeakerPlayer, Text: message, AudioRef: audioRef, At: e.now().UTC()})
	return e.process(ctx, e.Settings(), s, session.SpeakerPlayer)
}

// Autopilot generates the entrepreneur's next message for session id and
// processes it as a regular turn.
func (e *Engine) Autopilot(ctx context.Context, id string) (*Turn, error) {
	ctx = observe.WithSessionID(ctx, id)
	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	set := e.Settings()
	text, err := set.Analyzer.Autopilot(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("negotiation: autopilot %s: %w", id, err)
	}
	s.Append(session.Entry{Speaker: session.SpeakerAIEntrepreneur, Text: text, At: e.now().UTC()})

	turn, err := e.process(ctx, set, s, session.SpeakerAIEntrepreneur)
	if err != nil {
		return nil, err
	}
	turn.EntrepreneurMessage = text
	return turn, nil
}

// Get returns a snapshot of session id.
func (e *Engine) Get(ctx context.Context, id string) (*session.Session, error) {
	return e.load(ctx, id)
}

// Delete removes session id. It waits for a running turn of that session.
func (e *Engine) Delete(ctx context.Context, id string) error {
	ctx = observe.WithSessionID(ctx, id)
	unlock := e.locks.Lock(id)
	defer unlock()

	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("negotiation: delete session %s: %w", id, err)
	}
	observe.Logger(ctx).Info("negotiation: session deleted")
	return nil
}

func (e *Engine) load(ctx context.Context, id string) (*session.Session, error) {
	s, err := e.store.Get(ctx, id)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("negotiation: load session %s: %w", id, err)
	}
	return s, nil
}

// process runs the turn for the message just appended to s and persists s.
func (e *Engine) process(ctx context.Context, set Settings, s *session.Session, speaker session.Speaker) (*Turn, error) {
	stage := s.Stage

	e.score(ctx, set.Analyzer, s)
	t := Advance(ctx, s, set.Analyzer.ClassifyIntent)
	replies := e.respond(ctx, set, s)

	if err := e.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("negotiation: save session %s: %w", s.ID, err)
	}

	if e.metrics != nil {
		e.metrics.RecordTurn(ctx, string(stage), string(speaker))
		e.metrics.RecordStageTransition(ctx, string(t.From), string(t.To))
	}
	log := observe.Logger(ctx)
	if t.Changed() {
		log.Info("negotiation: stage changed", "from", string(t.From), "to", string(t.To))
	}
	log.Debug("negotiation: turn processed", "stage", string(s.Stage), "replies", len(replies))

	return &Turn{Session: s.Clone(), Replies: replies, Transition: t}, nil
}

// score rescores every judge still in, concurrently. A failed score leaves
// that judge unchanged. Closure freezes the panel.
func (e *Engine) score(ctx context.Context, a Analyzer, s *session.Session) {
	if s.Stage == session.StageClosure {
		return
	}

	type result struct {
		score int
		ok    bool
	}
	results := make([]result, len(s.Judges))

	var g errgroup.Group
	for i := range s.Judges {
		if s.Judges[i].Out() {
			continue
		}
		g.Go(func() error {
			score, err := a.ScoreConviction(ctx, s, &s.Judges[i])
			if err != nil {
				observe.Logger(ctx).Warn("negotiation: score discarded",
					"judge_id", s.Judges[i].ID, "err", err)
				return nil
			}
			results[i] = result{score: score, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if !r.ok {
			continue
		}
		j := &s.Judges[i]
		old := j.Conviction
		j.SetConviction(judge.Smooth(old, r.score))
		if j.Out() {
			j.Offer = nil
		}
		observe.Logger(ctx).Debug("negotiation: conviction updated",
			"judge_id", j.ID, "score", r.score, "from", old, "to", j.Conviction)
	}
}

// respond generates the replies of the selected judges in order. The second
// responder is told to follow up on the first.
func (e *Engine) respond(ctx context.Context, set Settings, s *session.Session) []JudgeReply {
	order := SelectResponders(s)
	replies := make([]JudgeReply, 0, len(order))

	var lead *analysis.Lead
	for _, i := range order {
		j := &s.Judges[i]
		r := set.Analyzer.GenerateReply(ctx, s, j, lead)

		switch {
		case r.Out:
			observe.Logger(ctx).Info("negotiation: judge is out", "judge_id", j.ID)
			if s.Stage == session.StageClosure {
				// Offers are frozen; only the conviction drops.
				j.SetConviction(0)
			} else {
				j.DropOut()
			}
		case s.Stage == session.StageInitialOffers && !r.Fallback:
			e.extract(ctx, set.Analyzer, s, j, r.Text)
		}
		if strings.Contains(r.Text, "?") {
			j.QuestionsAsked++
		}

		s.Append(session.Entry{Speaker: session.SpeakerJudge, JudgeID: j.ID, Text: r.Text, At: e.now().UTC()})
		replies = append(replies, JudgeReply{
			JudgeID: j.ID,
			Name:    j.Name,
			Text:    r.Text,
			Audio:   e.voice(ctx, set, j, r.Text),
			Out:     r.Out,
		})
		if lead == nil {
			lead = &analysis.Lead{Name: j.Name, Text: r.Text}
		}
	}
	return replies
}

// extract records the offer a judge stated. No offer, or a failed
// extraction, leaves the standing offer alone.
func (e *Engine) extract(ctx context.Context, a Analyzer, s *session.Session, j *judge.Judge, text string) {
	offer, err := a.ExtractOffer(ctx, text)
	if err != nil {
		observe.Logger(ctx).Warn("negotiation: offer extraction failed",
			"judge_id", j.ID, "err", err)
		return
	}
	if offer == nil {
		return
	}
	offer.Final = false
	j.Offer = offer
}

// voice synthesises text for j when voicing is on. Failures only cost the
// audio.
func (e *Engine) voice(ctx context.Context, set Settings, j *judge.Judge, text string) string {
	if set.Voice == nil || j.VoiceID == "" || text == "" {
		return ""
	}
	audio, err := set.Voice.Synthesize(ctx, j.VoiceID, text)
	if err != nil {
		observe.Logger(ctx).Warn("negotiation: voice synthesis failed", "judge_id", j.ID, "err", err)
		return ""
	}
	return audio
}
