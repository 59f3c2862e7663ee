package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/session"
	"github.com/MrWong99/fishtank/internal/sessionstore"
)

// fakeAnalyzer scripts model answers per judge and records what it saw.
type fakeAnalyzer struct {
	mu sync.Mutex

	scores     map[string]int // missing judge id => scoring error
	replies    map[string]string
	offers     map[string]*judge.Offer // keyed by reply text
	intent     analysis.Intent
	intentErr  error
	autopilot  string
	autoErr    error
	scoreDelay time.Duration

	scored      map[string]int
	leads       []*analysis.Lead
	classified  int
	inFlight    int
	maxInFlight int
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		scores:  map[string]int{"marcus": 5, "lena": 5, "victor": 5},
		replies: map[string]string{},
		offers:  map[string]*judge.Offer{},
		scored:  map[string]int{},
	}
}

func (f *fakeAnalyzer) ScoreConviction(_ context.Context, _ *session.Session, j *judge.Judge) (int, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.scored[j.ID]++
	score, ok := f.scores[j.ID]
	delay := f.scoreDelay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: no score", analysis.ErrMalformed)
	}
	return score, nil
}

func (f *fakeAnalyzer) ExtractOffer(_ context.Context, reply string) (*judge.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[reply]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeAnalyzer) GenerateReply(_ context.Context, _ *session.Session, j *judge.Judge, lead *analysis.Lead) analysis.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, lead)
	text, ok := f.replies[j.ID]
	if !ok {
		text = j.Name + " wants to know more?"
	}
	return analysis.Reply{Text: text, Out: analysis.IsOut(text)}
}

func (f *fakeAnalyzer) ClassifyIntent(context.Context, *session.Session) (analysis.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classified++
	return f.intent, f.intentErr
}

func (f *fakeAnalyzer) Autopilot(context.Context, *session.Session) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autopilot, f.autoErr
}

func (f *fakeAnalyzer) set(fn func(f *fakeAnalyzer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeVoice struct {
	err   error
	calls []string
	mu    sync.Mutex
}

func (v *fakeVoice) Synthesize(_ context.Context, voiceID, text string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, voiceID+":"+text)
	if v.err != nil {
		return "", v.err
	}
	return "UklGRg==", nil
}

// panel returns a registry with round convictions so smoothing stays exact.
func panel(t *testing.T, convictions ...int) *judge.Registry {
	t.Helper()
	defs := judge.Default().Definitions()
	for i, c := range convictions {
		defs[i].Conviction = c
	}
	r, err := judge.NewRegistry(defs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func newTestEngine(t *testing.T, a *fakeAnalyzer, reg *judge.Registry, opts ...Option) (*Engine, *sessionstore.Memory) {
	t.Helper()
	store := sessionstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithIDFunc(func() string { return "sess-1" })}, opts...)
	e, err := New(store, Settings{Analyzer: a, Panel: reg, Greeting: "Welcome to the tank."}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, store
}

func start(t *testing.T, e *Engine) string {
	t.Helper()
	st, err := e.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return st.Session.ID
}

func reply(t *testing.T, e *Engine, id, msg string) *Turn {
	t.Helper()
	turn, err := e.Reply(context.Background(), id, msg, "")
	if err != nil {
		t.Fatalf("Reply(%q): %v", msg, err)
	}
	return turn
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	store := sessionstore.NewMemory()
	defer store.Close()

	if _, err := New(nil, Settings{Analyzer: newFakeAnalyzer(), Panel: judge.Default()}); err == nil {
		t.Error("New(nil store) succeeded")
	}
	if _, err := New(store, Settings{}); err == nil {
		t.Error("New with empty settings succeeded")
	}
	e, err := New(store, Settings{Analyzer: newFakeAnalyzer(), Panel: judge.Default()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.UpdateSettings(Settings{Panel: judge.Default()}); err == nil {
		t.Error("UpdateSettings without analyzer succeeded")
	}
}

func TestStartSession(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t, newFakeAnalyzer(), judge.Default())

	st, err := e.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.Session.ID != "sess-1" {
		t.Errorf("ID = %q, want sess-1", st.Session.ID)
	}
	if st.Greeting.JudgeID != "marcus" || st.Greeting.Text != "Welcome to the tank." {
		t.Errorf("greeting = %+v, want first judge with configured text", st.Greeting)
	}
	if st.Greeting.Audio != "" {
		t.Errorf("greeting audio = %q, want none without a voice", st.Greeting.Audio)
	}
	if len(st.Session.Judges) != judge.PanelSize || st.Session.Stage != session.StageEvaluation {
		t.Errorf("session = %d judges in %s, want %d in evaluation", len(st.Session.Judges), st.Session.Stage, judge.PanelSize)
	}

	stored, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if len(stored.Dialogue) != 1 || stored.Dialogue[0].Speaker != session.SpeakerJudge || stored.Dialogue[0].JudgeID != "marcus" {
		t.Errorf("dialogue = %+v, want the greeting only", stored.Dialogue)
	}
}

func TestStartSession_DefaultIDsAreUnique(t *testing.T) {
	t.Parallel()
	store := sessionstore.NewMemory()
	defer store.Close()
	e, err := New(store, Settings{Analyzer: newFakeAnalyzer(), Panel: judge.Default()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := e.StartSession(context.Background())
	b, _ := e.StartSession(context.Background())
	if a.Session.ID == "" || a.Session.ID == b.Session.ID {
		t.Errorf("ids = %q, %q, want distinct non-empty", a.Session.ID, b.Session.ID)
	}
}

func TestReply_Errors(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, newFakeAnalyzer(), judge.Default())
	id := start(t, e)

	if _, err := e.Reply(context.Background(), id, "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty message err = %v, want ErrEmptyMessage", err)
	}
	if _, err := e.Reply(context.Background(), "nope", "hello", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v, want ErrSessionNotFound", err)
	}
	if _, err := e.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get err = %v, want ErrSessionNotFound", err)
	}
}

func TestReply_EvaluationTurn(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	e, _ := newTestEngine(t, a, panel(t, 30, 40, 50))
	id := start(t, e)

	turn, err := e.Reply(context.Background(), id, "We make solar backpacks.", "clip-1")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(turn.Replies) != 2 || turn.Replies[0].JudgeID != "marcus" || turn.Replies[1].JudgeID != "lena" {
		t.Fatalf("replies = %+v, want marcus then lena", turn.Replies)
	}
	if a.leads[0] != nil {
		t.Errorf("first responder got a lead: %+v", a.leads[0])
	}
	if a.leads[1] == nil || a.leads[1].Name != "Marcus Vale" || a.leads[1].Text != turn.Replies[0].Text {
		t.Errorf("second responder lead = %+v, want the first reply", a.leads[1])
	}

	want := []int{judge.Smooth(30, 5), judge.Smooth(40, 5), judge.Smooth(50, 5)}
	for i, w := range want {
		if got := turn.Session.Judges[i].Conviction; got != w {
			t.Errorf("judge %d conviction = %d, want %d", i, got, w)
		}
	}

	d := turn.Session.Dialogue
	if len(d) != 4 {
		t.Fatalf("dialogue length = %d, want 4", len(d))
	}
	if d[1].Speaker != session.SpeakerPlayer || d[1].AudioRef != "clip-1" {
		t.Errorf("player entry = %+v", d[1])
	}
	if d[2].JudgeID != "marcus" || d[3].JudgeID != "lena" {
		t.Errorf("judge entries = %+v, %+v", d[2], d[3])
	}
	if turn.Session.Judges[0].QuestionsAsked != 1 {
		t.Errorf("QuestionsAsked = %d, want 1", turn.Session.Judges[0].QuestionsAsked)
	}
}

func TestReply_ScoreFailureKeepsConviction(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	delete(a.scores, "lena")
	e, _ := newTestEngine(t, a, panel(t, 30, 40, 50))
	id := start(t, e)

	turn := reply(t, e, id, "hello")
	if got := turn.Session.Judges[1].Conviction; got != 40 {
		t.Errorf("lena conviction = %d, want unchanged 40", got)
	}
	if got := turn.Session.Judges[0].Conviction; got != judge.Smooth(30, 5) {
		t.Errorf("marcus conviction = %d, want rescored", got)
	}
}

func TestReply_OutJudgesAreNotScored(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	e, _ := newTestEngine(t, a, panel(t, 30, 40, 10))
	id := start(t, e)
	reply(t, e, id, "hello")
	if a.scored["victor"] != 0 {
		t.Errorf("victor scored %d times, want 0", a.scored["victor"])
	}
}

func TestReply_ScoresConcurrently(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scoreDelay = 20 * time.Millisecond
	e, _ := newTestEngine(t, a, judge.Default())
	id := start(t, e)
	reply(t, e, id, "hello")
	if a.maxInFlight < 2 {
		t.Errorf("max concurrent scoring calls = %d, want fan-out", a.maxInFlight)
	}
}

func TestReply_ImOutDropsJudge(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"Not for me. I'm out.", "For that valuation? I'm OUTTA this one."} {
		t.Run(text, func(t *testing.T) {
			a := newFakeAnalyzer()
			a.scores = map[string]int{"marcus": 10, "lena": 10, "victor": 10}
			a.replies["marcus"] = text
			e, _ := newTestEngine(t, a, panel(t, 90, 60, 30))
			id := start(t, e)

			turn := reply(t, e, id, "hello")
			m := turn.Session.Judges[0]
			if m.Conviction != 0 || m.Offer != nil {
				t.Errorf("marcus = conviction %d offer %v, want 0 and none", m.Conviction, m.Offer)
			}
			if !turn.Replies[0].Out || !m.Out() {
				t.Errorf("reply out = %v, judge out = %v; want both", turn.Replies[0].Out, m.Out())
			}
		})
	}
}

func TestReply_ImOutInClosureKeepsOffer(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scores = map[string]int{"marcus": 9, "lena": 9, "victor": 9}
	e, _ := newTestEngine(t, a, panel(t, 80, 80, 80))
	id := start(t, e)
	for i := range EvaluationTurns + 1 {
		reply(t, e, id, fmt.Sprintf("message %d", i))
	}
	a.set(func(f *fakeAnalyzer) { f.intent = analysis.Intent{IsAcceptance: true} })
	closed := reply(t, e, id, "Deal!")
	if closed.Session.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", closed.Session.Stage)
	}
	offer := *closed.Session.Judges[0].Offer
	accepted := *closed.Session.Accepted

	a.set(func(f *fakeAnalyzer) { f.replies["marcus"] = "Good luck. I'm out." })
	turn := reply(t, e, id, "Thanks!")
	m := turn.Session.Judges[0]
	if !turn.Replies[0].Out || m.Conviction != 0 {
		t.Errorf("reply out = %v, conviction = %d; want out with conviction 0", turn.Replies[0].Out, m.Conviction)
	}
	if m.Offer == nil || *m.Offer != offer {
		t.Errorf("offer = %v, want %v kept in closure", m.Offer, offer)
	}
	if turn.Session.Stage != session.StageClosure || *turn.Session.Accepted != accepted {
		t.Errorf("stage %s accepted %+v, want closure and %+v", turn.Session.Stage, turn.Session.Accepted, accepted)
	}
}

func TestReply_FullNegotiation(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scores = map[string]int{"marcus": 8, "lena": 2, "victor": 0}
	e, _ := newTestEngine(t, a, panel(t, 50, 40, 30))
	id := start(t, e)

	var turn *Turn
	for i := range EvaluationTurns {
		turn = reply(t, e, id, fmt.Sprintf("message %d", i))
		if i < EvaluationTurns-1 && turn.Session.Stage != session.StageEvaluation {
			t.Fatalf("message %d: stage = %s, want evaluation", i, turn.Session.Stage)
		}
	}
	s := turn.Session
	if s.Stage != session.StageInitialOffers {
		t.Fatalf("stage = %s, want initial_offers", s.Stage)
	}
	if s.Judges[0].Offer == nil || *s.Judges[0].Offer != InitialOffer(s.Judges[0].Conviction) {
		t.Errorf("marcus offer = %v, want the derived initial offer", s.Judges[0].Offer)
	}
	if s.Judges[1].Offer != nil {
		t.Errorf("lena offer = %v, want none", s.Judges[1].Offer)
	}
	if a.classified != 0 {
		t.Errorf("classified %d times during evaluation, want 0", a.classified)
	}

	// Offers on the table; the player rejects.
	turn = reply(t, e, id, "That's too low.")
	if turn.Session.Stage != session.StageNegotiation {
		t.Fatalf("stage = %s, want negotiation", turn.Session.Stage)
	}

	a.set(func(f *fakeAnalyzer) { f.intent = analysis.Intent{IsAcceptance: true} })
	turn = reply(t, e, id, "Deal!")
	s = turn.Session
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", s.Stage)
	}
	if s.Accepted == nil || s.Accepted.JudgeID != "marcus" || !s.Accepted.Offer.Final {
		t.Fatalf("accepted = %+v, want marcus's final offer", s.Accepted)
	}

	// Closure keeps processing turns without changing stage, offers or
	// scores.
	accepted := *s.Accepted
	convictions := []int{s.Judges[0].Conviction, s.Judges[1].Conviction, s.Judges[2].Conviction}
	for range 2 {
		turn = reply(t, e, id, "Thanks!")
		if turn.Session.Stage != session.StageClosure {
			t.Fatalf("stage = %s after closure", turn.Session.Stage)
		}
		if len(turn.Replies) == 0 {
			t.Error("no closing thoughts in closure")
		}
	}
	s = turn.Session
	if *s.Accepted != accepted {
		t.Errorf("accepted changed in closure: %+v", s.Accepted)
	}
	for i, c := range convictions {
		if s.Judges[i].Conviction != c {
			t.Errorf("judge %d conviction changed in closure: %d -> %d", i, c, s.Judges[i].Conviction)
		}
	}
	if s.Judges[0].Offer == nil {
		t.Error("closure withdrew an offer")
	}
}

func TestReply_InitialOffersExtraction(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scores = map[string]int{"marcus": 9, "lena": 9, "victor": 9}
	a.replies["marcus"] = "I'll do $90,000 for 25%."
	a.offers["I'll do $90,000 for 25%."] = &judge.Offer{Amount: 90000, Equity: 25}
	e, _ := newTestEngine(t, a, panel(t, 80, 80, 80))
	id := start(t, e)
	for i := range EvaluationTurns {
		reply(t, e, id, fmt.Sprintf("message %d", i))
	}

	s, err := e.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Stage != session.StageInitialOffers {
		t.Fatalf("stage = %s, want initial_offers", s.Stage)
	}
	if got := *s.Judges[0].Offer; got != (judge.Offer{Amount: 90000, Equity: 25}) {
		t.Errorf("marcus offer = %+v, want the stated offer", got)
	}
	// lena's reply names no terms, so her derived offer stays.
	if got := *s.Judges[1].Offer; got != InitialOffer(s.Judges[1].Conviction) {
		t.Errorf("lena offer = %+v, want derived", got)
	}
}

func TestReply_NegotiationRoundLimitForcesClosure(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scores = map[string]int{"marcus": 9, "lena": 9, "victor": 9}
	a.intentErr = errors.New("classifier down")
	e, _ := newTestEngine(t, a, panel(t, 80, 80, 80))
	id := start(t, e)

	var turn *Turn
	for i := range EvaluationTurns + 1 + MaxNegotiationRounds {
		turn = reply(t, e, id, fmt.Sprintf("message %d", i))
	}
	s := turn.Session
	if s.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", s.Stage)
	}
	if s.NegotiationRound != MaxNegotiationRounds {
		t.Errorf("NegotiationRound = %d, want %d", s.NegotiationRound, MaxNegotiationRounds)
	}
	if s.Accepted != nil {
		t.Errorf("accepted = %+v, want none", s.Accepted)
	}
	for _, j := range s.Judges {
		if j.Offer != nil && !j.Offer.Final {
			t.Errorf("%s offer not final", j.ID)
		}
	}
}

func TestReply_NoRespondersGivesEmptyList(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scores = map[string]int{"marcus": 0, "lena": 0, "victor": 0}
	e, _ := newTestEngine(t, a, panel(t, 20, 20, 20))
	id := start(t, e)

	var turn *Turn
	for i := range EvaluationTurns + 1 {
		turn = reply(t, e, id, fmt.Sprintf("message %d", i))
	}
	if turn.Session.Stage != session.StageClosure {
		t.Fatalf("stage = %s, want closure", turn.Session.Stage)
	}
	if turn.Replies == nil || len(turn.Replies) != 0 {
		t.Errorf("replies = %#v, want empty non-nil list", turn.Replies)
	}
}

func TestReply_ConcurrentTurnsAreSerialised(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.scoreDelay = 5 * time.Millisecond
	a.scores = map[string]int{"marcus": 9, "lena": 9, "victor": 9}
	e, _ := newTestEngine(t, a, panel(t, 80, 80, 80))
	id := start(t, e)
	for i := range EvaluationTurns + 1 {
		reply(t, e, id, fmt.Sprintf("setup %d", i))
	}

	const n = 2
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Go(func() {
			_, err := e.Reply(context.Background(), id, fmt.Sprintf("concurrent %d", i), "")
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Reply: %v", err)
		}
	}

	s, err := e.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.NegotiationRound != n {
		t.Errorf("NegotiationRound = %d, want %d (lost update)", s.NegotiationRound, n)
	}
	players := 0
	for _, d := range s.Dialogue {
		if d.Speaker == session.SpeakerPlayer && strings.HasPrefix(d.Text, "concurrent") {
			players++
		}
	}
	if players != n {
		t.Errorf("concurrent player entries = %d, want %d", players, n)
	}
	if e.locks.size() != 0 {
		t.Errorf("lock table holds %d keys after all turns", e.locks.size())
	}
}

func TestAutopilot(t *testing.T) {
	t.Parallel()
	a := newFakeAnalyzer()
	a.autopilot = "Our margins are sixty percent."
	e, _ := newTestEngine(t, a, judge.Default())
	id := start(t, e)

	turn, err := e.Autopilot(context.Background(), id)
	if err != nil {
		t.Fatalf("Autopilot: %v", err)
	}
	if turn.EntrepreneurMessage != a.autopilot {
		t.Errorf("EntrepreneurMessage = %q", turn.EntrepreneurMessage)
	}
	if d := turn.Session.Dialogue[1]; d.Speaker != session.SpeakerAIEntrepreneur || d.Text != a.autopilot {
		t.Errorf("entry = %+v, want ai_entrepreneur line", d)
	}
	if turn.Session.EvaluationResponses != 1 || len(turn.Replies) != 2 {
		t.Errorf("autopilot turn not processed like a reply: %d responses, %d replies", turn.Session.EvaluationResponses, len(turn.Replies))
	}

	a.set(func(f *fakeAnalyzer) { f.autoErr = errors.New("llm down") })
	if _, err := e.Autopilot(context.Background(), id); err == nil {
		t.Error("Autopilot succeeded with a failing model")
	}
	if _, err := e.Autopilot(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, newFakeAnalyzer(), judge.Default())
	id := start(t, e)

	if err := e.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Get(context.Background(), id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete err = %v, want ErrSessionNotFound", err)
	}
	if err := e.Delete(context.Background(), id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestVoice(t *testing.T) {
	t.Parallel()
	v := &fakeVoice{}
	store := sessionstore.NewMemory()
	defer store.Close()
	e, err := New(store, Settings{Analyzer: newFakeAnalyzer(), Panel: judge.Default(), Greeting: "Hi.", Voice: v})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := e.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.Greeting.Audio == "" {
		t.Error("greeting not voiced")
	}
	turn := reply(t, e, st.Session.ID, "hello")
	for _, r := range turn.Replies {
		if r.Audio != "UklGRg==" {
			t.Errorf("%s audio = %q", r.JudgeID, r.Audio)
		}
	}
	if len(v.calls) != 3 || !strings.HasPrefix(v.calls[0], judge.Default().Definitions()[0].VoiceID+":") {
		t.Errorf("synth calls = %v", v.calls)
	}

	v.mu.Lock()
	v.err = errors.New("tts down")
	v.mu.Unlock()
	turn = reply(t, e, st.Session.ID, "again")
	if len(turn.Replies) == 0 || turn.Replies[0].Audio != "" {
		t.Errorf("replies = %+v, want text-only after a synthesis failure", turn.Replies)
	}
}

func TestUpdateSettings_SwapsGreeting(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, newFakeAnalyzer(), judge.Default())
	set := e.Settings()
	set.Greeting = "New greeting."
	if err := e.UpdateSettings(set); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	st, err := e.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.Greeting.Text != "New greeting." {
		t.Errorf("greeting = %q, want the updated one", st.Greeting.Text)
	}
}
