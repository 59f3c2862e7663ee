// Package coach is the voice coach: it transcribes an uploaded recording and
// asks the chat model for grammar feedback on what was said.
//
// Results are cached on disk by the SHA-256 of the recording and the
// language hint, so re-uploading the same clip costs no provider calls.
package coach

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/types"
)

// Reviewer produces grammar feedback. [*analysis.Analyzer] implements it.
type Reviewer interface {
	GrammarFeedback(ctx context.Context, transcript string) (analysis.Feedback, error)
}

var _ Reviewer = (*analysis.Analyzer)(nil)

// Word is one transcript token. Start and End are seconds and are omitted
// when the provider reported no timing.
type Word struct {
	Text  string   `json:"text"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
	Type  string   `json:"type"`
}

// Result is the outcome of one analysis.
type Result struct {
	Transcript string            `json:"transcript"`
	Language   string            `json:"language,omitempty"`
	Words      []Word            `json:"words"`
	Feedback   analysis.Feedback `json:"feedback"`
	Cached     bool              `json:"cached"`
}

// Upload is a recording to analyse.
type Upload struct {
	Audio       []byte
	ContentType string
	Filename    string
}

// Option is a functional option for configuring a [Coach].
type Option func(*Coach)

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(c *Coach) { c.language = lang }
}

// WithMetrics records STT latency and analysis counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// Coach runs analyses. It is safe for concurrent use.
type Coach struct {
	stt      stt.Provider
	reviewer Reviewer
	cache    *Cache
	language string
	metrics  *observe.Metrics
}

// New returns a coach. cache may be nil to disable caching.
func New(transcriber stt.Provider, reviewer Reviewer, cache *Cache, opts ...Option) *Coach {
	c := &Coach{stt: transcriber, reviewer: reviewer, cache: cache}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyze transcribes u and reviews the transcript. Transcription failure is
// returned as an error. A failed review degrades to the transcript with no
// issues and is not cached.
func (c *Coach) Analyze(ctx context.Context, u Upload) (*Result, error) {
	if len(u.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	log := observe.Logger(ctx)
	key := c.key(u.Audio)

	if c.cache != nil {
		if r, ok := c.cache.Load(key); ok {
			r.Cached = true
			c.record(ctx, true)
			log.Debug("coach: cache hit", "key", key)
			return r, nil
		}
	}

	start := time.Now()
	tr, err := c.stt.Transcribe(ctx, u.Audio, stt.Config{
		Language:    c.language,
		ContentType: u.ContentType,
		Filename:    u.Filename,
	})
	if c.metrics != nil {
		c.metrics.RecordTranscription(ctx, start, err)
	}
	if err != nil {
		return nil, fmt.Errorf("coach: transcribe: %w", err)
	}
	if tr == nil {
		tr = &types.Transcript{}
	}

	fb, err := c.reviewer.GrammarFeedback(ctx, tr.Text)
	if err != nil {
		log.Warn("coach: grammar feedback failed", "err", err)
		fb = analysis.Feedback{Corrected: tr.Text, Issues: []analysis.Issue{}, Degraded: true}
	}

	r := &Result{
		Transcript: tr.Text,
		Language:   tr.Language,
		Words:      words(tr.Words),
		Feedback:   fb,
	}
	if c.cache != nil && !fb.Degraded {
		if err := c.cache.Store(key, r); err != nil {
			log.Warn("coach: cache write failed", "key", key, "err", err)
		}
	}
	c.record(ctx, false)
	log.Debug("coach: analysis complete", "key", key, "words", len(r.Words), "issues", len(fb.Issues))
	return r, nil
}

func (c *Coach) record(ctx context.Context, cached bool) {
	if c.metrics != nil {
		c.metrics.RecordCoachAnalysis(ctx, cached)
	}
}

// key hashes the recording together with the language hint.
func (c *Coach) key(audio []byte) string {
	h := sha256.New()
	h.Write(audio)
	h.Write([]byte{0})
	h.Write([]byte(c.language))
	return hex.EncodeToString(h.Sum(nil))
}

func words(in []types.WordDetail) []Word {
	out := make([]Word, 0, len(in))
	for _, w := range in {
		word := Word{Text: w.Text, Type: string(w.Type)}
		if word.Type == "" {
			word.Type = string(types.WordTypeWord)
		}
		if w.HasTiming {
			start, end := w.Start.Seconds(), w.End.Seconds()
			word.Start, word.End = &start, &end
		}
		out = append(out, word)
	}
	return out
}
