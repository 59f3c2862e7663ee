// Package judge defines the Fish Tank judge panel: the fixed, ordered set of
// investor personas a player pitches to, and the per-session judge state
// derived from it.
//
// A [Registry] is immutable after construction. Sessions call
// [Registry.Clone] to obtain their own deep copy of the panel, so mutating a
// session's judges never affects the registry or other sessions. Panel order
// is significant: it decides who speaks first during evaluation and breaks
// conviction ties everywhere else.
package judge

import (
	"errors"
	"fmt"
	"math"
)

const (
	// PanelSize is the number of judges on every panel.
	PanelSize = 3

	// OutFloor is the conviction below which a judge is out of the deal.
	OutFloor = 20

	// OfferThreshold is the conviction at which a judge is willing to make
	// or keep an offer.
	OfferThreshold = 50

	// MaxConviction is the upper bound of the conviction scale.
	MaxConviction = 100
)

// Offer is a judge's proposal: Amount US dollars for Equity percent of the
// business. A final offer is no longer open to negotiation.
type Offer struct {
	Amount int64   `json:"amount"`
	Equity float64 `json:"equity"`
	Final  bool    `json:"final"`
}

// String formats the offer the way judges say it.
func (o Offer) String() string {
	return fmt.Sprintf("$%d for %.1f%%", o.Amount, o.Equity)
}

// Definition is the static description of one judge.
type Definition struct {
	ID      string
	Name    string
	VoiceID string
	Persona string

	// Style is a short prompt hint describing how the judge talks.
	Style string

	// Conviction is the starting conviction for new sessions.
	Conviction int
}

// Judge is the per-session state of one judge.
type Judge struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	VoiceID        string `json:"voice_id,omitempty"`
	Persona        string `json:"persona"`
	Style          string `json:"style,omitempty"`
	Conviction     int    `json:"conviction"`
	QuestionsAsked int    `json:"questions_asked"`
	Offer          *Offer `json:"offer,omitempty"`
}

// Out reports whether the judge has dropped out of the deal.
func (j *Judge) Out() bool { return j.Conviction < OutFloor }

// Interested reports whether the judge is at or above [OfferThreshold].
func (j *Judge) Interested() bool { return j.Conviction >= OfferThreshold }

// SetConviction stores v clamped to [0, MaxConviction].
func (j *Judge) SetConviction(v int) { j.Conviction = Clamp(v) }

// DropOut zeroes the judge's conviction and withdraws any offer.
func (j *Judge) DropOut() {
	j.Conviction = 0
	j.Offer = nil
}

// Clone returns a deep copy of j.
func (j Judge) Clone() Judge {
	if j.Offer != nil {
		o := *j.Offer
		j.Offer = &o
	}
	return j
}

// Clamp bounds v to the conviction scale.
func Clamp(v int) int {
	return min(max(v, 0), MaxConviction)
}

// Smooth folds a 0..10 model score into the running conviction:
// round(old*0.7 + score*10*0.3), clamped. Callers validate score.
func Smooth(old, score int) int {
	return Clamp(int(math.Round(float64(old)*0.7 + float64(score)*10*0.3)))
}

// Registry is an immutable, ordered judge panel.
type Registry struct {
	defs []Definition
}

// ErrInvalidPanel is wrapped by [NewRegistry] for malformed panels.
var ErrInvalidPanel = errors.New("judge: invalid panel")

// NewRegistry validates defs and returns a registry preserving their order.
func NewRegistry(defs []Definition) (*Registry, error) {
	if len(defs) != PanelSize {
		return nil, fmt.Errorf("%w: want %d judges, got %d", ErrInvalidPanel, PanelSize, len(defs))
	}
	var errs []error
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Errorf("%w: judge %d has no id", ErrInvalidPanel, i))
		case seen[d.ID]:
			errs = append(errs, fmt.Errorf("%w: duplicate judge id %q", ErrInvalidPanel, d.ID))
		}
		seen[d.ID] = true
		if d.Name == "" || d.Persona == "" {
			errs = append(errs, fmt.Errorf("%w: judge %q needs a name and a persona", ErrInvalidPanel, d.ID))
		}
		if d.Conviction != Clamp(d.Conviction) {
			errs = append(errs, fmt.Errorf("%w: judge %q conviction %d out of range", ErrInvalidPanel, d.ID, d.Conviction))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Registry{defs: append([]Definition(nil), defs...)}, nil
}

// Default returns the built-in panel.
func Default() *Registry {
	r, err := NewRegistry(defaultPanel)
	if err != nil {
		panic("judge: built-in panel is invalid: " + err.Error())
	}
	return r
}

// Definitions returns a copy of the panel in order.
func (r *Registry) Definitions() []Definition {
	return append([]Definition(nil), r.defs...)
}

// Clone returns fresh session judges in panel order.
func (r *Registry) Clone() []Judge {
	out := make([]Judge, len(r.defs))
	for i, d := range r.defs {
		out[i] = Judge{
			ID:         d.ID,
			Name:       d.Name,
			VoiceID:    d.VoiceID,
			Persona:    d.Persona,
			Style:      d.Style,
			Conviction: d.Conviction,
		}
	}
	return out
}

var defaultPanel = []Definition{
	{
		ID:         "marcus",
		Name:       "Marcus Vale",
		VoiceID:    "pNInz6obpgDQGcFmaJgB",
		Persona:    "A self-made software billionaire who backs founders with technical depth and a path to scale. Impatient with vague answers about margins or customer acquisition.",
		Style:      "direct, fast, asks about scale and defensibility",
		Conviction: 35,
	},
	{
		ID:         "lena",
		Name:       "Lena Ortiz",
		VoiceID:    "EXAVITQu4vr4xnSDxMaL",
		Persona:    "A consumer products mogul who has put hundreds of items on retail shelves. Cares about the founder's story, packaging and whether people will buy it twice.",
		Style:      "warm but probing, asks about customers and retail",
		Conviction: 30,
	},
	{
		ID:         "victor",
		Name:       "Victor Crane",
		VoiceID:    "VR6AewLTigWG4xSOukaG",
		Persona:    "A cold-eyed financier who only cares about getting his money back with interest. Loves royalties, hates inflated valuations.",
		Style:      "blunt, sardonic, always talks numbers",
		Conviction: 25,
	},
}
