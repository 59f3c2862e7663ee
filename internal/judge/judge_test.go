package judge

import (
	"errors"
	"testing"
)

func TestSmooth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		old, score, want int
	}{
		{50, 10, 65}, // 35 + 30
		{50, 0, 35},
		{30, 7, 42}, // 21 + 21
		{55, 5, 54}, // 38.5 + 15 = 53.5 rounds up
		{0, 0, 0},
		{100, 10, 100},
	}
	for _, tt := range tests {
		if got := Smooth(tt.old, tt.score); got != tt.want {
			t.Errorf("Smooth(%d, %d) = %d, want %d", tt.old, tt.score, got, tt.want)
		}
	}
}

func TestSmooth_StaysInRange(t *testing.T) {
	t.Parallel()
	for old := 0; old <= MaxConviction; old++ {
		for score := 0; score <= 10; score++ {
			got := Smooth(old, score)
			if got < 0 || got > MaxConviction {
				t.Fatalf("Smooth(%d, %d) = %d, out of range", old, score, got)
			}
		}
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()
	for in, want := range map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 250: 100} {
		if got := Clamp(in); got != want {
			t.Errorf("Clamp(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestJudge_OutAndInterested(t *testing.T) {
	t.Parallel()
	j := Judge{Conviction: 19}
	if !j.Out() {
		t.Error("conviction 19 should be out")
	}
	j.Conviction = 20
	if j.Out() {
		t.Error("conviction 20 should not be out")
	}
	if j.Interested() {
		t.Error("conviction 20 should not be interested")
	}
	j.Conviction = 50
	if !j.Interested() {
		t.Error("conviction 50 should be interested")
	}
}

func TestJudge_DropOut(t *testing.T) {
	t.Parallel()
	j := Judge{Conviction: 70, Offer: &Offer{Amount: 140_000, Equity: 19}}
	j.DropOut()
	if j.Conviction != 0 {
		t.Errorf("Conviction = %d, want 0", j.Conviction)
	}
	if j.Offer != nil {
		t.Errorf("Offer = %+v, want nil", j.Offer)
	}
}

func TestJudge_CloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := Judge{ID: "a", Offer: &Offer{Amount: 100}}
	cp := orig.Clone()
	cp.Offer.Amount = 999
	if orig.Offer.Amount != 100 {
		t.Errorf("mutating the clone changed the original offer to %d", orig.Offer.Amount)
	}
}

func TestDefault_Panel(t *testing.T) {
	t.Parallel()
	r := Default()
	defs := r.Definitions()
	if len(defs) != PanelSize {
		t.Fatalf("default panel has %d judges, want %d", len(defs), PanelSize)
	}
	want := []string{"marcus", "lena", "victor"}
	for i, d := range defs {
		if d.ID != want[i] {
			t.Errorf("defs[%d].ID = %q, want %q", i, d.ID, want[i])
		}
	}
}

func TestRegistry_CloneIndependent(t *testing.T) {
	t.Parallel()
	r := Default()
	a := r.Clone()
	b := r.Clone()
	a[0].Conviction = 99
	a[0].Offer = &Offer{Amount: 1}
	if b[0].Conviction == 99 || b[0].Offer != nil {
		t.Error("sessions share judge state")
	}
	if r.Clone()[0].Conviction == 99 {
		t.Error("registry was mutated through a clone")
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	t.Parallel()
	valid := func() []Definition {
		return []Definition{
			{ID: "a", Name: "A", Persona: "p"},
			{ID: "b", Name: "B", Persona: "p"},
			{ID: "c", Name: "C", Persona: "p"},
		}
	}
	tests := []struct {
		name   string
		mutate func([]Definition) []Definition
	}{
		{"two judges", func(d []Definition) []Definition { return d[:2] }},
		{"empty id", func(d []Definition) []Definition { d[1].ID = ""; return d }},
		{"duplicate id", func(d []Definition) []Definition { d[2].ID = "a"; return d }},
		{"no persona", func(d []Definition) []Definition { d[0].Persona = ""; return d }},
		{"conviction too high", func(d []Definition) []Definition { d[0].Conviction = 101; return d }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRegistry(tt.mutate(valid()))
			if !errors.Is(err, ErrInvalidPanel) {
				t.Errorf("err = %v, want ErrInvalidPanel", err)
			}
		})
	}

	if _, err := NewRegistry(valid()); err != nil {
		t.Errorf("valid panel rejected: %v", err)
	}
}

func TestNewRegistry_CopiesInput(t *testing.T) {
	t.Parallel()
	defs := []Definition{
		{ID: "a", Name: "A", Persona: "p"},
		{ID: "b", Name: "B", Persona: "p"},
		{ID: "c", Name: "C", Persona: "p"},
	}
	r, err := NewRegistry(defs)
	if err != nil {
		t.Fatal(err)
	}
	defs[0].ID = "changed"
	if r.Definitions()[0].ID != "a" {
		t.Error("registry aliases the caller's slice")
	}
}

func TestOffer_String(t *testing.T) {
	t.Parallel()
	o := Offer{Amount: 110_000, Equity: 23.5}
	if got, want := o.String(), "$110000 for 23.5%"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
