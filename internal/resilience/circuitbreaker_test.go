package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errTest = errors.New("test error")

func fail(context.Context) error { return errTest }

func succeed(context.Context) error { return nil }

// fakeClock lets breaker tests step past the reset timeout without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk
}

// play runs a script against cb. Each letter is one step: f fails, s
// succeeds, c is a cancelled call, t times out, w waits past the reset
// timeout and r resets.
func play(t *testing.T, cb *CircuitBreaker, clk *fakeClock, script string) []error {
	t.Helper()
	ctx := context.Background()
	var errs []error
	for _, step := range script {
		switch step {
		case 'f':
			errs = append(errs, cb.Execute(ctx, fail))
		case 's':
			errs = append(errs, cb.Execute(ctx, succeed))
		case 'c':
			errs = append(errs, cb.Execute(ctx, func(context.Context) error { return context.Canceled }))
		case 't':
			errs = append(errs, cb.Execute(ctx, func(context.Context) error { return context.DeadlineExceeded }))
		case 'w':
			clk.Advance(cb.resetTimeout + time.Second)
		case 'r':
			cb.Reset()
		default:
			t.Fatalf("unknown step %q", step)
		}
	}
	return errs
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cfg := CircuitBreakerConfig{Name: "judges", MaxFailures: 3, ResetTimeout: 10 * time.Second, HalfOpenMax: 2}
	tests := []struct {
		script string
		want   State
	}{
		{script: "", want: StateClosed},
		{script: "ff", want: StateClosed},
		{script: "fff", want: StateOpen},
		{script: "ffsff", want: StateClosed},
		{script: "fffw", want: StateHalfOpen},
		{script: "fffws", want: StateHalfOpen},
		{script: "fffwss", want: StateClosed},
		{script: "fffwf", want: StateOpen},
		{script: "fffwsf", want: StateOpen},
		{script: "fffr", want: StateClosed},
		{script: "cccc", want: StateClosed},
		{script: "ttt", want: StateOpen},
	}
	for _, tt := range tests {
		t.Run("script="+tt.script, func(t *testing.T) {
			cb, clk := newTestBreaker(cfg)
			play(t, cb, clk, tt.script)
			if got := cb.State(); got != tt.want {
				t.Errorf("state after %q = %v, want %v", tt.script, got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	play(t, cb, clk, "f")

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("err = %v, called = %v; want ErrCircuitOpen without a call", err, called)
	}
}

func TestCircuitBreaker_ErrorsPassThrough(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 5})
	errs := play(t, cb, clk, "fsct")
	want := []error{errTest, nil, context.Canceled, context.DeadlineExceeded}
	for i := range want {
		if !errors.Is(errs[i], want[i]) {
			t.Errorf("step %d err = %v, want %v", i, errs[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	play(t, cb, clk, "fw")

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen while one is in flight", err)
	}
	close(release)
}

func TestCircuitBreaker_DoneContextSkipsCall(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v, called = %v; want context.Canceled without a call", err, called)
	}
}

func TestCircuitBreaker_PermanentErrorsAreNotFailures(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1})
	cb.permanent = func(err error) bool { return errors.Is(err, errTest) }

	play(t, cb, clk, "fff")
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after permanent errors", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})
	play(t, cb, clk, "fwsfr")

	want := []string{
		"llm:closed->open",
		"llm:open->half-open",
		"llm:half-open->closed",
		"llm:closed->open",
		"llm:open->closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, transitions); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d failures, %v reset, %d probes; want 5, 30s, 3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed || cb.Name() != "test" {
		t.Errorf("state %v name %q, want closed test", cb.State(), cb.Name())
	}
}

func TestState_String(t *testing.T) {
	var got []string
	for _, s := range []State{StateClosed, StateOpen, StateHalfOpen, State(99)} {
		got = append(got, s.String())
	}
	if s := strings.Join(got, ","); s != "closed,open,half-open,unknown" {
		t.Errorf("State strings = %s", s)
	}
}
