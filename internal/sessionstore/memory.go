package sessionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/fishtank/internal/session"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store]. A janitor goroutine purges sessions idle
// for longer than the TTL; Get also refuses expired sessions the janitor has
// not reached yet.
type Memory struct {
	ttl     time.Duration
	sweep   time.Duration
	now     func() time.Time
	onCount CountFunc

	mu    sync.Mutex
	items map[string]memItem

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type memItem struct {
	sess    *session.Session
	written time.Time
}

// MemoryOption configures a [Memory] store.
type MemoryOption func(*Memory)

// WithTTL sets how long an unwritten session survives. Zero or negative
// disables eviction.
func WithTTL(d time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = d }
}

// WithSweepInterval sets how often the janitor runs. Default: one minute.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.sweep = d
		}
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithOnCount registers a callback for every change in the number of stored
// sessions.
func WithOnCount(fn CountFunc) MemoryOption {
	return func(m *Memory) { m.onCount = fn }
}

// NewMemory returns a ready store. When a TTL is set the janitor starts
// immediately; call [Memory.Close] to stop it.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		sweep: time.Minute,
		now:   time.Now,
		items: make(map[string]memItem),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
	return m
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	it, ok := m.items[id]
	expired := ok && m.expired(it)
	if expired {
		delete(m.items, id)
	}
	m.mu.Unlock()

	if expired {
		m.counted(-1)
	}
	if !ok || expired {
		return nil, ErrNotFound
	}
	return it.sess.Clone(), nil
}

// Put implements [Store].
func (m *Memory) Put(_ context.Context, s *session.Session) error {
	cp := s.Clone()
	m.mu.Lock()
	_, held := m.items[s.ID]
	m.items[s.ID] = memItem{sess: cp, written: m.now()}
	m.mu.Unlock()
	if !held {
		m.counted(1)
	}
	return nil
}

// Delete implements [Store].
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.items[id]
	delete(m.items, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.counted(-1)
	return nil
}

// Len implements [Store]. Expired sessions awaiting a sweep are counted.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

// Close stops the janitor. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

// Sweep removes expired sessions and returns how many it removed.
func (m *Memory) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	n := 0
	for id, it := range m.items {
		if m.expired(it) {
			delete(m.items, id)
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		slog.Debug("sessionstore: evicted idle sessions", "count", n)
		m.counted(-n)
	}
	return n
}

func (m *Memory) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// expired must be called with mu held.
func (m *Memory) expired(it memItem) bool {
	return m.ttl > 0 && m.now().Sub(it.written) > m.ttl
}

func (m *Memory) counted(delta int) {
	if m.onCount != nil {
		m.onCount(delta)
	}
}
