package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/fishtank/internal/session"
)

var _ Store = (*Postgres)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS fishtank_sessions (
    id          TEXT         PRIMARY KEY,
    data        JSONB        NOT NULL,
    stage       TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fishtank_sessions_updated_at
    ON fishtank_sessions (updated_at);
`

// Postgres is a [Store] backed by a single JSONB table. Idle rows are
// deleted by a janitor goroutine and ignored by Get once expired.
type Postgres struct {
	pool    *pgxpool.Pool
	ttl     time.Duration
	sweep   time.Duration
	onCount CountFunc

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// PostgresOption configures a [Postgres] store.
type PostgresOption func(*Postgres)

// WithPostgresTTL sets how long an unwritten session survives. Zero or
// negative disables eviction.
func WithPostgresTTL(d time.Duration) PostgresOption {
	return func(p *Postgres) { p.ttl = d }
}

// WithPostgresSweepInterval sets how often expired rows are deleted.
func WithPostgresSweepInterval(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		if d > 0 {
			p.sweep = d
		}
	}
}

// WithPostgresOnCount registers a callback for every change in the number of
// stored rows.
func WithPostgresOnCount(fn CountFunc) PostgresOption {
	return func(p *Postgres) { p.onCount = fn }
}

// NewPostgres connects to dsn, creates the sessions table if needed and
// starts the janitor when a TTL is set.
func NewPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionstore: migrate: %w", err)
	}

	p := &Postgres{
		pool:  pool,
		sweep: time.Minute,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ttl > 0 {
		p.wg.Add(1)
		go p.janitor()
	}
	return p, nil
}

// Get implements [Store].
func (p *Postgres) Get(ctx context.Context, id string) (*session.Session, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM fishtank_sessions WHERE id = $1 AND ($2::timestamptz IS NULL OR updated_at > $2)`,
		id, p.cutoff(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get %q: %w", id, err)
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sessionstore: decode %q: %w", id, err)
	}
	return &s, nil
}

// Put implements [Store].
func (p *Postgres) Put(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessionstore: encode %q: %w", s.ID, err)
	}
	// xmax is zero only for a freshly inserted row.
	const q = `
INSERT INTO fishtank_sessions (id, data, stage, created_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE
    SET data = EXCLUDED.data, stage = EXCLUDED.stage, updated_at = now()
RETURNING (xmax = 0)`
	var inserted bool
	if err := p.pool.QueryRow(ctx, q, s.ID, data, string(s.Stage), s.CreatedAt).Scan(&inserted); err != nil {
		return fmt.Errorf("sessionstore: put %q: %w", s.ID, err)
	}
	if inserted {
		p.counted(1)
	}
	return nil
}

// Delete implements [Store].
func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM fishtank_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sessionstore: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	p.counted(-1)
	return nil
}

// Len implements [Store].
func (p *Postgres) Len(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM fishtank_sessions WHERE $1::timestamptz IS NULL OR updated_at > $1`,
		p.cutoff(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: count: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close stops the janitor and closes the pool.
func (p *Postgres) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.pool.Close()
	})
	return nil
}

// Sweep deletes expired rows and returns how many it deleted.
func (p *Postgres) Sweep(ctx context.Context) (int, error) {
	cutoff := p.cutoff()
	if cutoff == nil {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM fishtank_sessions WHERE updated_at <= $1`, *cutoff)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: sweep: %w", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		p.counted(-n)
	}
	return n, nil
}

func (p *Postgres) janitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.sweep)
			n, err := p.Sweep(ctx)
			cancel()
			if err != nil {
				slog.Warn("sessionstore: sweep failed", "err", err)
			} else if n > 0 {
				slog.Debug("sessionstore: evicted idle sessions", "count", n)
			}
		}
	}
}

// cutoff is the oldest updated_at still alive, or nil without a TTL.
func (p *Postgres) cutoff() *time.Time {
	if p.ttl <= 0 {
		return nil
	}
	c := time.Now().Add(-p.ttl)
	return &c
}

func (p *Postgres) counted(delta int) {
	if p.onCount != nil {
		p.onCount(delta)
	}
}
