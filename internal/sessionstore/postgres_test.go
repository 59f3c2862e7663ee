package sessionstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/session"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if FISHTANK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FISHTANK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FISHTANK_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestPostgres drops the sessions table and returns a fresh store.
func newTestPostgres(t *testing.T, opts ...PostgresOption) *Postgres {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS fishtank_sessions"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	p, err := NewPostgres(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPostgres_RoundTrip(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	s := session.New("pg-1", judge.Default().Clone(), time.Now().UTC().Truncate(time.Microsecond))
	s.Append(session.Entry{Speaker: session.SpeakerPlayer, Text: "We sell socks.", At: s.CreatedAt})
	s.Judges[1].Offer = &judge.Offer{Amount: 120_000, Equity: 22}

	if err := p.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := p.Get(ctx, "pg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Dialogue) != 1 || got.Dialogue[0].Text != "We sell socks." {
		t.Errorf("dialogue = %+v", got.Dialogue)
	}
	if got.Judges[1].Offer == nil || got.Judges[1].Offer.Amount != 120_000 {
		t.Errorf("offer = %+v", got.Judges[1].Offer)
	}

	s.Stage = session.StageInitialOffers
	if err := p.Put(ctx, s); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, _ = p.Get(ctx, "pg-1")
	if got.Stage != session.StageInitialOffers {
		t.Errorf("Stage = %q, want initial_offers after upsert", got.Stage)
	}
	if n, _ := p.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestPostgres_NotFound(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if err := p.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_SweepExpired(t *testing.T) {
	var live int
	p := newTestPostgres(t,
		WithPostgresTTL(time.Second),
		WithPostgresSweepInterval(time.Hour),
		WithPostgresOnCount(func(delta int) { live += delta }),
	)
	ctx := context.Background()

	_ = p.Put(ctx, session.New("pg-old", judge.Default().Clone(), time.Now()))
	if _, err := p.pool.Exec(ctx,
		"UPDATE fishtank_sessions SET updated_at = now() - interval '1 hour' WHERE id = 'pg-old'"); err != nil {
		t.Fatalf("age row: %v", err)
	}

	if _, err := p.Get(ctx, "pg-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired Get err = %v, want ErrNotFound", err)
	}
	n, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || live != 0 {
		t.Errorf("Sweep removed %d (live count %d), want 1 removed and 0 live", n, live)
	}
}

func TestPostgres_CountsInsertsNotUpdates(t *testing.T) {
	var live int
	p := newTestPostgres(t, WithPostgresOnCount(func(delta int) { live += delta }))
	ctx := context.Background()

	s := session.New("pg-count", judge.Default().Clone(), time.Now().UTC())
	_ = p.Put(ctx, s)
	_ = p.Put(ctx, s)
	if live != 1 {
		t.Fatalf("live after insert and update = %d, want 1", live)
	}
	if err := p.Delete(ctx, "pg-count"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// A session written back after removal counts as live again.
	_ = p.Put(ctx, s)
	if live != 1 {
		t.Errorf("live after re-insert = %d, want 1", live)
	}
}
