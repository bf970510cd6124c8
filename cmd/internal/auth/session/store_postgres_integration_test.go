package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aegis/cmd/identity"
)

// Integration tests are opt-in and require AEGIS_DATABASE_URL.

func TestPostgresStore_FingerprintUnique(t *testing.T) {
	t.Parallel()

	pool, schema, store := mustSessionStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	accountID := mustSeedAccount(t, pool, schema)
	now := time.Now().UTC()

	first := testRow(t, accountID, Device{UserAgent: "ua-1", IP: "203.0.113.1"}, now)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := testRow(t, accountID, Device{UserAgent: "ua-1", IP: "203.0.113.1"}, now)
	if err := store.Create(ctx, dup); !errors.Is(err, ErrFingerprintConflict) {
		t.Fatalf("duplicate tuple: want ErrFingerprintConflict, got %v", err)
	}

	// Different IP is a different device.
	other := testRow(t, accountID, Device{UserAgent: "ua-1", IP: "203.0.113.2"}, now)
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}
}

func TestPostgresStore_RotateInPlace(t *testing.T) {
	t.Parallel()

	pool, schema, store := mustSessionStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	accountID := mustSeedAccount(t, pool, schema)
	now := time.Now().UTC()

	row := testRow(t, accountID, Device{UserAgent: "ua-rot", IP: "203.0.113.9"}, now)
	if err := store.Create(ctx, row); err != nil {
		t.Fatalf("create: %v", err)
	}

	newHash := strings.Repeat("d", 64)
	newExp := now.Add(7 * 24 * time.Hour).Truncate(time.Microsecond)
	later := now.Add(time.Minute).Truncate(time.Microsecond)
	if err := store.Rotate(ctx, row.ID, newHash, newExp, true, later); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	got, err := store.GetByID(ctx, row.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RefreshTokenHash != newHash || !got.RememberMe {
		t.Fatalf("rotate did not apply: %+v", got)
	}
	if got.UserAgent != row.UserAgent || got.IP != row.IP {
		t.Fatalf("rotate must not touch the device tuple")
	}

	// The old digest no longer resolves.
	if _, err := store.FindByRefreshHash(ctx, row.RefreshTokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old digest still resolves: %v", err)
	}
	if _, err := store.FindByRefreshHash(ctx, newHash); err != nil {
		t.Fatalf("new digest: %v", err)
	}

	if err := store.Rotate(ctx, "01HZMISSINGMISSINGMISSING0", newHash, newExp, false, later); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("rotate missing: want ErrSessionNotFound, got %v", err)
	}
}

func TestPostgresStore_DeleteByAccountExcept(t *testing.T) {
	t.Parallel()

	pool, schema, store := mustSessionStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	accountID := mustSeedAccount(t, pool, schema)
	now := time.Now().UTC()

	var keepHash string
	for i := 0; i < 3; i++ {
		row := testRow(t, accountID, Device{UserAgent: fmt.Sprintf("ua-%d", i), IP: "203.0.113.7"}, now)
		if err := store.Create(ctx, row); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if i == 1 {
			keepHash = row.RefreshTokenHash
		}
	}

	if err := store.DeleteByAccount(ctx, accountID, keepHash); err != nil {
		t.Fatalf("delete except: %v", err)
	}
	rows, err := store.ListByAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].RefreshTokenHash != keepHash {
		t.Fatalf("expected only the spared row, got %d", len(rows))
	}

	if err := store.DeleteByAccount(ctx, accountID, ""); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n, _ := store.CountByAccount(ctx, accountID); n != 0 {
		t.Fatalf("delete all left %d rows", n)
	}
}

// ---- helpers ----

func testRow(t *testing.T, accountID string, dev Device, now time.Time) Session {
	t.Helper()
	id, err := identity.NewULID(now)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	// Digests must be unique across rows; pad the ULID out to 64 chars.
	hash := strings.Repeat("0", 64-len(id)) + strings.ToLower(id)
	return Session{
		ID:               id,
		AccountID:        accountID,
		UserAgent:        dev.UserAgent,
		IP:               dev.IP,
		RefreshTokenHash: hash,
		ExpiresAt:        now.Add(24 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func mustSessionStore(t *testing.T) (*pgxpool.Pool, string, *PostgresStore) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("AEGIS_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: AEGIS_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if c, err := pool.Acquire(pingCtx); err != nil {
		pool.Close()
		t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		return nil, "", nil
	} else {
		c.Release()
	}

	id, err := identity.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "aegis_it_" + strings.ToLower(id)
	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = pool.Exec(dctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	accounts := pgx.Identifier{schema, "accounts"}.Sanitize()
	sessions := pgx.Identifier{schema, "sessions"}.Sanitize()
	ddl := fmt.Sprintf(`
CREATE TABLE %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  full_name TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_accounts_email UNIQUE (email)
);
CREATE TABLE %s (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  user_agent TEXT NOT NULL,
  ip TEXT NOT NULL,
  refresh_token_hash TEXT NOT NULL,
  remember_me BOOLEAN NOT NULL DEFAULT FALSE,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_sessions_refresh_token_hash UNIQUE (refresh_token_hash),
  CONSTRAINT uq_sessions_fingerprint UNIQUE (account_id, user_agent, ip)
);
`, accounts, sessions, accounts)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	store, err := NewPostgresStore(pool, schema)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return pool, schema, store
}

func mustSeedAccount(t *testing.T, pool *pgxpool.Pool, schema string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := identity.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	accounts := pgx.Identifier{schema, "accounts"}.Sanitize()
	_, err = pool.Exec(ctx,
		`INSERT INTO `+accounts+` (id, email, full_name) VALUES ($1, $2, 'Test Account')`,
		id, strings.ToLower(id)+"@example.com")
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return id
}
