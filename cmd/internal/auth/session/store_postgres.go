package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (aegis.sessions).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "aegis"
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

const sessionColumns = `id, account_id, user_agent, ip, refresh_token_hash, remember_me, expires_at, created_at, updated_at`

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (
			`+sessionColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		sess.ID, sess.AccountID, sess.UserAgent, sess.IP,
		sess.RefreshTokenHash, sess.RememberMe,
		sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt,
	)
	if isUniqueViolation(err, "fingerprint") {
		return ErrFingerprintConflict
	}
	if isUniqueViolation(err, "refresh_token_hash") {
		return ErrRefreshHashConflict
	}
	return err
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE id = $1
	`, sessionID)
	return scanSession(row)
}

// FindByFingerprint loads the session for a device tuple.
func (s *PostgresStore) FindByFingerprint(ctx context.Context, accountID string, dev Device) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE account_id = $1 AND user_agent = $2 AND ip = $3
	`, accountID, dev.UserAgent, dev.IP)
	return scanSession(row)
}

// FindByRefreshHash loads the session holding a refresh digest.
func (s *PostgresStore) FindByRefreshHash(ctx context.Context, refreshHash string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE refresh_token_hash = $1
	`, refreshHash)
	return scanSession(row)
}

// CountByAccount reports how many session rows an account holds.
func (s *PostgresStore) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM `+s.table()+` WHERE account_id = $1
	`, accountID).Scan(&n)
	return n, err
}

// Rotate replaces the refresh digest, expiry and remember-me policy in place.
func (s *PostgresStore) Rotate(ctx context.Context, sessionID, newRefreshHash string, expiresAt time.Time, rememberMe bool, now time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET refresh_token_hash = $2,
		    expires_at = $3,
		    remember_me = $4,
		    updated_at = $5
		WHERE id = $1
	`, sessionID, newRefreshHash, expiresAt, rememberMe, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a single session row (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+` WHERE id = $1
	`, sessionID)
	return err
}

// DeleteByRefreshHash removes the row holding a refresh digest (idempotent).
func (s *PostgresStore) DeleteByRefreshHash(ctx context.Context, refreshHash string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+` WHERE refresh_token_hash = $1
	`, refreshHash)
	return err
}

// DeleteByAccount removes an account's sessions, optionally sparing one row.
func (s *PostgresStore) DeleteByAccount(ctx context.Context, accountID, exceptRefreshHash string) error {
	if exceptRefreshHash == "" {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM `+s.table()+` WHERE account_id = $1
		`, accountID)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+`
		WHERE account_id = $1 AND refresh_token_hash <> $2
	`, accountID, exceptRefreshHash)
	return err
}

// ListByAccount returns an account's sessions, most recently used first.
func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE account_id = $1
		ORDER BY updated_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.AccountID, &sess.UserAgent, &sess.IP,
		&sess.RefreshTokenHash, &sess.RememberMe,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func isUniqueViolation(err error, constraintHint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return strings.Contains(strings.ToLower(pgErr.ConstraintName), constraintHint)
}
