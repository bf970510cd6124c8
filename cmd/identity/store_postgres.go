package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted to avoid injection via identifiers.
// Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "aegis").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "aegis",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, email, full_name, avatar_url, password_hash, provider, role, verified,
        verify_token_hash, verify_token_expires_at, reset_token_hash, reset_token_expires_at,
        created_at, updated_at`

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	if email == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if fullName == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "full name is required"}
	}

	provider := in.Provider
	if provider == "" {
		provider = ProviderLocal
	}
	switch provider {
	case ProviderLocal, ProviderGoogle:
	default:
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown provider"}
	}
	if provider == ProviderLocal && (in.PasswordHash == nil || *in.PasswordHash == "") {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "local account requires a password hash"}
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	switch role {
	case RoleUser, RoleAdmin:
	default:
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown role"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	accounts := pgIdent(s.schema, "accounts")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+accounts+` (
		     id, email, full_name, avatar_url, password_hash, provider, role, verified, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		id, email, fullName, in.AvatarURL, in.PasswordHash, provider, role, in.Verified, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}

	return Account{
		ID:           id,
		Email:        email,
		FullName:     fullName,
		AvatarURL:    in.AvatarURL,
		PasswordHash: in.PasswordHash,
		Provider:     provider,
		Role:         role,
		Verified:     in.Verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetByID fetches an account by primary key.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"
	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+accounts+` WHERE id = $1`, id)
	return scanAccount(op, "account", row)
}

// GetByEmail fetches an account by exact email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetByEmail"
	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+accounts+` WHERE email = $1`, email)
	return scanAccount(op, "account", row)
}

// GetByVerifyToken fetches the account holding an unexpired verification digest.
func (s *PostgresStore) GetByVerifyToken(ctx context.Context, tokenHash string, now time.Time) (Account, error) {
	const op = "identity.GetByVerifyToken"
	if now.IsZero() {
		now = time.Now().UTC()
	}
	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+accounts+`
		  WHERE verify_token_hash = $1 AND verify_token_expires_at > $2`,
		tokenHash, now)
	return scanAccount(op, "verify_token", row)
}

// GetByResetToken fetches the account holding an unexpired reset digest.
func (s *PostgresStore) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (Account, error) {
	const op = "identity.GetByResetToken"
	if now.IsZero() {
		now = time.Now().UTC()
	}
	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+accounts+`
		  WHERE reset_token_hash = $1 AND reset_token_expires_at > $2`,
		tokenHash, now)
	return scanAccount(op, "reset_token", row)
}

// SetVerifyToken stores a new verification digest, superseding any previous one.
func (s *PostgresStore) SetVerifyToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	const op = "identity.SetVerifyToken"
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+`
		    SET verify_token_hash = $1, verify_token_expires_at = $2, updated_at = now()
		  WHERE id = $3`,
		tokenHash, expiresAt, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// SetResetToken stores a new reset digest, superseding any previous one.
func (s *PostgresStore) SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	const op = "identity.SetResetToken"
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+`
		    SET reset_token_hash = $1, reset_token_expires_at = $2, updated_at = now()
		  WHERE id = $3`,
		tokenHash, expiresAt, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// MarkVerified flips verified and clears the verification token fields.
func (s *PostgresStore) MarkVerified(ctx context.Context, accountID string, now time.Time) error {
	const op = "identity.MarkVerified"
	if now.IsZero() {
		now = time.Now().UTC()
	}
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+`
		    SET verified = TRUE,
		        verify_token_hash = NULL,
		        verify_token_expires_at = NULL,
		        updated_at = $1
		  WHERE id = $2`,
		now, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// UpdatePassword replaces the password hash and clears the reset token fields.
func (s *PostgresStore) UpdatePassword(ctx context.Context, accountID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePassword"
	if strings.TrimSpace(passwordHash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing password hash"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+`
		    SET password_hash = $1,
		        reset_token_hash = NULL,
		        reset_token_expires_at = NULL,
		        updated_at = $2
		  WHERE id = $3`,
		passwordHash, now, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// UpdateAvatar sets the avatar URL.
func (s *PostgresStore) UpdateAvatar(ctx context.Context, accountID, avatarURL string) error {
	const op = "identity.UpdateAvatar"
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+` SET avatar_url = $1, updated_at = now() WHERE id = $2`,
		avatarURL, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// SetRole changes an account's role.
func (s *PostgresStore) SetRole(ctx context.Context, accountID, role string) error {
	const op = "identity.SetRole"
	switch role {
	case RoleUser, RoleAdmin:
	default:
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown role"}
	}
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+` SET role = $1, updated_at = now() WHERE id = $2`,
		role, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// DeleteAccount removes an account; sessions cascade at the schema level.
func (s *PostgresStore) DeleteAccount(ctx context.Context, accountID string) error {
	const op = "identity.DeleteAccount"
	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+accounts+` WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// ListVerifiedExcept returns verified accounts, newest first, excluding one ID.
func (s *PostgresStore) ListVerifiedExcept(ctx context.Context, excludeID string) ([]Account, error) {
	const op = "identity.ListVerifiedExcept"
	accounts := pgIdent(s.schema, "accounts")
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM `+accounts+`
		  WHERE verified AND id <> $1
		  ORDER BY id DESC`,
		excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(op, "account", rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(op, resource string, row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Email, &a.FullName, &a.AvatarURL, &a.PasswordHash,
		&a.Provider, &a.Role, &a.Verified,
		&a.VerifyTokenHash, &a.VerifyTokenExpiresAt,
		&a.ResetTokenHash, &a.ResetTokenExpiresAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: resource}
		}
		return Account{}, err
	}
	return a, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, fall back to substring heuristics.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_accounts_email":
		return "email", true
	case "uq_sessions_refresh_token_hash":
		return "refresh_token", true
	case "uq_sessions_fingerprint":
		return "fingerprint", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "refresh"):
			return "refresh_token", true
		case strings.Contains(c, "fingerprint"):
			return "fingerprint", true
		default:
			return "unique", true
		}
	}
}
