// Package postgres is the PostgreSQL [docauth.CredentialStore].
//
// The schema ships as embedded golang-migrate migrations; run [Migrator.Up]
// (or `docauthd migrate up`) before serving traffic.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/docauth"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements docauth.CredentialStore on the credentials table.
type Store struct {
	pool Pool
	now  func() time.Time
}

var _ docauth.CredentialStore = (*Store)(nil)

// New wraps an open pool. Use [Connect] to create one.
func New(pool Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Connect opens a pgx pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return pool, nil
}

const selectCredential = `SELECT id, identity, email, mobile, password_hash, role, session_version, active, created_at, updated_at
	FROM credentials`

// FindByIdentity matches identity against the primary identity or the
// mobile number.
func (s *Store) FindByIdentity(ctx context.Context, identity string) (docauth.Credential, error) {
	row := s.pool.QueryRow(ctx, selectCredential+` WHERE identity = $1 OR mobile = $1 LIMIT 1`, identity)

	var (
		cred    docauth.Credential
		mobile  *string
		role    string
		version int64
	)
	err := row.Scan(&cred.ID, &cred.Identity, &cred.Email, &mobile, &cred.PasswordHash,
		&role, &version, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docauth.Credential{}, docauth.ErrNotFound
		}
		return docauth.Credential{}, oops.Code("CREDENTIAL_QUERY_FAILED").With("operation", "find credential").Wrap(err)
	}

	if mobile != nil {
		cred.Mobile = *mobile
	}
	cred.Role = docauth.Role(role)
	cred.SessionVersion = uint64(version)
	return cred, nil
}

func (s *Store) Create(ctx context.Context, cred docauth.Credential) (docauth.Credential, error) {
	if cred.ID == "" {
		cred.ID = ulid.Make().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = s.now().UTC()
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = cred.CreatedAt
	}

	var mobile any
	if cred.Mobile != "" {
		mobile = cred.Mobile
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, identity, email, mobile, password_hash, role, session_version, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cred.ID, cred.Identity, cred.Email, mobile, cred.PasswordHash,
		string(cred.Role), int64(cred.SessionVersion), cred.Active, cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return docauth.Credential{}, docauth.ErrConflict
		}
		return docauth.Credential{}, oops.Code("CREDENTIAL_INSERT_FAILED").With("operation", "create credential").Wrap(err)
	}
	return cred, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, identity, hash string) error {
	return s.execOne(ctx, "update password hash",
		`UPDATE credentials SET password_hash = $2, updated_at = $3 WHERE identity = $1`,
		identity, hash, s.now().UTC())
}

// IncrementSessionVersion bumps the counter in a single UPDATE so concurrent
// callers each observe a distinct value.
func (s *Store) IncrementSessionVersion(ctx context.Context, identity string) (uint64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`UPDATE credentials SET session_version = session_version + 1, updated_at = $2
		 WHERE identity = $1 RETURNING session_version`,
		identity, s.now().UTC(),
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, docauth.ErrNotFound
		}
		return 0, oops.Code("CREDENTIAL_UPDATE_FAILED").With("operation", "increment session version").Wrap(err)
	}
	return uint64(version), nil
}

func (s *Store) SetActive(ctx context.Context, identity string, active bool) error {
	return s.execOne(ctx, "set active",
		`UPDATE credentials SET active = $2, updated_at = $3 WHERE identity = $1`,
		identity, active, s.now().UTC())
}

func (s *Store) Delete(ctx context.Context, identity string) error {
	return s.execOne(ctx, "delete credential",
		`DELETE FROM credentials WHERE identity = $1`, identity)
}

// execOne runs a statement that must touch exactly one credential row.
func (s *Store) execOne(ctx context.Context, operation, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").With("operation", operation).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return docauth.ErrNotFound
	}
	return nil
}
