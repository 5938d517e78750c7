package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/docauth"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)

	s := New(mock)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

var credentialColumns = []string{
	"id", "identity", "email", "mobile", "password_hash", "role",
	"session_version", "active", "created_at", "updated_at",
}

func TestFindByIdentity(t *testing.T) {
	mobile := "+15550100"

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      docauth.Credential
		wantErr   error
		errMsg    string
	}{
		{
			name: "found by identity or mobile",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(credentialColumns).
					AddRow("01HX", "a@docs.io", "a@docs.io", &mobile, "$argon2id$...", "user",
						int64(3), true, fixedNow, fixedNow)
				mock.ExpectQuery(`SELECT .+ FROM credentials WHERE identity = \$1 OR mobile = \$1`).
					WithArgs("+15550100").
					WillReturnRows(rows)
			},
			want: docauth.Credential{
				ID: "01HX", Identity: "a@docs.io", Email: "a@docs.io", Mobile: mobile,
				PasswordHash: "$argon2id$...", Role: docauth.RoleUser, SessionVersion: 3,
				Active: true, CreatedAt: fixedNow, UpdatedAt: fixedNow,
			},
		},
		{
			name: "missing row",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .+ FROM credentials`).
					WithArgs("+15550100").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: docauth.ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .+ FROM credentials`).
					WithArgs("+15550100").
					WillReturnError(errors.New("connection refused"))
			},
			errMsg: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := s.FindByIdentity(context.Background(), "+15550100")
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.NotErrorIs(t, err, docauth.ErrNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestCreate(t *testing.T) {
	t.Run("assigns id and timestamps", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO credentials`).
			WithArgs(pgxmock.AnyArg(), "a@docs.io", "a@docs.io", nil, "hash", "user",
				int64(1), true, fixedNow, fixedNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		got, err := s.Create(context.Background(), docauth.Credential{
			Identity: "a@docs.io", Email: "a@docs.io", PasswordHash: "hash",
			Role: docauth.RoleUser, SessionVersion: 1, Active: true,
		})
		require.NoError(t, err)
		assert.Len(t, got.ID, 26)
		assert.Equal(t, fixedNow, got.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a conflict", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO credentials`).
			WithArgs("01HX", "a@docs.io", "a@docs.io", "+15550100", "hash", "user",
				int64(1), true, fixedNow, fixedNow).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		_, err := s.Create(context.Background(), docauth.Credential{
			ID: "01HX", Identity: "a@docs.io", Email: "a@docs.io", Mobile: "+15550100",
			PasswordHash: "hash", Role: docauth.RoleUser, SessionVersion: 1, Active: true,
		})
		require.ErrorIs(t, err, docauth.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other failures are wrapped", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO credentials`).
			WithArgs("01HX", "a@docs.io", "", nil, "", "", int64(0), false, fixedNow, fixedNow).
			WillReturnError(errors.New("disk full"))

		_, err := s.Create(context.Background(), docauth.Credential{ID: "01HX", Identity: "a@docs.io"})
		require.Error(t, err)
		assertCode(t, err, "CREDENTIAL_INSERT_FAILED")
		assert.ErrorContains(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIncrementSessionVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE credentials SET session_version = session_version \+ 1`).
		WithArgs("a@docs.io", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"session_version"}).AddRow(int64(5)))
	mock.ExpectQuery(`UPDATE credentials SET session_version`).
		WithArgs("ghost@docs.io", fixedNow).
		WillReturnError(pgx.ErrNoRows)

	v, err := s.IncrementSessionVersion(context.Background(), "a@docs.io")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	_, err = s.IncrementSessionVersion(context.Background(), "ghost@docs.io")
	require.ErrorIs(t, err, docauth.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSingleRowMutations(t *testing.T) {
	tests := []struct {
		name    string
		expect  func(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedExec
		call    func(s *Store) error
		result  pgconn.CommandTag
		wantErr error
	}{
		{
			name: "update password hash",
			expect: func(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedExec {
				return mock.ExpectExec(`UPDATE credentials SET password_hash`).WithArgs("a@docs.io", "new", fixedNow)
			},
			call:   func(s *Store) error { return s.UpdatePasswordHash(context.Background(), "a@docs.io", "new") },
			result: pgxmock.NewResult("UPDATE", 1),
		},
		{
			name: "set active on missing row",
			expect: func(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedExec {
				return mock.ExpectExec(`UPDATE credentials SET active`).WithArgs("ghost@docs.io", false, fixedNow)
			},
			call:    func(s *Store) error { return s.SetActive(context.Background(), "ghost@docs.io", false) },
			result:  pgxmock.NewResult("UPDATE", 0),
			wantErr: docauth.ErrNotFound,
		},
		{
			name: "delete",
			expect: func(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedExec {
				return mock.ExpectExec(`DELETE FROM credentials`).WithArgs("a@docs.io")
			},
			call:   func(s *Store) error { return s.Delete(context.Background(), "a@docs.io") },
			result: pgxmock.NewResult("DELETE", 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.expect(mock).WillReturnResult(tt.result)

			err := tt.call(s)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMutationDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM credentials`).WillReturnError(errors.New("connection lost"))

	err := s.Delete(context.Background(), "a@docs.io")
	require.Error(t, err)
	assertCode(t, err, "CREDENTIAL_UPDATE_FAILED")
}
