// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/pkg/errutil"
)

var userColumns = []string{"username", "password_hash", "license_key", "created_at", "last_hwid_reset"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresStore_ListAll(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reset := int64(1767225600)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      []account.UserRecord
		wantCode  string
	}{
		{
			name: "rows in position order",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(userColumns).
					AddRow("alice", "$2a$10$hash", "KEY-ALICE-0001", created, nil).
					AddRow("bob", "legacy", "KEY-BOB-000002", created, &reset)
				mock.ExpectQuery(`SELECT username, password_hash, license_key, created_at, last_hwid_reset\s+FROM users ORDER BY position`).
					WillReturnRows(rows)
			},
			want: []account.UserRecord{
				{Username: "alice", PasswordHash: "$2a$10$hash", LicenseKey: "KEY-ALICE-0001", CreatedAt: created},
				{Username: "bob", PasswordHash: "legacy", LicenseKey: "KEY-BOB-000002", CreatedAt: created, LastHWIDReset: &reset},
			},
		},
		{
			name: "empty table",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT username`).WillReturnRows(pgxmock.NewRows(userColumns))
			},
			want: []account.UserRecord{},
		},
		{
			name: "query error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT username`).WillReturnError(errors.New("connection refused"))
			},
			wantCode: "STORE_READ_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			got, err := NewPostgresStore(mock).ListAll(context.Background())
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_ReplaceAll(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []account.UserRecord{
		{Username: "alice", PasswordHash: "h1", LicenseKey: "KEY-ALICE-0001", CreatedAt: created},
		{Username: "bob", PasswordHash: "h2", LicenseKey: "KEY-BOB-000002", CreatedAt: created},
	}

	t.Run("commits delete and inserts", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM users`).WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(0, "alice", "h1", "KEY-ALICE-0001", created, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(1, "bob", "h2", "KEY-BOB-000002", created, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPostgresStore(mock).ReplaceAll(context.Background(), records))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation rolls back as conflict", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM users`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_license_key_idx"})
		mock.ExpectRollback()

		err := NewPostgresStore(mock).ReplaceAll(context.Background(), records)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "STORE_CONFLICT")
		errutil.AssertErrorContext(t, err, "constraint", "users_license_key_idx")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete failure rolls back", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM users`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := NewPostgresStore(mock).ReplaceAll(context.Background(), records)
		errutil.AssertErrorCode(t, err, "STORE_WRITE_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := NewPostgresStore(mock).ReplaceAll(context.Background(), records)
		errutil.AssertErrorCode(t, err, "STORE_WRITE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "begin")
	})

	t.Run("commit failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM users`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := NewPostgresStore(mock).ReplaceAll(context.Background(), nil)
		errutil.AssertErrorCode(t, err, "STORE_WRITE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "commit")
	})
}

func TestPostgresStore_Ping(t *testing.T) {
	mock := newMock(t) // pgxmock v4 always monitors pings
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("gone"))

	s := NewPostgresStore(mock)
	require.NoError(t, s.Ping(context.Background()))
	errutil.AssertErrorCode(t, s.Ping(context.Background()), "STORE_UNAVAILABLE")
}
