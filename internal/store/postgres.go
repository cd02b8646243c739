// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/flowscripts/flow/internal/account"
)

// poolIface is the subset of pgxpool.Pool used by PostgresStore.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Connection attempts at startup.
const (
	connectRetries = 5
	connectBackoff = 200 * time.Millisecond
)

// PostgresStore keeps accounts in the users table, preserving insertion
// order through the position column.
type PostgresStore struct {
	pool poolIface
}

var _ account.Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to dsn, retrying the initial ping with exponential
// backoff while the database comes up.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_INIT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectRetries, retry.NewExponential(connectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_INIT_FAILED").With("operation", "ping database").Wrap(err)
	}

	return &PostgresStore{pool: pool}, nil
}

// ListAll returns every account in insertion order.
func (s *PostgresStore) ListAll(ctx context.Context) ([]account.UserRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, password_hash, license_key, created_at, last_hwid_reset
		 FROM users ORDER BY position`)
	if err != nil {
		return nil, oops.Code("STORE_READ_FAILED").With("operation", "list users").Wrap(err)
	}
	defer rows.Close()

	records := []account.UserRecord{}
	for rows.Next() {
		var r account.UserRecord
		if err := rows.Scan(&r.Username, &r.PasswordHash, &r.LicenseKey, &r.CreatedAt, &r.LastHWIDReset); err != nil {
			return nil, oops.Code("STORE_READ_FAILED").With("operation", "scan user").Wrap(err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("STORE_READ_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return records, nil
}

// ReplaceAll swaps the table contents inside one transaction.
func (s *PostgresStore) ReplaceAll(ctx context.Context, records []account.UserRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("operation", "begin").Wrap(err)
	}

	if err := replaceRows(ctx, tx, records); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return oops.Code("STORE_WRITE_FAILED").With("rollback_error", rbErr.Error()).Wrap(err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

func replaceRows(ctx context.Context, tx pgx.Tx, records []account.UserRecord) error {
	if _, err := tx.Exec(ctx, `DELETE FROM users`); err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("operation", "clear users").Wrap(err)
	}
	for i, r := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO users (position, username, password_hash, license_key, created_at, last_hwid_reset)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			i, r.Username, r.PasswordHash, r.LicenseKey, r.CreatedAt, r.LastHWIDReset)
		if err != nil {
			return insertError(r.Username, err)
		}
	}
	return nil
}

func insertError(username string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("STORE_CONFLICT").
			With("username", username).
			With("constraint", pgErr.ConstraintName).
			Wrap(err)
	}
	return oops.Code("STORE_WRITE_FAILED").With("operation", "insert user").With("username", username).Wrap(err)
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
