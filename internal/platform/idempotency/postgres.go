package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	id               TEXT PRIMARY KEY,
	key              TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_status  INTEGER NOT NULL DEFAULT 0,
	response_headers JSONB,
	response_body    BYTEA,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idempotency_keys_expires_at_idx ON idempotency_keys (expires_at);
`

// PostgresStore implements Store on a database/sql handle opened with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db. Call EnsureSchema once before use unless migrations are managed elsewhere.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the idempotency table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("idempotency: ensure schema: %w", err)
	}
	return nil
}

// Reserve inserts a pending row, or locks and inspects the existing one.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	id := recordID(key)

	var result Reservation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		fresh := newPendingRecord(key, fingerprint, now, ttl)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (id, key, fingerprint, status, created_at, updated_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			id, key, fingerprint, string(StatusPending), now, fresh.ExpiresAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			result = Reservation{State: ReservationStateNew, Record: fresh}
			return nil
		}

		record, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if !record.expired(now) {
			result, err = classify(record, fingerprint)
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE idempotency_keys
			SET fingerprint = $2, status = $3, response_status = 0, response_headers = NULL,
			    response_body = NULL, created_at = $4, updated_at = $4, expires_at = $5
			WHERE id = $1`,
			id, fingerprint, string(StatusPending), now, fresh.ExpiresAt); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: fresh}
		return nil
	})
	return result, err
}

// SaveResponse stores the completed response for the key.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normaliseTTL(ttl)

	headers, err := json.Marshal(sanitizeHeaders(resp.Headers))
	if err != nil {
		return fmt.Errorf("idempotency: marshal headers: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, response_status = EXCLUDED.response_status,
		    response_headers = EXCLUDED.response_headers, response_body = EXCLUDED.response_body,
		    updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`,
		recordID(key), key, fingerprint, string(StatusCompleted), resp.Status, headers, copyBody(resp.Body), now, now.Add(ttl))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release deletes the reservation held by fingerprint.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE id = $1 AND fingerprint = $2`, recordID(key), fingerprint)
	return err
}

// CleanupExpired deletes up to limit expired rows.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE id IN (SELECT id FROM idempotency_keys WHERE expires_at <= $1 LIMIT $2)`,
		now.UTC(), limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const selectRecord = `
	SELECT key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
	FROM idempotency_keys`

func scanRecord(row *sql.Row) (Record, error) {
	var (
		record  Record
		status  string
		headers []byte
	)
	if err := row.Scan(&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt); err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
