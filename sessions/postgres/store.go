// Package postgres provides PostgreSQL storage for session records.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jrsteele09/go-session-keeper/internal/sealer"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

const tableName = "keeper_sessions"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements sessions.Store using PostgreSQL. The record column holds the
// JSON encoded record, sealed when a sealer is configured; the counters are
// duplicated into plain columns for operators.
type Store struct {
	db     *sql.DB
	sealer *sealer.Sealer
}

// New creates a new PostgreSQL session store. s may be nil.
func New(db *sql.DB, s *sealer.Sealer) *Store {
	return &Store{db: db, sealer: s}
}

// Save upserts the record for key.
func (s *Store) Save(ctx context.Context, key sessions.Key, rec *sessions.Record) error {
	data, err := sessions.EncodeRecord(rec, s.sealer)
	if err != nil {
		return err
	}

	query, args, err := psq.Insert(tableName).
		Columns("tenant_id", "target_id", "session_id", "record", "login_count", "consecutive_failed_reauths", "last_probe_at", "updated_at").
		Values(key.TenantID, key.TargetID, rec.SessionID, data, rec.LoginCount, rec.ConsecutiveFailedReauths,
			sql.NullTime{Time: rec.LastProbeAt, Valid: !rec.LastProbeAt.IsZero()}, rec.UpdatedAt).
		Suffix(`ON CONFLICT (tenant_id, target_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			record = EXCLUDED.record,
			login_count = EXCLUDED.login_count,
			consecutive_failed_reauths = EXCLUDED.consecutive_failed_reauths,
			last_probe_at = EXCLUDED.last_probe_at,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// Load retrieves the record for key. Returns nil, nil if not found.
func (s *Store) Load(ctx context.Context, key sessions.Key) (*sessions.Record, error) {
	query, args, err := psq.Select("record").
		From(tableName).
		Where(sq.Eq{"tenant_id": key.TenantID, "target_id": key.TargetID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sessions.DecodeRecord(data, s.sealer)
}

// Delete removes the record for key. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, key sessions.Key) error {
	query, args, err := psq.Delete(tableName).
		Where(sq.Eq{"tenant_id": key.TenantID, "target_id": key.TargetID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// List returns the keys of every persisted record.
func (s *Store) List(ctx context.Context) ([]sessions.Key, error) {
	query, args, err := psq.Select("tenant_id", "target_id").
		From(tableName).
		OrderBy("tenant_id", "target_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []sessions.Key
	for rows.Next() {
		var k sessions.Key
		if err := rows.Scan(&k.TenantID, &k.TargetID); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return keys, nil
}

// Verify interface compliance.
var _ sessions.Store = (*Store)(nil)
