// Package postgres provides the PostgreSQL credential store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/internal/sealer"
)

const tableName = "keeper_credentials"

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repo implements credentials.Repo. Secrets are sealed at rest when a sealer is
// configured.
type Repo struct {
	db     *sql.DB
	sealer *sealer.Sealer
}

func New(db *sql.DB, s *sealer.Sealer) *Repo {
	return &Repo{db: db, sealer: s}
}

// Get returns nil, nil when no credential is on file.
func (r *Repo) Get(ctx context.Context, tenantID, targetID string) (*credentials.Credential, error) {
	query, args, err := psq.Select("tenant_id", "target_id", "username", "secret", "updated_at").
		From(tableName).
		Where(sq.Eq{"tenant_id": tenantID, "target_id": targetID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("[CredentialRepo.Get] building query: %w", err)
	}

	cred, err := r.scan(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[CredentialRepo.Get] %s/%s: %w", tenantID, targetID, err)
	}
	return cred, nil
}

// ListAll returns every credential held for targetID, ordered by tenant.
func (r *Repo) ListAll(ctx context.Context, targetID string) ([]*credentials.Credential, error) {
	query, args, err := psq.Select("tenant_id", "target_id", "username", "secret", "updated_at").
		From(tableName).
		Where(sq.Eq{"target_id": targetID}).
		OrderBy("tenant_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("[CredentialRepo.ListAll] building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("[CredentialRepo.ListAll] %w", err)
	}
	defer func() { _ = rows.Close() }()

	creds := make([]*credentials.Credential, 0)
	for rows.Next() {
		cred, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("[CredentialRepo.ListAll] %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("[CredentialRepo.ListAll] %w", err)
	}
	return creds, nil
}

func (r *Repo) Upsert(ctx context.Context, cred *credentials.Credential) error {
	secret, err := r.sealer.Seal([]byte(cred.Secret))
	if err != nil {
		return fmt.Errorf("[CredentialRepo.Upsert] seal: %w", err)
	}

	query, args, err := psq.Insert(tableName).
		Columns("tenant_id", "target_id", "username", "secret", "updated_at").
		Values(cred.TenantID, cred.TargetID, cred.Username, secret, cred.UpdatedAt).
		Suffix(`ON CONFLICT (tenant_id, target_id) DO UPDATE SET
			username = EXCLUDED.username,
			secret = EXCLUDED.secret,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("[CredentialRepo.Upsert] building query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("[CredentialRepo.Upsert] %s/%s: %w", cred.TenantID, cred.TargetID, err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, tenantID, targetID string) error {
	query, args, err := psq.Delete(tableName).
		Where(sq.Eq{"tenant_id": tenantID, "target_id": targetID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("[CredentialRepo.Delete] building query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("[CredentialRepo.Delete] %s/%s: %w", tenantID, targetID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repo) scan(row scanner) (*credentials.Credential, error) {
	var (
		cred   credentials.Credential
		secret []byte
	)
	if err := row.Scan(&cred.TenantID, &cred.TargetID, &cred.Username, &secret, &cred.UpdatedAt); err != nil {
		return nil, err
	}
	plain, err := r.sealer.Open(secret)
	if err != nil {
		return nil, fmt.Errorf("open secret: %w", err)
	}
	cred.Secret = string(plain)
	return &cred, nil
}

var _ credentials.Repo = (*Repo)(nil)
