package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/internal/sealer"
)

var updatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func credentialColumns() []string {
	return []string{"tenant_id", "target_id", "username", "secret", "updated_at"}
}

func TestGet_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := New(db, nil)
	mock.ExpectQuery("SELECT tenant_id, target_id, username, secret, updated_at FROM keeper_credentials WHERE").
		WithArgs("tenant-1", "panel").
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("tenant-1", "panel", "agent@example.com", []byte("hunter2"), updatedAt))

	cred, err := repo.Get(context.Background(), "tenant-1", "panel")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "agent@example.com", cred.Username)
	assert.Equal(t, "hunter2", cred.Secret)
	assert.Equal(t, updatedAt, cred.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := New(db, nil)
	mock.ExpectQuery("SELECT .* FROM keeper_credentials").
		WithArgs("tenant-1", "panel").
		WillReturnRows(sqlmock.NewRows(credentialColumns()))

	cred, err := repo.Get(context.Background(), "tenant-1", "panel")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestUpsertAndGet_Sealed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := sealer.New(strings.Repeat("11", 32))
	require.NoError(t, err)
	repo := New(db, s)

	var stored []byte
	mock.ExpectExec("INSERT INTO keeper_credentials .* ON CONFLICT").
		WithArgs("tenant-1", "panel", "agent", sqlmock.AnyArg(), updatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cred := &credentials.Credential{TenantID: "tenant-1", TargetID: "panel", Username: "agent", Secret: "hunter2", UpdatedAt: updatedAt}
	require.NoError(t, repo.Upsert(context.Background(), cred))

	stored, err = s.Seal([]byte("hunter2"))
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "hunter2")

	mock.ExpectQuery("SELECT .* FROM keeper_credentials").
		WithArgs("tenant-1", "panel").
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("tenant-1", "panel", "agent", stored, updatedAt))

	got, err := repo.Get(context.Background(), "tenant-1", "panel")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Secret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_UnsealFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := sealer.New(strings.Repeat("11", 32))
	require.NoError(t, err)
	repo := New(db, s)

	mock.ExpectQuery("SELECT .* FROM keeper_credentials").
		WithArgs("tenant-1", "panel").
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("tenant-1", "panel", "agent", []byte("plaintext"), updatedAt))

	_, err = repo.Get(context.Background(), "tenant-1", "panel")
	assert.ErrorIs(t, err, sealer.ErrOpen)
}

func TestListAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := New(db, nil)
	mock.ExpectQuery("SELECT .* FROM keeper_credentials WHERE target_id = \\$1 ORDER BY tenant_id").
		WithArgs("panel").
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("tenant-1", "panel", "a", []byte("s1"), updatedAt).
			AddRow("tenant-2", "panel", "b", []byte("s2"), updatedAt))

	creds, err := repo.ListAll(context.Background(), "panel")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "tenant-2", creds[1].TenantID)
	assert.Equal(t, "s2", creds[1].Secret)
}

func TestDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := New(db, nil)
	mock.ExpectExec("DELETE FROM keeper_credentials WHERE").
		WithArgs("tenant-1", "panel").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "tenant-1", "panel"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
