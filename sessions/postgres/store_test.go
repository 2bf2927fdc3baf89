package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/internal/sealer"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

var testKey = sessions.NewKey("tenant-1", "renewals-panel")

func newTestRecord() *sessions.Record {
	now := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	return &sessions.Record{
		Key:       testKey,
		SessionID: "sess-123",
		Material: &auth.Material{
			Cookies:    []auth.Cookie{{Name: "PHPSESSID", Value: "abc", Path: "/"}},
			ObtainedAt: now,
		},
		LoginCount:  3,
		CreatedAt:   now,
		LastProbeAt: now,
		UpdatedAt:   now,
	}
}

func newTestSealer(t *testing.T) *sealer.Sealer {
	t.Helper()
	s, err := sealer.New(strings.Repeat("0f", 32))
	require.NoError(t, err)
	return s
}

func TestSave_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, nil)
	rec := newTestRecord()

	mock.ExpectExec("INSERT INTO keeper_sessions .* ON CONFLICT \\(tenant_id, target_id\\) DO UPDATE").
		WithArgs(testKey.TenantID, testKey.TargetID, rec.SessionID, sqlmock.AnyArg(), rec.LoginCount, 0, sqlmock.AnyArg(), rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), testKey, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, nil)
	mock.ExpectExec("INSERT INTO keeper_sessions").WillReturnError(errors.New("connection refused"))

	err = store.Save(context.Background(), testKey, newTestRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upserting session")
}

func TestLoad_RoundTripSealed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := newTestSealer(t)
	store := New(db, s)
	rec := newTestRecord()
	data, err := sessions.EncodeRecord(rec, s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "PHPSESSID")

	mock.ExpectQuery("SELECT record FROM keeper_sessions WHERE").
		WithArgs(testKey.TenantID, testKey.TargetID).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(data))

	got, err := store.Load(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, nil)
	mock.ExpectQuery("SELECT record FROM keeper_sessions").
		WithArgs(testKey.TenantID, testKey.TargetID).
		WillReturnRows(sqlmock.NewRows([]string{"record"}))

	got, err := store.Load(context.Background(), testKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, nil)
	mock.ExpectExec("DELETE FROM keeper_sessions WHERE").
		WithArgs(testKey.TenantID, testKey.TargetID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), testKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, nil)
	mock.ExpectQuery("SELECT tenant_id, target_id FROM keeper_sessions ORDER BY tenant_id, target_id").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "target_id"}).
			AddRow("tenant-1", "renewals-panel").
			AddRow("tenant-2", "messaging"))

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []sessions.Key{
		{TenantID: "tenant-1", TargetID: "renewals-panel"},
		{TenantID: "tenant-2", TargetID: "messaging"},
	}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
