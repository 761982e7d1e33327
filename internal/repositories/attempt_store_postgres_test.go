package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authguard/internal/models"
)

func newMockStore(t *testing.T) (*PostgresAttemptStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "pgxmock.NewPool")
	t.Cleanup(mock.Close)

	return NewPostgresAttemptStore(mock), mock
}

var attemptColumns = []string{"id", "identity", "kind", "success", "ip_address", "user_agent", "attempt_time"}

func TestPostgresAttemptStore_RecordFailure(t *testing.T) {
	store, mock := newMockStore(t)
	attempt := failure("alice@example.com", models.AttemptKindLogin, "10.0.0.1", baseTime)

	mock.ExpectExec(`INSERT INTO auth_attempts`).
		WithArgs(attempt.ID, attempt.Identity, "login", false, "10.0.0.1", "Mozilla/5.0", attempt.AttemptTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Record(context.Background(), attempt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_RecordSuccessClearsLockout(t *testing.T) {
	store, mock := newMockStore(t)
	attempt := models.NewAttempt("alice@example.com", true, models.AttemptKindLogin, models.AttemptContext{}, baseTime)

	mock.ExpectExec(`INSERT INTO auth_attempts`).
		WithArgs(attempt.ID, attempt.Identity, "login", true, "", "", attempt.AttemptTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM auth_lockouts WHERE identity = \$1`).
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Record(context.Background(), attempt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_RecordWrapsError(t *testing.T) {
	store, mock := newMockStore(t)
	attempt := failure("alice@example.com", models.AttemptKindLogin, "", baseTime)
	dbErr := errors.New("connection reset")

	mock.ExpectExec(`INSERT INTO auth_attempts`).
		WithArgs(attempt.ID, attempt.Identity, "login", false, "", "Mozilla/5.0", attempt.AttemptTime).
		WillReturnError(dbErr)

	err := store.Record(context.Background(), attempt)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
}

func TestPostgresAttemptStore_QueryWithKind(t *testing.T) {
	store, mock := newMockStore(t)
	attempt := failure("bob@example.com", models.AttemptKindPasswordReset, "10.0.0.9", baseTime)

	rows := pgxmock.NewRows(attemptColumns).AddRow(
		attempt.ID, attempt.Identity, "password_reset", false, "10.0.0.9", "Mozilla/5.0", baseTime,
	)
	mock.ExpectQuery(`SELECT .* FROM auth_attempts WHERE identity = \$1 AND attempt_time >= \$2 AND kind = \$3 ORDER BY attempt_time ASC, seq ASC`).
		WithArgs("bob@example.com", baseTime.Add(-time.Hour), "password_reset").
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), "bob@example.com", models.AttemptKindPasswordReset, baseTime.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, attempt.ID, got[0].ID)
	assert.Equal(t, models.AttemptKindPasswordReset, got[0].Kind)
	assert.Equal(t, "10.0.0.9", got[0].IPAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_QueryAllKinds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM auth_attempts WHERE identity = \$1 AND attempt_time >= \$2 ORDER BY attempt_time ASC, seq ASC`).
		WithArgs("bob@example.com", baseTime).
		WillReturnRows(pgxmock.NewRows(attemptColumns))

	got, err := store.Query(context.Background(), "bob@example.com", "", baseTime)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_CountByNetwork(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM auth_attempts`).
		WithArgs("203.0.113.7", baseTime).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))

	n, err := store.CountByNetwork(context.Background(), "203.0.113.7", baseTime)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	// Empty address never reaches the database
	n, err = store.CountByNetwork(context.Background(), "", baseTime)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_Evict(t *testing.T) {
	store, mock := newMockStore(t)
	before := baseTime.Add(-24 * time.Hour)

	mock.ExpectExec(`DELETE FROM auth_attempts WHERE attempt_time < \$1`).
		WithArgs(before).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`DELETE FROM auth_lockouts WHERE locked_until <= \$1`).
		WithArgs(baseTime).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	res, err := store.Evict(context.Background(), before, baseTime)
	require.NoError(t, err)
	assert.Equal(t, EvictResult{AttemptsRemoved: 7, LockoutsExpired: 2}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_Lockouts(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	until := baseTime.Add(time.Hour)

	mock.ExpectExec(`(?s)INSERT INTO auth_lockouts .* ON CONFLICT \(identity\) DO UPDATE`).
		WithArgs("carol@example.com", until).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT locked_until FROM auth_lockouts`).
		WithArgs("carol@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"locked_until"}).AddRow(until))
	mock.ExpectQuery(`SELECT locked_until FROM auth_lockouts`).
		WithArgs("dave@example.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM auth_lockouts WHERE locked_until > \$1`).
		WithArgs(baseTime).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, store.SetLockout(ctx, "carol@example.com", until))

	got, ok, err := store.GetLockout(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(until))

	_, ok, err = store.GetLockout(ctx, "dave@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.CountLockouts(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAttemptStore_Reset(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`TRUNCATE TABLE auth_attempts, auth_lockouts`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	require.NoError(t, store.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
