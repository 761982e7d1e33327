package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExecutor is the subset of pgxpool.Pool the store needs; pgx.Tx and pgxmock satisfy it too
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAttemptStore keeps the ledger in the auth_attempts and auth_lockouts tables
type PostgresAttemptStore struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPostgresAttemptStore creates a store backed by any pgx executor
func NewPostgresAttemptStore(exec pgExecutor) *PostgresAttemptStore {
	return &PostgresAttemptStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Record inserts the attempt and clears the lockout on success
func (r *PostgresAttemptStore) Record(ctx context.Context, attempt *models.Attempt) error {
	query := `
		INSERT INTO auth_attempts (id, identity, kind, success, ip_address, user_agent, attempt_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.exec.Exec(ctx, query,
		attempt.ID,
		attempt.Identity,
		string(attempt.Kind),
		attempt.Success,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptTime,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	if attempt.Success {
		return r.ClearLockout(ctx, attempt.Identity)
	}
	return nil
}

// Query selects the identity's attempts since the given instant, oldest first.
// seq breaks ties between attempts stamped with the same instant.
func (r *PostgresAttemptStore) Query(ctx context.Context, identity string, kind models.AttemptKind, since time.Time) ([]models.Attempt, error) {
	sel := r.builder.
		Select("id", "identity", "kind", "success", "ip_address", "user_agent", "attempt_time").
		From("auth_attempts").
		Where(squirrel.Eq{"identity": identity}).
		Where(squirrel.GtOrEq{"attempt_time": since}).
		OrderBy("attempt_time ASC", "seq ASC")
	if kind != "" {
		sel = sel.Where(squirrel.Eq{"kind": string(kind)})
	}

	stmt, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select attempts sql: %w", err)
	}
	return r.queryAttempts(ctx, stmt, args...)
}

// CountByNetwork counts attempts from ipAddress since the given instant
func (r *PostgresAttemptStore) CountByNetwork(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if ipAddress == "" {
		return 0, nil
	}

	query := `
		SELECT COUNT(*) FROM auth_attempts
		WHERE ip_address = $1 AND attempt_time >= $2
	`

	var count int
	if err := r.exec.QueryRow(ctx, query, ipAddress, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count network attempts: %w", err)
	}
	return count, nil
}

// ListSince selects every attempt since the given instant
func (r *PostgresAttemptStore) ListSince(ctx context.Context, since time.Time) ([]models.Attempt, error) {
	query := `
		SELECT id, identity, kind, success, ip_address, user_agent, attempt_time
		FROM auth_attempts
		WHERE attempt_time >= $1
		ORDER BY attempt_time ASC, seq ASC
	`
	return r.queryAttempts(ctx, query, since)
}

func (r *PostgresAttemptStore) queryAttempts(ctx context.Context, query string, args ...any) ([]models.Attempt, error) {
	rows, err := r.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var (
			a    models.Attempt
			kind string
		)
		if err := rows.Scan(&a.ID, &a.Identity, &kind, &a.Success, &a.IPAddress, &a.UserAgent, &a.AttemptTime); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Kind = models.AttemptKind(kind)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// Evict deletes old attempts and expired lockouts
func (r *PostgresAttemptStore) Evict(ctx context.Context, before, now time.Time) (EvictResult, error) {
	var res EvictResult

	tag, err := r.exec.Exec(ctx, `DELETE FROM auth_attempts WHERE attempt_time < $1`, before)
	if err != nil {
		return res, fmt.Errorf("delete old attempts: %w", err)
	}
	res.AttemptsRemoved = tag.RowsAffected()

	tag, err = r.exec.Exec(ctx, `DELETE FROM auth_lockouts WHERE locked_until <= $1`, now)
	if err != nil {
		return res, fmt.Errorf("delete expired lockouts: %w", err)
	}
	res.LockoutsExpired = tag.RowsAffected()

	return res, nil
}

// GetLockout returns the identity's unlock instant, if any is stored
func (r *PostgresAttemptStore) GetLockout(ctx context.Context, identity string) (time.Time, bool, error) {
	var until time.Time
	err := r.exec.QueryRow(ctx, `SELECT locked_until FROM auth_lockouts WHERE identity = $1`, identity).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select lockout: %w", err)
	}
	return until, true, nil
}

// SetLockout upserts the identity's unlock instant
func (r *PostgresAttemptStore) SetLockout(ctx context.Context, identity string, until time.Time) error {
	query := `
		INSERT INTO auth_lockouts (identity, locked_until)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET locked_until = EXCLUDED.locked_until
	`
	if _, err := r.exec.Exec(ctx, query, identity, until); err != nil {
		return fmt.Errorf("upsert lockout: %w", err)
	}
	return nil
}

// ClearLockout deletes the identity's lockout row
func (r *PostgresAttemptStore) ClearLockout(ctx context.Context, identity string) error {
	if _, err := r.exec.Exec(ctx, `DELETE FROM auth_lockouts WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("delete lockout: %w", err)
	}
	return nil
}

// CountLockouts counts lockouts still active at now
func (r *PostgresAttemptStore) CountLockouts(ctx context.Context, now time.Time) (int, error) {
	var count int
	if err := r.exec.QueryRow(ctx, `SELECT COUNT(*) FROM auth_lockouts WHERE locked_until > $1`, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count lockouts: %w", err)
	}
	return count, nil
}

// Reset truncates both tables
func (r *PostgresAttemptStore) Reset(ctx context.Context) error {
	if _, err := r.exec.Exec(ctx, `TRUNCATE TABLE auth_attempts, auth_lockouts`); err != nil {
		return fmt.Errorf("truncate ledger: %w", err)
	}
	return nil
}

var _ AttemptStore = (*PostgresAttemptStore)(nil)
