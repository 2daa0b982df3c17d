package invocationlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore is the C3 backend used when STORAGE_BACKEND=remote,
// querying the invocation_events table directly via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invocation log append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO invocation_events (skill_id, invoked_at, session_id, method, duration_ms, status, error_message, params_excerpt, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		ON CONFLICT (skill_id, invoked_at) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare invocation log insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.SkillID, ev.InvokedAt, ev.SessionID, ev.Method, ev.DurationMS,
			string(ev.Status), ev.ErrorMessage, ev.ParamsExcerpt, ev.ExpiresAt,
		); err != nil {
			return fmt.Errorf("insert invocation event for %q: %w", ev.SkillID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Query(ctx context.Context, skillID string, since *time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if since != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT skill_id, invoked_at, session_id, method, duration_ms, status, error_message, params_excerpt, expires_at
			FROM invocation_events
			WHERE skill_id = $1 AND invoked_at >= $2
			ORDER BY invoked_at DESC
			LIMIT $3
		`, skillID, since.UTC().Format(sortableTimestampLayout), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT skill_id, invoked_at, session_id, method, duration_ms, status, error_message, params_excerpt, expires_at
			FROM invocation_events
			WHERE skill_id = $1
			ORDER BY invoked_at DESC
			LIMIT $2
		`, skillID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query invocation events for %q: %w", skillID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev           Event
			status       string
			errorMessage sql.NullString
			paramsExc    sql.NullString
		)
		if err := rows.Scan(&ev.SkillID, &ev.InvokedAt, &ev.SessionID, &ev.Method, &ev.DurationMS,
			&status, &errorMessage, &paramsExc, &ev.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan invocation event: %w", err)
		}
		ev.Status = Status(status)
		ev.ErrorMessage = errorMessage.String
		ev.ParamsExcerpt = paramsExc.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteExpired enforces the TTL contract (spec §4.3) since Postgres has
// no native per-row TTL mechanism; called periodically by the retention
// sweeper in pkg/cleanup.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocation_events WHERE expires_at < $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired invocation events: %w", err)
	}
	return res.RowsAffected()
}
