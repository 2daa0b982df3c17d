package metadatastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
)

// maxIncrementAttempts bounds the retry loop for IncrementInvocation at
// spec §4.2's "up to 3 attempts" before the update is dropped.
const maxIncrementAttempts = 3

// PostgresStore is the C2 backend used when STORAGE_BACKEND=remote. It
// queries the skill_metadata table directly via database/sql, following
// the schema created by pkg/database's 000001_create_skill_metadata
// migration.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Put(ctx context.Context, m Meta) error {
	versions, err := json.Marshal(m.AllVersions)
	if err != nil {
		return fmt.Errorf("marshal all_versions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skill_metadata (skill_id, version, all_versions, status, load_error, manifest_json, invocation_count, last_invoked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, now(), now())
		ON CONFLICT (skill_id) DO UPDATE SET
			version = EXCLUDED.version,
			all_versions = EXCLUDED.all_versions,
			status = EXCLUDED.status,
			load_error = EXCLUDED.load_error,
			manifest_json = EXCLUDED.manifest_json,
			updated_at = now()
	`, m.SkillID, m.Version, versions, string(m.Status), m.LoadError, m.ManifestJSON, m.InvocationCount, m.LastInvokedAt)
	if err != nil {
		return fmt.Errorf("put skill metadata %q: %w", m.SkillID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, skillID string) (*Meta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT skill_id, version, all_versions, status, load_error, manifest_json,
		       invocation_count, last_invoked_at, created_at, updated_at
		FROM skill_metadata WHERE skill_id = $1
	`, skillID)

	m, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get skill metadata %q: %w", skillID, err)
	}
	return m, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status) ([]Meta, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT skill_id, version, all_versions, status, load_error, manifest_json,
			       invocation_count, last_invoked_at, created_at, updated_at
			FROM skill_metadata ORDER BY updated_at DESC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT skill_id, version, all_versions, status, load_error, manifest_json,
			       invocation_count, last_invoked_at, created_at, updated_at
			FROM skill_metadata WHERE status = $1 ORDER BY updated_at DESC
		`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list skill metadata: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill metadata row: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, skillID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM skill_metadata WHERE skill_id = $1`, skillID)
	if err != nil {
		return fmt.Errorf("delete skill metadata %q: %w", skillID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

// IncrementInvocation issues a single conditional UPDATE, retrying with
// bounded exponential backoff on transient failure. After the final
// attempt it logs and returns nil: counter drift is acceptable per spec
// §4.2, invocation correctness is not coupled to it.
func (s *PostgresStore) IncrementInvocation(ctx context.Context, skillID string, at time.Time) error {
	var lastErr error
	for attempt := 0; attempt < maxIncrementAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 50 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE skill_metadata
			SET invocation_count = invocation_count + 1, last_invoked_at = $2, updated_at = now()
			WHERE skill_id = $1
		`, skillID, at)
		if err == nil {
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
			return nil // skill no longer in metadata store; nothing to increment
		}
		lastErr = err
	}

	s.logger.Warn("dropping invocation counter increment after exhausted retries",
		"skill_id", skillID, "attempts", maxIncrementAttempts, "error", lastErr)
	return nil
}

// Ping issues a lightweight round trip to confirm the connection pool can
// still reach Postgres.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (*Meta, error) {
	var (
		m           Meta
		versionsRaw []byte
		status      string
		loadError   sql.NullString
		lastInvoked sql.NullTime
	)

	err := row.Scan(
		&m.SkillID, &m.Version, &versionsRaw, &status, &loadError, &m.ManifestJSON,
		&m.InvocationCount, &lastInvoked, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(versionsRaw, &m.AllVersions); err != nil {
		return nil, fmt.Errorf("unmarshal all_versions: %w", err)
	}
	m.Status = Status(status)
	if loadError.Valid {
		m.LoadError = loadError.String
	}
	if lastInvoked.Valid {
		t := lastInvoked.Time
		m.LastInvokedAt = &t
	}
	return &m, nil
}
