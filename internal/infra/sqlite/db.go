// Package sqlite provides SQLite-based persistent storage for LabelMint.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/labelmint/labelmint/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.TaskStore.
type DB struct {
	db *sql.DB
}

var _ domain.TaskStore = (*DB)(nil)

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id                   TEXT PRIMARY KEY,
			project_id           TEXT NOT NULL,
			type                 TEXT NOT NULL,
			priority             TEXT NOT NULL DEFAULT 'medium',
			status               TEXT NOT NULL,
			assigned_to          TEXT NOT NULL DEFAULT '',
			previous_assignee    TEXT NOT NULL DEFAULT '',
			assigned_at          INTEGER,
			expires_at           INTEGER,
			labels_required      INTEGER NOT NULL,
			consensus_threshold  INTEGER NOT NULL,
			labels_received      INTEGER NOT NULL DEFAULT 0,
			conflict             BOOLEAN NOT NULL DEFAULT 0,
			additional_reviewers INTEGER NOT NULL DEFAULT 0,
			final_label          TEXT NOT NULL DEFAULT '',
			confidence           REAL NOT NULL DEFAULT 0,
			is_honeypot          BOOLEAN NOT NULL DEFAULT 0,
			expected_label       TEXT NOT NULL DEFAULT '',
			reward               INTEGER NOT NULL DEFAULT 0,
			time_limit_ms        INTEGER NOT NULL,
			created_at           INTEGER NOT NULL,
			started_at           INTEGER,
			completed_at         INTEGER,
			version              INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_expiry ON tasks(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status)`,

		`CREATE TABLE IF NOT EXISTS workers (
			id              TEXT PRIMARY KEY,
			reputation      REAL NOT NULL,
			accuracy        REAL NOT NULL,
			total_tasks     INTEGER NOT NULL DEFAULT 0,
			completed_tasks INTEGER NOT NULL DEFAULT 0,
			last_active_at  INTEGER,
			created_at      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS submissions (
			id            TEXT PRIMARY KEY,
			task_id       TEXT NOT NULL REFERENCES tasks(id),
			user_id       TEXT NOT NULL,
			value         TEXT NOT NULL,
			confidence    REAL NOT NULL,
			time_spent_ms INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			UNIQUE(task_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions(user_id)`,

		// Credit ledger (double-entry bookkeeping)
		`CREATE TABLE IF NOT EXISTS credit_ledger (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			type        TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			account     TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			task_id     TEXT,
			description TEXT,
			balance     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_ts ON credit_ledger(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_account ON credit_ledger(account)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_task ON credit_ledger(task_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// unavailable wraps a driver failure as domain.ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	queryRower
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Extended SQLite result codes for constraint failures.
const (
	sqliteConstraint           = 19
	sqliteConstraintForeignKey = 787
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// isUniqueViolation reports whether err is a SQLite constraint failure on a
// UNIQUE or PRIMARY KEY index.
func isUniqueViolation(err error) bool {
	return constraintIs(err, "UNIQUE constraint failed", sqliteConstraintUnique, sqliteConstraintPrimaryKey)
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	return constraintIs(err, "FOREIGN KEY constraint failed", sqliteConstraintForeignKey)
}

// constraintIs matches err against extended codes, falling back to the
// message when the driver only reports the primary SQLITE_CONSTRAINT code.
func constraintIs(err error, msg string, codes ...int) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code := coded.Code()
		for _, c := range codes {
			if code == c {
				return true
			}
		}
		if code != sqliteConstraint {
			return false
		}
	}
	return strings.Contains(err.Error(), msg)
}

func nullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
