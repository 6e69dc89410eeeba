// Package history keeps a local append-only record of deployment runs in
// a SQLite database. It is an audit log for the history command, never an
// input to sync or reconciliation decisions.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/lakedeploy/lakedeploy/pkg/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed run history.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the default history database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lakedeploy-history.db"
	}
	return filepath.Join(home, ".local", "state", "lakedeploy", "history.db")
}

// Open opens (creating if needed) the history database at path and runs
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// PhaseRecord is the serialized form of one phase result.
type PhaseRecord struct {
	Phase      string `json:"phase"`
	Action     string `json:"action"`
	Planned    bool   `json:"planned,omitempty"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunRecord is one recorded run, as returned by ListRuns.
type RunRecord struct {
	ID          string
	Environment string
	AppName     string
	Action      string
	DryRun      bool
	Succeeded   bool
	Error       string
	Phases      []PhaseRecord
	StartedAt   time.Time
	RecordedAt  time.Time
}

// RecordRun implements deploy.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, report *deploy.Report) error {
	rows := make([]PhaseRecord, 0, len(report.Phases))
	for _, p := range report.Phases {
		row := PhaseRecord{
			Phase:      p.Phase,
			Action:     string(p.Action),
			Planned:    p.Planned,
			Detail:     p.Detail,
			DurationMs: p.Duration.Milliseconds(),
		}
		if p.Err != nil {
			row.Error = p.Err.Error()
		}
		rows = append(rows, row)
	}
	phases, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding phase results: %w", err)
	}

	errText := ""
	if first := report.FirstError(); first != nil {
		errText = first.Error()
	}

	query := `
		INSERT INTO runs (id, environment, app_name, action, dry_run, succeeded, error, phases, started_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		report.RunID,
		report.Environment,
		report.AppName,
		report.DeployAction,
		report.DryRun,
		report.Succeeded(),
		errText,
		string(phases),
		report.StartedAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, environment, app_name, action, dry_run, succeeded, error, phases, started_at, recorded_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var phases string
		err := rows.Scan(
			&rec.ID,
			&rec.Environment,
			&rec.AppName,
			&rec.Action,
			&rec.DryRun,
			&rec.Succeeded,
			&rec.Error,
			&phases,
			&rec.StartedAt,
			&rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if err := json.Unmarshal([]byte(phases), &rec.Phases); err != nil {
			return nil, fmt.Errorf("decoding phase results: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
