package store

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLite implements Store with a sqlite table, one row per job, ordered by pos
type SQLite struct {
	db   *sqlx.DB
	path string
}

// NewSQLite opens sqlite database, schema created by Initialize
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Initialize creates the database schema
func (s *SQLite) Initialize(ctx context.Context) error {
	// ids are not unique by design, two jobs created in the same millisecond share id
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			pos INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_id ON jobs(id)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

type jobRow struct {
	Pos int    `db:"pos"`
	ID  string `db:"id"`
	Doc string `db:"doc"`
}

// LoadAll retrieves all jobs in stored order
func (s *SQLite) LoadAll(ctx context.Context) ([]Job, error) {
	rows := []jobRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT pos, id, doc FROM jobs ORDER BY pos`); err != nil {
		log.Printf("[WARN] failed to query jobs: %v", err)
		return nil, fmt.Errorf("%w: query jobs: %w", ErrUnavailable, err)
	}

	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		var job Job
		if err := json.Unmarshal([]byte(r.Doc), &job); err != nil {
			log.Printf("[WARN] failed to parse job %s at %d: %v", r.ID, r.Pos, err)
			return nil, fmt.Errorf("%w: parse job %s: %w", ErrUnavailable, r.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SaveAll replaces the whole collection in a transaction
func (s *SQLite) SaveAll(ctx context.Context, jobs []Job) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("failed to clear jobs: %w", err)
	}

	for idx, job := range jobs {
		doc, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
		row := jobRow{Pos: idx, ID: job.ID, Doc: string(doc)}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO jobs (pos, id, doc) VALUES (:pos, :id, :doc)`, row); err != nil {
			return fmt.Errorf("failed to save job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) String() string { return "sqlite:" + s.path }
