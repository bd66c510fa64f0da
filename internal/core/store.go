package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/framefarm/pkg/api"
)

// Store is a SQLite-backed ledger of task and merge results.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Tasks finish concurrently; a single connection serializes the writers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// TaskRecord is one row of task history.
type TaskRecord struct {
	JobID      string
	Frame      int
	TaskID     string
	Status     api.RunStatus
	Output     string
	Outputs    int
	Preview    string
	RecordedAt time.Time
}

// RecordTask stores the latest result for a frame, replacing earlier attempts.
func (s *Store) RecordTask(ctx context.Context, task api.Task, res *api.TaskResult) error {
	preview := ""
	if p := res.Outputs(api.FilePreview); len(p) > 0 {
		preview = p[0]
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (job_id, frame, task_id, status, output, outputs, preview, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.JobID, task.Index, task.ID, string(res.Status), res.Output,
		len(res.Outputs(api.FileOutput)), preview, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

// RecordMerge stores a job's archive, preview and file digests.
func (s *Store) RecordMerge(ctx context.Context, res *api.JobResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (id, output_file, preview_file, merged_at) VALUES (?, ?, ?, ?)`,
		res.JobID, res.OutputFile, res.PreviewFile, time.Now().UTC()); err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_files WHERE job_id = ?`, res.JobID); err != nil {
		return fmt.Errorf("clear job files: %w", err)
	}
	for _, d := range res.Manifest {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_files (job_id, name, size, blake3) VALUES (?, ?, ?, ?)`,
			res.JobID, d.Name, d.Size, d.BLAKE3); err != nil {
			return fmt.Errorf("record job file %s: %w", d.Name, err)
		}
	}
	return tx.Commit()
}

// TaskHistory returns the recorded tasks of a job in frame order.
func (s *Store) TaskHistory(ctx context.Context, jobID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, frame, task_id, status, output, outputs, preview, recorded_at
		 FROM tasks WHERE job_id = ? ORDER BY frame`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var status string
		if err := rows.Scan(&r.JobID, &r.Frame, &r.TaskID, &status, &r.Output, &r.Outputs, &r.Preview, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		r.Status = api.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// JobRecord is a merged job with its archived files.
type JobRecord struct {
	Result   api.JobResult
	MergedAt time.Time
}

// Job returns the merge record of a job, or sql.ErrNoRows.
func (s *Store) Job(ctx context.Context, jobID string) (*JobRecord, error) {
	rec := &JobRecord{Result: api.JobResult{JobID: jobID}}
	err := s.db.QueryRowContext(ctx,
		`SELECT output_file, preview_file, merged_at FROM jobs WHERE id = ?`, jobID).
		Scan(&rec.Result.OutputFile, &rec.Result.PreviewFile, &rec.MergedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, size, blake3 FROM job_files WHERE job_id = ? ORDER BY name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d api.FileDigest
		if err := rows.Scan(&d.Name, &d.Size, &d.BLAKE3); err != nil {
			return nil, fmt.Errorf("scan job file: %w", err)
		}
		rec.Result.Manifest = append(rec.Result.Manifest, d)
	}
	return rec, rows.Err()
}
