// Package history provides SQLite-backed persistence of past collection
// batches, so earlier manifests stay queryable after their output
// directories are cleared.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/ci-collect/internal/domain"
)

// Store provides SQLite-backed batch persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// BatchRecord summarizes one recorded collection batch
type BatchRecord struct {
	ID             string
	StartedAt      string
	FinishedAt     string
	ReposFile      string
	WorkflowFilter string
	RepoCount      int
	OKCount        int
	OutputDir      string
}

// ItemRecord is one per-repository row of a recorded batch
type ItemRecord struct {
	Repo       string
	RunID      int64 // 0 when no run was selected
	Status     string
	Conclusion string
	DownloadOK bool
	Error      string
}

// RecordBatch persists a finished manifest and returns the batch id
func (s *Store) RecordBatch(m *domain.Manifest, outputDir string) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batches (id, started_at, finished_at, repos_file, workflow_filter, repo_count, ok_count, output_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		m.UTCStart,
		m.UTCEnd,
		m.ReposFile,
		m.WorkflowFilter,
		len(m.Items),
		m.DownloadsOK(),
		outputDir,
	)
	if err != nil {
		return "", err
	}

	for _, item := range m.Items {
		var runID sql.NullInt64
		var status, conclusion sql.NullString
		if item.SelectedRun != nil {
			runID = sql.NullInt64{Int64: item.SelectedRun.DatabaseID, Valid: true}
			status = sql.NullString{String: item.SelectedRun.Status, Valid: true}
			conclusion = sql.NullString{String: item.SelectedRun.Conclusion, Valid: true}
		}
		_, err = tx.Exec(`
			INSERT INTO batch_items (batch_id, repo, run_id, status, conclusion, download_ok, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, item.Repo, runID, status, conclusion, item.DownloadOK, nullString(item.Error))
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListBatches returns the most recent batches, newest first
func (s *Store) ListBatches(limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, repos_file, workflow_filter, repo_count, ok_count, output_dir
		FROM batches ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		var b BatchRecord
		var filter sql.NullString
		if err := rows.Scan(&b.ID, &b.StartedAt, &b.FinishedAt, &b.ReposFile, &filter, &b.RepoCount, &b.OKCount, &b.OutputDir); err != nil {
			return nil, err
		}
		b.WorkflowFilter = filter.String
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// BatchItems returns the per-repository rows of a batch, in insert order
func (s *Store) BatchItems(batchID string) ([]ItemRecord, error) {
	rows, err := s.db.Query(`
		SELECT repo, run_id, status, conclusion, download_ok, error
		FROM batch_items WHERE batch_id = ? ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var it ItemRecord
		var runID sql.NullInt64
		var status, conclusion, errText sql.NullString
		if err := rows.Scan(&it.Repo, &runID, &status, &conclusion, &it.DownloadOK, &errText); err != nil {
			return nil, err
		}
		it.RunID = runID.Int64
		it.Status = status.String
		it.Conclusion = conclusion.String
		it.Error = errText.String
		items = append(items, it)
	}
	return items, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
