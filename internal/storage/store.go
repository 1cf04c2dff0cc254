// Package storage persists review runs and their findings to the relational
// store. One review run row is created when a pipeline run starts; findings
// and the published flag are written when the run completes.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sevigo/reviewcore/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ReviewRun is one pipeline execution for a pull request head.
type ReviewRun struct {
	ID             string         `db:"id"`
	PRID           string         `db:"pr_id"`
	RepoFullName   string         `db:"repo_full_name"`
	PRNumber       int            `db:"pr_number"`
	LLMModel       string         `db:"llm_model"`
	HeadSHA        string         `db:"head_sha"`
	Status         string         `db:"status"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	Published      bool           `db:"published"`
	GitHubReviewID sql.NullInt64  `db:"github_review_id"`
	ErrorMessage   sql.NullString `db:"error_message"`
	Summary        string         `db:"summary"`
}

// ReviewFinding is one persisted finding row.
type ReviewFinding struct {
	ID          int64  `db:"id"`
	ReviewRunID string `db:"review_run_id"`
	FilePath    string `db:"file_path"`
	LineNumber  int    `db:"line_number"`
	FindingType string `db:"finding_type"`
	Severity    string `db:"severity"`
	Message     string `db:"message"`
	Suggestion  string `db:"suggestion"`
}

// StoredSeverity maps a normalized severity to its upper-case canonical
// storage form. Unknown severities are upper-cased as-is.
func StoredSeverity(s model.Severity) string {
	switch s {
	case model.SeverityBlocker:
		return "CRITICAL"
	case model.SeverityHigh:
		return "HIGH"
	case model.SeverityMedium:
		return "MEDIUM"
	case model.SeverityLow:
		return "LOW"
	case model.SeverityNit:
		return "NIT"
	default:
		return strings.ToUpper(string(s))
	}
}

// Store is the persistence surface the pipeline and the status tooling use.
//
//go:generate mockgen -destination=../../mocks/mock_store.go -package=mocks github.com/sevigo/reviewcore/internal/storage Store
type Store interface {
	CreateReviewRun(ctx context.Context, run *ReviewRun) error
	FinishReviewRun(ctx context.Context, runID, status, summary, errorMessage string) error
	MarkReviewRunPublished(ctx context.Context, runID string, githubReviewID int64) error
	MarkReviewRunUnpublished(ctx context.Context, runID, errorMessage string) error
	SaveFindings(ctx context.Context, runID string, findings []ReviewFinding) error
	GetReviewRun(ctx context.Context, runID string) (*ReviewRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]*ReviewRun, error)
	GetFindingsForRun(ctx context.Context, runID string) ([]*ReviewFinding, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

// CreateReviewRun inserts the initial row for a run with status "running".
func (s *postgresStore) CreateReviewRun(ctx context.Context, run *ReviewRun) error {
	query := `
		INSERT INTO review_runs (id, pr_id, repo_full_name, pr_number, llm_model, head_sha, status, started_at, published, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, '')`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.PRID, run.RepoFullName, run.PRNumber, run.LLMModel, run.HeadSHA, RunStatusRunning, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert review run: %w", err)
	}
	return nil
}

// FinishReviewRun records the terminal status of a run. errorMessage may be
// empty for successful runs.
func (s *postgresStore) FinishReviewRun(ctx context.Context, runID, status, summary, errorMessage string) error {
	query := `
		UPDATE review_runs
		SET status = $2, summary = $3, error_message = NULLIF($4, ''), completed_at = NOW()
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, runID, status, summary, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to finish review run: %w", err)
	}
	return requireOneRow(res)
}

// MarkReviewRunPublished stores the external review id and flips the
// published flag in one statement.
func (s *postgresStore) MarkReviewRunPublished(ctx context.Context, runID string, githubReviewID int64) error {
	query := `UPDATE review_runs SET published = TRUE, github_review_id = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, runID, githubReviewID)
	if err != nil {
		return fmt.Errorf("failed to mark review run published: %w", err)
	}
	return requireOneRow(res)
}

// MarkReviewRunUnpublished records a publish failure; the run itself still
// counts as completed and its content is recoverable from the findings table.
func (s *postgresStore) MarkReviewRunUnpublished(ctx context.Context, runID, errorMessage string) error {
	query := `UPDATE review_runs SET published = FALSE, error_message = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, runID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark review run unpublished: %w", err)
	}
	return requireOneRow(res)
}

// SaveFindings writes all findings of a run in a single transaction.
func (s *postgresStore) SaveFindings(ctx context.Context, runID string, findings []ReviewFinding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin findings transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, pq.CopyIn("review_findings",
		"review_run_id", "file_path", "line_number", "finding_type", "severity", "message", "suggestion"))
	if err != nil {
		return fmt.Errorf("failed to prepare findings copy: %w", err)
	}
	for _, f := range findings {
		if _, err := stmt.ExecContext(ctx, runID, f.FilePath, f.LineNumber, f.FindingType, f.Severity, f.Message, f.Suggestion); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy finding row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush findings copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close findings statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	return nil
}

// GetReviewRun fetches one run by id.
func (s *postgresStore) GetReviewRun(ctx context.Context, runID string) (*ReviewRun, error) {
	var run ReviewRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM review_runs WHERE id = $1`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get review run: %w", err)
	}
	return &run, nil
}

// ListRecentRuns returns the newest runs first.
func (s *postgresStore) ListRecentRuns(ctx context.Context, limit int) ([]*ReviewRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*ReviewRun
	err := s.db.SelectContext(ctx, &runs,
		`SELECT * FROM review_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list review runs: %w", err)
	}
	return runs, nil
}

// GetFindingsForRun returns the persisted findings of a run in insertion
// order.
func (s *postgresStore) GetFindingsForRun(ctx context.Context, runID string) ([]*ReviewFinding, error) {
	var findings []*ReviewFinding
	err := s.db.SelectContext(ctx, &findings,
		`SELECT * FROM review_findings WHERE review_run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get findings for run: %w", err)
	}
	return findings, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
