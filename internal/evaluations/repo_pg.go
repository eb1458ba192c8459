package evaluations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const evaluationColumns = `
id, user_id, document_id, scheme_id, document_type_id, checklist_item_ids,
status, thread_id, error_code, error_message, yes_count, no_count,
partial_count, total_count, processing_time_ms, request_id, created_at, updated_at`

// Create inserts a new evaluation.
func (r *PGRepo) Create(ctx context.Context, eval Evaluation) error {
	const query = `
INSERT INTO evaluations (
    id, user_id, document_id, scheme_id, document_type_id, checklist_item_ids,
    status, thread_id, error_code, error_message, yes_count, no_count,
    partial_count, total_count, processing_time_ms, request_id, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		eval.ID,
		eval.UserID,
		eval.DocumentID,
		eval.SchemeID,
		eval.DocumentTypeID,
		joinItemIDs(eval.ChecklistItemIDs),
		string(eval.Status),
		eval.ThreadID,
		eval.ErrorCode,
		eval.ErrorMessage,
		eval.Stats.Yes,
		eval.Stats.No,
		eval.Stats.Partial,
		eval.Stats.Total,
		eval.ProcessingTimeMs,
		eval.RequestID,
		eval.CreatedAt,
	)
	return err
}

// GetByID fetches an evaluation by ID.
func (r *PGRepo) GetByID(ctx context.Context, evaluationID string) (Evaluation, error) {
	query := `SELECT ` + evaluationColumns + `
FROM evaluations
WHERE id = $1
LIMIT 1`
	eval, err := scanEvaluation(r.DB.QueryRowContext(ctx, query, evaluationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Evaluation{}, ErrNotFound
		}
		return Evaluation{}, err
	}
	return eval, nil
}

// ListByUser lists evaluations ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + evaluationColumns + `
FROM evaluations
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, eval)
	}
	return out, rows.Err()
}

// UpdateStatus records a status transition.
func (r *PGRepo) UpdateStatus(ctx context.Context, evaluationID string, status Status) error {
	const query = `
UPDATE evaluations
SET status = $1, updated_at = now()
WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, string(status), evaluationID)
	return err
}

// SetThreadID records the conversation used for this evaluation.
func (r *PGRepo) SetThreadID(ctx context.Context, evaluationID, threadID string) error {
	const query = `
UPDATE evaluations
SET thread_id = $1, updated_at = now()
WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, threadID, evaluationID)
	return err
}

// CompleteWithResults persists all item results, summary stats, and the
// completed status in a single transaction so a partial write can never be
// observed.
func (r *PGRepo) CompleteWithResults(ctx context.Context, evaluationID string, results []ItemResult, stats SummaryStats, processingTimeMs int64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const insertQuery = `
INSERT INTO evaluation_item_results (
    id, evaluation_id, checklist_item_id, item_text, status, remarks, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (evaluation_id, checklist_item_id)
DO UPDATE SET status = EXCLUDED.status, remarks = EXCLUDED.remarks`

	for _, result := range results {
		if _, err := tx.ExecContext(
			ctx,
			insertQuery,
			result.ID,
			evaluationID,
			result.ChecklistItemID,
			result.ItemText,
			result.Status,
			result.Remarks,
			result.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert item result: %w", err)
		}
	}

	const updateQuery = `
UPDATE evaluations
SET status = 'completed', yes_count = $1, no_count = $2, partial_count = $3,
    total_count = $4, processing_time_ms = $5, error_code = '', error_message = '',
    updated_at = now()
WHERE id = $6`
	if _, err := tx.ExecContext(
		ctx,
		updateQuery,
		stats.Yes,
		stats.No,
		stats.Partial,
		stats.Total,
		processingTimeMs,
		evaluationID,
	); err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}

	return tx.Commit()
}

// MarkFailed records a terminal failure.
func (r *PGRepo) MarkFailed(ctx context.Context, evaluationID, code, message string) error {
	const query = `
UPDATE evaluations
SET status = 'failed', error_code = $1, error_message = $2, updated_at = now()
WHERE id = $3`
	_, err := r.DB.ExecContext(ctx, query, code, message, evaluationID)
	return err
}

// ListResults returns stored item results for an evaluation.
func (r *PGRepo) ListResults(ctx context.Context, evaluationID string) ([]ItemResult, error) {
	const query = `
SELECT id, evaluation_id, checklist_item_id, item_text, status, remarks, created_at
FROM evaluation_item_results
WHERE evaluation_id = $1
ORDER BY checklist_item_id ASC`

	rows, err := r.DB.QueryContext(ctx, query, evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemResult
	for rows.Next() {
		var result ItemResult
		if err := rows.Scan(
			&result.ID,
			&result.EvaluationID,
			&result.ChecklistItemID,
			&result.ItemText,
			&result.Status,
			&result.Remarks,
			&result.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (Evaluation, error) {
	var eval Evaluation
	var status, itemIDs string
	err := row.Scan(
		&eval.ID,
		&eval.UserID,
		&eval.DocumentID,
		&eval.SchemeID,
		&eval.DocumentTypeID,
		&itemIDs,
		&status,
		&eval.ThreadID,
		&eval.ErrorCode,
		&eval.ErrorMessage,
		&eval.Stats.Yes,
		&eval.Stats.No,
		&eval.Stats.Partial,
		&eval.Stats.Total,
		&eval.ProcessingTimeMs,
		&eval.RequestID,
		&eval.CreatedAt,
		&eval.UpdatedAt,
	)
	if err != nil {
		return Evaluation{}, err
	}
	eval.Status = Status(status)
	eval.ChecklistItemIDs = splitItemIDs(itemIDs)
	return eval, nil
}

func joinItemIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitItemIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

var _ Repo = (*PGRepo)(nil)
