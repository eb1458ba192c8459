package documents

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `
id, user_id, file_name, mime_type, size_bytes, content_sha256, storage_key,
status, progress_stage, index_status, remote_file_id, remote_index_id,
error_message, expires_at, deleted_at, deletion_source, created_at, updated_at`

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id, user_id, file_name, mime_type, size_bytes, content_sha256, storage_key,
    status, progress_stage, index_status, remote_file_id, remote_index_id,
    error_message, expires_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`

	var expiresAt sql.NullTime
	if doc.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *doc.ExpiresAt, Valid: true}
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.UserID,
		doc.FileName,
		doc.MimeType,
		doc.SizeBytes,
		doc.ContentSHA256,
		doc.StorageKey,
		string(doc.Status),
		string(doc.ProgressStage),
		string(doc.IndexStatus),
		doc.RemoteFileID,
		doc.RemoteIndexID,
		doc.ErrorMessage,
		expiresAt,
		doc.CreatedAt,
	)
	return err
}

// GetByID fetches a document by ID for a user.
func (r *PGRepo) GetByID(ctx context.Context, userID, documentID string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND id = $2
LIMIT 1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, userID, documentID))
}

// ListByUser lists documents ordered newest-first, excluding deleted ones.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetActiveByHash finds a live document with identical content for the owner.
func (r *PGRepo) GetActiveByHash(ctx context.Context, userID, contentSHA256 string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND content_sha256 = $2 AND deleted_at IS NULL AND status != 'error'
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY created_at DESC
LIMIT 1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, userID, contentSHA256))
}

// UpdateStage records a progress stage transition.
func (r *PGRepo) UpdateStage(ctx context.Context, documentID string, stage Stage) error {
	const query = `
UPDATE documents
SET progress_stage = $1, updated_at = now()
WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, string(stage), documentID)
	return err
}

// SetRemoteFile records the remote file ID once upload succeeds.
func (r *PGRepo) SetRemoteFile(ctx context.Context, documentID, remoteFileID string) error {
	const query = `
UPDATE documents
SET remote_file_id = $1, updated_at = now()
WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, remoteFileID, documentID)
	return err
}

// SetRemoteIndex records the remote index ID once creation succeeds.
func (r *PGRepo) SetRemoteIndex(ctx context.Context, documentID, remoteIndexID string) error {
	const query = `
UPDATE documents
SET remote_index_id = $1, updated_at = now()
WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, remoteIndexID, documentID)
	return err
}

// MarkReady transitions a document to completed with a ready index.
func (r *PGRepo) MarkReady(ctx context.Context, documentID string) error {
	const query = `
UPDATE documents
SET status = 'completed', progress_stage = 'completed', index_status = 'ready',
    error_message = '', updated_at = now()
WHERE id = $1`
	_, err := r.DB.ExecContext(ctx, query, documentID)
	return err
}

// MarkError transitions a document to the error state.
func (r *PGRepo) MarkError(ctx context.Context, documentID string, indexStatus IndexStatus, message string) error {
	const query = `
UPDATE documents
SET status = 'error', progress_stage = 'error', index_status = $1,
    error_message = $2, updated_at = now()
WHERE id = $3`
	_, err := r.DB.ExecContext(ctx, query, string(indexStatus), message, documentID)
	return err
}

// ListExpired returns live documents whose retention has lapsed, oldest-first.
func (r *PGRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE deleted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`

	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// SoftDelete retires a document. The deleted_at guard makes concurrent
// sweeps safe: only one caller observes true for a given document.
func (r *PGRepo) SoftDelete(ctx context.Context, documentID, source string) (bool, error) {
	const query = `
UPDATE documents
SET status = 'deleted', deleted_at = now(), deletion_source = $1, updated_at = now()
WHERE id = $2 AND deleted_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, source, documentID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PGRepo) scanOne(row *sql.Row) (Document, error) {
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status, stage, indexStatus string
	var expiresAt, deletedAt sql.NullTime
	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.FileName,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.ContentSHA256,
		&doc.StorageKey,
		&status,
		&stage,
		&indexStatus,
		&doc.RemoteFileID,
		&doc.RemoteIndexID,
		&doc.ErrorMessage,
		&expiresAt,
		&deletedAt,
		&doc.DeletionSource,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	doc.ProgressStage = Stage(stage)
	doc.IndexStatus = IndexStatus(indexStatus)
	if expiresAt.Valid {
		doc.ExpiresAt = &expiresAt.Time
	}
	if deletedAt.Valid {
		doc.DeletedAt = &deletedAt.Time
	}
	return doc, nil
}

var _ Repo = (*PGRepo)(nil)
