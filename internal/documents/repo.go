package documents

import (
	"context"
	"time"
)

// Repo defines persistence operations for documents.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, userID, documentID string) (Document, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error)
	GetActiveByHash(ctx context.Context, userID, contentSHA256 string) (Document, error)
	UpdateStage(ctx context.Context, documentID string, stage Stage) error
	SetRemoteFile(ctx context.Context, documentID, remoteFileID string) error
	SetRemoteIndex(ctx context.Context, documentID, remoteIndexID string) error
	MarkReady(ctx context.Context, documentID string) error
	MarkError(ctx context.Context, documentID string, indexStatus IndexStatus, message string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Document, error)
	SoftDelete(ctx context.Context, documentID, source string) (bool, error)
}
