package documents

import "time"

// Status is the coarse lifecycle state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusDeleted    Status = "deleted"
)

// Stage is the fine-grained ingestion progress stage.
type Stage string

const (
	StageValidating           Stage = "validating"
	StageUploadingFile        Stage = "uploading_file"
	StageCreatingIndex        Stage = "creating_index"
	StageAttachingFile        Stage = "attaching_file"
	StageGeneratingEmbeddings Stage = "generating_embeddings"
	StageCompleted            Stage = "completed"
	StageError                Stage = "error"
)

// IndexStatus mirrors the remote index readiness as last observed.
type IndexStatus string

const (
	IndexStatusPending  IndexStatus = "pending"
	IndexStatusReady    IndexStatus = "ready"
	IndexStatusFailed   IndexStatus = "failed"
	IndexStatusTimedOut IndexStatus = "timed_out"
)

// Document represents an uploaded document owned by a user, tracked through
// remote ingestion and retention-based cleanup.
type Document struct {
	ID             string
	UserID         string
	FileName       string
	MimeType       string
	SizeBytes      int64
	ContentSHA256  string
	StorageKey     string
	Status         Status
	ProgressStage  Stage
	IndexStatus    IndexStatus
	RemoteFileID   string
	RemoteIndexID  string
	ErrorMessage   string
	ExpiresAt      *time.Time
	DeletedAt      *time.Time
	DeletionSource string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the document still participates in dedup: not
// soft-deleted, not failed, and not past its retention expiry. An expired
// record no longer blocks a re-upload even before the sweep retires it.
func (d Document) Active(now time.Time) bool {
	if d.DeletedAt != nil || d.Status == StatusError {
		return false
	}
	return d.ExpiresAt == nil || d.ExpiresAt.After(now)
}
