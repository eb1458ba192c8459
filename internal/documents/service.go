package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance-backend/internal/assistant"
	"compliance-backend/internal/poll"
	"compliance-backend/internal/retry"
	"compliance-backend/internal/shared/config"
	"compliance-backend/internal/shared/metrics"
	"compliance-backend/internal/shared/storage/object"
	"compliance-backend/internal/shared/telemetry"
	"compliance-backend/internal/shared/util"
)

// Service contains business logic for document ingestion.
type Service struct {
	Repo    Repo
	Store   object.ObjectStore
	Files   assistant.FileClient
	Indexes assistant.IndexClient
	Cfg     config.IngestionConfig

	CleanupCfg config.CleanupConfig

	Retry *retry.Runner
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// Async controls whether ingestion continues in a goroutine after
	// Create returns. Tests set it false to run inline.
	Async bool
}

// NewService wires a Service with production defaults.
func NewService(repo Repo, store object.ObjectStore, files assistant.FileClient, indexes assistant.IndexClient, cfg config.IngestionConfig, cleanupCfg config.CleanupConfig) *Service {
	return &Service{
		Repo:       repo,
		Store:      store,
		Files:      files,
		Indexes:    indexes,
		Cfg:        cfg,
		CleanupCfg: cleanupCfg,
		Retry:      &retry.Runner{},
		Now:        time.Now,
		Async:      true,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create validates and records an upload, then drives remote ingestion. An
// identical active document short-circuits with DuplicateDocumentError.
func (s *Service) Create(ctx context.Context, userID, fileName string, data []byte) (Document, error) {
	if userID == "" {
		return Document{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	mimeType, err := ValidateUpload(fileName, data, s.Cfg.MaxUploadBytes)
	if err != nil {
		return Document{}, err
	}

	contentHash := util.ContentSHA256(data)
	if existing, err := s.Repo.GetActiveByHash(ctx, userID, contentHash); err == nil {
		return Document{}, &DuplicateDocumentError{Existing: existing}
	} else if !errors.Is(err, ErrNotFound) {
		return Document{}, err
	}

	storageKey, _, _, err := s.Store.Save(ctx, userID, fileName, bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("store upload: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(s.Cfg.RetentionDays) * 24 * time.Hour)
	doc := Document{
		ID:            uuid.NewString(),
		UserID:        userID,
		FileName:      fileName,
		MimeType:      mimeType,
		SizeBytes:     int64(len(data)),
		ContentSHA256: contentHash,
		StorageKey:    storageKey,
		Status:        StatusProcessing,
		ProgressStage: StageValidating,
		IndexStatus:   IndexStatusPending,
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}

	metrics.IncIngestionStarted()
	telemetry.Info("ingestion.started", map[string]any{
		"request_id":  requestIDFromContext(ctx),
		"user_id":     userID,
		"document_id": doc.ID,
		"file_name":   fileName,
		"size_bytes":  doc.SizeBytes,
	})

	if s.Async {
		go s.processAsync(backgroundWithRequestID(ctx), doc.ID, userID, fileName, data)
	} else {
		s.processAsync(ctx, doc.ID, userID, fileName, data)
	}
	return doc, nil
}

// Get returns a document by ID.
func (s *Service) Get(ctx context.Context, userID, documentID string) (Document, error) {
	if documentID == "" {
		return Document{}, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	return s.Repo.GetByID(ctx, userID, documentID)
}

// List returns documents for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// Delete retires a document on user request, releasing remote resources
// best-effort before the soft delete.
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.Repo.GetByID(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if doc.DeletedAt != nil {
		return nil
	}
	s.releaseRemote(ctx, doc)
	if doc.StorageKey != "" {
		if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
			telemetry.Warn("document.storage_delete_failed", map[string]any{
				"document_id": doc.ID,
				"error":       err.Error(),
			})
		}
	}
	deleted, err := s.Repo.SoftDelete(ctx, documentID, "user")
	if err != nil {
		return err
	}
	if deleted {
		telemetry.Info("document.deleted", map[string]any{
			"request_id":  requestIDFromContext(ctx),
			"user_id":     userID,
			"document_id": documentID,
			"source":      "user",
		})
	}
	return nil
}

// processAsync drives a document through the remote ingestion stages. Every
// stage transition is persisted before the stage's work begins, so a crash
// leaves an accurate progress record behind.
func (s *Service) processAsync(ctx context.Context, documentID, userID, fileName string, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("panic: %v", rec))
		}
	}()

	attempts := s.Cfg.RemoteAttempts
	if attempts < 1 {
		attempts = 1
	}

	// uploading_file
	if err := s.enterStage(ctx, documentID, userID, StageUploadingFile); err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, err)
		return
	}
	var remoteFileID string
	err := s.Retry.Do(ctx, "assistant.upload_file", attempts, retry.Generic, func(ctx context.Context) error {
		id, err := s.Files.UploadFile(ctx, fileName, data)
		if err != nil {
			return err
		}
		remoteFileID = id
		return nil
	})
	if err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("upload remote file: %w", err))
		return
	}
	if err := s.Repo.SetRemoteFile(ctx, documentID, remoteFileID); err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("set remote file failed: %w", err))
		return
	}

	// creating_index
	if err := s.enterStage(ctx, documentID, userID, StageCreatingIndex); err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, err)
		return
	}
	var remoteIndexID string
	err = s.Retry.Do(ctx, "assistant.create_index", attempts, retry.Generic, func(ctx context.Context) error {
		id, err := s.Indexes.CreateIndex(ctx, indexName(documentID), s.Cfg.RetentionDays)
		if err != nil {
			return err
		}
		remoteIndexID = id
		return nil
	})
	if err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("create remote index: %w", err))
		return
	}
	if err := s.Repo.SetRemoteIndex(ctx, documentID, remoteIndexID); err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("set remote index failed: %w", err))
		return
	}

	// attaching_file
	if err := s.enterStage(ctx, documentID, userID, StageAttachingFile); err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, err)
		return
	}
	err = s.Retry.Do(ctx, "assistant.attach_file", attempts, retry.Generic, func(ctx context.Context) error {
		return s.Indexes.AttachFile(ctx, remoteIndexID, remoteFileID)
	})
	if err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("attach remote file: %w", err))
		return
	}

	// generating_embeddings
	if err := s.enterStage(ctx, documentID, userID, StageGeneratingEmbeddings); err != nil {
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, err)
		return
	}
	outcome := s.awaitIndexReady(ctx, remoteIndexID)
	switch outcome {
	case poll.OutcomeCompleted:
		if err := s.Repo.MarkReady(ctx, documentID); err != nil {
			s.failIngestion(ctx, documentID, userID, IndexStatusFailed, fmt.Errorf("mark ready failed: %w", err))
			return
		}
		metrics.IncIngestionCompleted()
		telemetry.Info("ingestion.completed", map[string]any{
			"request_id":      requestIDFromContext(ctx),
			"user_id":         userID,
			"document_id":     documentID,
			"remote_file_id":  remoteFileID,
			"remote_index_id": remoteIndexID,
		})
	case poll.OutcomeFailed:
		s.failIngestion(ctx, documentID, userID, IndexStatusFailed, errors.New("remote index reported failed files"))
	default:
		s.failIngestion(ctx, documentID, userID, IndexStatusTimedOut, errors.New("remote index readiness timeout"))
	}
}

func (s *Service) enterStage(ctx context.Context, documentID, userID string, stage Stage) error {
	if err := s.Repo.UpdateStage(ctx, documentID, stage); err != nil {
		return fmt.Errorf("persist stage %s: %w", stage, err)
	}
	telemetry.Info("ingestion.stage", map[string]any{
		"request_id":  requestIDFromContext(ctx),
		"user_id":     userID,
		"document_id": documentID,
		"stage":       string(stage),
	})
	return nil
}

func (s *Service) awaitIndexReady(ctx context.Context, indexID string) poll.Outcome {
	poller := &poll.Poller{
		Fetch: func(ctx context.Context) (poll.Status, error) {
			status, err := s.Indexes.GetIndexStatus(ctx, indexID)
			if err != nil {
				return poll.Status{}, err
			}
			return poll.Status{
				State:      status.Status,
				InProgress: status.InProgress,
				Completed:  status.Completed,
				Failed:     status.Failed,
			}, nil
		},
		Now:   s.Now,
		Sleep: s.Sleep,
	}
	return poller.RunWithObserver(ctx, poll.Config{
		BaseInterval: s.Cfg.ReadinessInterval,
		Timeout:      s.Cfg.ReadinessTimeout,
	}, indexObserver{indexID: indexID})
}

type indexObserver struct {
	indexID string
}

func (o indexObserver) StatusChanged(status poll.Status, elapsed time.Duration) {
	telemetry.Info("ingestion.index_status", map[string]any{
		"remote_index_id": o.indexID,
		"state":           status.State,
		"in_progress":     status.InProgress,
		"completed":       status.Completed,
		"failed":          status.Failed,
		"elapsed_ms":      float64(elapsed.Microseconds()) / 1000.0,
	})
}

// failIngestion records the error state and releases any remote resources
// created during this ingestion. It deliberately re-reads the document so
// cleanup only targets IDs that were persisted.
func (s *Service) failIngestion(ctx context.Context, documentID, userID string, indexStatus IndexStatus, cause error) {
	msg := sanitizeError(cause)
	if err := s.Repo.MarkError(context.Background(), documentID, indexStatus, msg); err != nil {
		telemetry.Error("ingestion.mark_error_failed", map[string]any{
			"document_id": documentID,
			"error":       err.Error(),
			"cause":       msg,
		})
	}
	metrics.IncIngestionFailed()
	telemetry.Error("ingestion.failed", map[string]any{
		"request_id":   requestIDFromContext(ctx),
		"user_id":      userID,
		"document_id":  documentID,
		"index_status": string(indexStatus),
		"error":        msg,
	})

	if doc, err := s.Repo.GetByID(ctx, userID, documentID); err == nil {
		s.releaseRemote(ctx, doc)
	}
}

// releaseRemote deletes the document's remote index and file best-effort.
// Failures are logged, never raised.
func (s *Service) releaseRemote(ctx context.Context, doc Document) {
	attempts := s.CleanupCfg.DeleteAttempts
	if attempts < 1 {
		attempts = 2
	}
	if doc.RemoteIndexID != "" {
		ok := s.Retry.DoOK(ctx, "assistant.delete_index", attempts, retry.Generic, func(ctx context.Context) error {
			return s.Indexes.DeleteIndex(ctx, doc.RemoteIndexID)
		})
		if !ok {
			telemetry.Warn("document.remote_index_delete_failed", map[string]any{
				"document_id":     doc.ID,
				"remote_index_id": doc.RemoteIndexID,
			})
		}
	}
	if doc.RemoteFileID != "" {
		ok := s.Retry.DoOK(ctx, "assistant.delete_file", attempts, retry.Generic, func(ctx context.Context) error {
			return s.Files.DeleteFile(ctx, doc.RemoteFileID)
		})
		if !ok {
			telemetry.Warn("document.remote_file_delete_failed", map[string]any{
				"document_id":    doc.ID,
				"remote_file_id": doc.RemoteFileID,
			})
		}
	}
}

func indexName(documentID string) string {
	return "doc-index-" + documentID
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
