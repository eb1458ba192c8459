package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"compliance-backend/internal/assistant"
	"compliance-backend/internal/retry"
	"compliance-backend/internal/shared/config"
)

type fakeStore struct {
	saved    map[string][]byte
	deleted  []string
	onDelete func(storageKey string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string][]byte)}
}

func (f *fakeStore) Save(ctx context.Context, userID, fileName string, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := userID + "/" + fileName
	f.saved[key] = data
	return key, int64(len(data)), "text/plain", nil
}

func (f *fakeStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	data, ok := f.saved[storageKey]
	if !ok {
		return nil, errors.New("object missing")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Delete(ctx context.Context, storageKey string) error {
	f.deleted = append(f.deleted, storageKey)
	if f.onDelete != nil {
		f.onDelete(storageKey)
	}
	delete(f.saved, storageKey)
	return nil
}

// fakeRemote implements the file and index clients and records the persisted
// progress stage at the moment of each remote call.
type fakeRemote struct {
	repo   Repo
	userID string

	fileSeq         int
	indexSeq        int
	stageAtCall     map[string]Stage
	attachErr       error
	uploadErrs      []error
	indexStatuses   []assistant.IndexStatus
	statusCalls     int
	deletedFiles    []string
	deletedIdx      []string
	deleteIndexErrs []error
	idxDeleteCalls  int
}

func newFakeRemote(repo Repo, userID string) *fakeRemote {
	return &fakeRemote{
		repo:        repo,
		userID:      userID,
		stageAtCall: make(map[string]Stage),
		indexStatuses: []assistant.IndexStatus{
			{Status: "completed", InProgress: 0, Completed: 1},
		},
	}
}

func (f *fakeRemote) recordStage(op, documentID string) {
	if doc, err := f.repo.GetByID(context.Background(), f.userID, documentID); err == nil {
		f.stageAtCall[op] = doc.ProgressStage
	}
}

func (f *fakeRemote) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.fileSeq++
	return fmt.Sprintf("file-%d", f.fileSeq), nil
}

func (f *fakeRemote) DeleteFile(ctx context.Context, fileID string) error {
	f.deletedFiles = append(f.deletedFiles, fileID)
	return nil
}

func (f *fakeRemote) GetFile(ctx context.Context, fileID string) (assistant.FileDetails, error) {
	return assistant.FileDetails{ID: fileID}, nil
}

func (f *fakeRemote) CreateIndex(ctx context.Context, name string, expiresAfterDays int) (string, error) {
	f.indexSeq++
	documentID := strings.TrimPrefix(name, "doc-index-")
	f.recordStage("create_index", documentID)
	return fmt.Sprintf("vs-%d", f.indexSeq), nil
}

func (f *fakeRemote) AttachFile(ctx context.Context, indexID, fileID string) error {
	return f.attachErr
}

func (f *fakeRemote) GetIndexStatus(ctx context.Context, indexID string) (assistant.IndexStatus, error) {
	idx := f.statusCalls
	if idx >= len(f.indexStatuses) {
		idx = len(f.indexStatuses) - 1
	}
	f.statusCalls++
	return f.indexStatuses[idx], nil
}

func (f *fakeRemote) DeleteIndex(ctx context.Context, indexID string) error {
	f.idxDeleteCalls++
	if len(f.deleteIndexErrs) > 0 {
		err := f.deleteIndexErrs[0]
		f.deleteIndexErrs = f.deleteIndexErrs[1:]
		if err != nil {
			return err
		}
	}
	f.deletedIdx = append(f.deletedIdx, indexID)
	return nil
}

func newTestService(repo Repo, store *fakeStore, remote *fakeRemote) *Service {
	svc := NewService(repo, store, remote, remote, config.IngestionConfig{
		MaxUploadBytes:    1 << 20,
		RetentionDays:     7,
		ReadinessInterval: 3 * time.Second,
		ReadinessTimeout:  600 * time.Second,
		RemoteAttempts:    3,
	}, config.CleanupConfig{
		BatchSize:      10,
		DeleteAttempts: 2,
	})
	svc.Async = false
	svc.Retry = &retry.Runner{Sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	svc.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

var testFileData = []byte("Quality policy: we document everything and retain records for seven years.")

func TestCreateIngestsDocument(t *testing.T) {
	repo := NewMemoryRepo()
	store := newFakeStore()
	remote := newFakeRemote(repo, "user-1")
	svc := newTestService(repo, store, remote)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	final, err := repo.GetByID(ctx, "user-1", doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (error %q)", final.Status, final.ErrorMessage)
	}
	if final.ProgressStage != StageCompleted {
		t.Errorf("stage = %q, want completed", final.ProgressStage)
	}
	if final.IndexStatus != IndexStatusReady {
		t.Errorf("index status = %q, want ready", final.IndexStatus)
	}
	if final.RemoteFileID != "file-1" || final.RemoteIndexID != "vs-1" {
		t.Errorf("remote ids = %q, %q", final.RemoteFileID, final.RemoteIndexID)
	}
	if final.ExpiresAt == nil {
		t.Fatal("expiresAt not set")
	}
	if got := final.ExpiresAt.Sub(final.CreatedAt); got != 7*24*time.Hour {
		t.Errorf("retention = %s, want 168h", got)
	}

	// The stage transition is persisted before the stage's remote work runs.
	if remote.stageAtCall["create_index"] != StageCreatingIndex {
		t.Errorf("stage at index create = %q, want creating_index", remote.stageAtCall["create_index"])
	}
}

func TestCreateRetriesTransientUploadFailure(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	remote.uploadErrs = []error{errors.New("connection reset"), errors.New("timeout")}
	svc := newTestService(repo, newFakeStore(), remote)

	doc, err := svc.Create(context.Background(), "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	final, _ := repo.GetByID(context.Background(), "user-1", doc.ID)
	if final.Status != StatusCompleted {
		t.Errorf("status = %q after transient upload failures, want completed", final.Status)
	}
}

func TestCreateDetectsActiveDuplicate(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	svc := newTestService(repo, newFakeStore(), remote)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Create(ctx, "user-1", "renamed.txt", testFileData)
	var dup *DuplicateDocumentError
	if !errors.As(err, &dup) {
		t.Fatalf("Create error = %v, want DuplicateDocumentError", err)
	}
	if dup.Existing.ID != first.ID {
		t.Errorf("duplicate points at %s, want %s", dup.Existing.ID, first.ID)
	}

	// Another user's identical upload is not a duplicate.
	remote2 := newFakeRemote(repo, "user-2")
	svc2 := newTestService(repo, newFakeStore(), remote2)
	if _, err := svc2.Create(ctx, "user-2", "policy.txt", testFileData); err != nil {
		t.Errorf("cross-user upload error: %v", err)
	}
}

func TestCreateIgnoresDeletedDuplicate(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	svc := newTestService(repo, newFakeStore(), remote)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.SoftDelete(ctx, first.ID, "user"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Create(ctx, "user-1", "policy.txt", testFileData); err != nil {
		t.Errorf("re-upload after delete error: %v", err)
	}
}

func TestCreateIgnoresExpiredDuplicate(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	svc := newTestService(repo, newFakeStore(), remote)
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return clock }
	repo.SetNow(func() time.Time { return clock })

	first, err := svc.Create(ctx, "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatal(err)
	}

	// Past the retention window the first record no longer blocks re-upload.
	clock = clock.Add(8 * 24 * time.Hour)
	second, err := svc.Create(ctx, "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatalf("re-upload after expiry error: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expired record was reused instead of re-ingested")
	}
	// The expired record is left untouched.
	old, err := repo.GetByID(ctx, "user-1", first.ID)
	if err != nil || old.DeletedAt != nil {
		t.Errorf("expired record changed: %+v, %v", old, err)
	}
}

func TestCreateRejectsBadUploads(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newTestService(repo, newFakeStore(), newFakeRemote(repo, "user-1"))
	svc.Cfg.MaxUploadBytes = 10
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", "policy.txt", testFileData); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversize error = %v, want ErrTooLarge", err)
	}
	svc.Cfg.MaxUploadBytes = 1 << 20
	if _, err := svc.Create(ctx, "user-1", "policy.exe", testFileData); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad extension error = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Create(ctx, "user-1", "policy.txt", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty file error = %v, want ErrInvalidInput", err)
	}
}

func TestIngestionFailureReleasesRemoteResources(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	remote.attachErr = errors.New("invalid file for attachment")
	svc := newTestService(repo, newFakeStore(), remote)

	doc, err := svc.Create(context.Background(), "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	final, _ := repo.GetByID(context.Background(), "user-1", doc.ID)
	if final.Status != StatusError {
		t.Fatalf("status = %q, want error", final.Status)
	}
	if final.IndexStatus != IndexStatusFailed {
		t.Errorf("index status = %q, want failed", final.IndexStatus)
	}
	if final.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
	if len(remote.deletedIdx) != 1 || remote.deletedIdx[0] != "vs-1" {
		t.Errorf("deleted indexes = %v, want [vs-1]", remote.deletedIdx)
	}
	if len(remote.deletedFiles) != 1 || remote.deletedFiles[0] != "file-1" {
		t.Errorf("deleted files = %v, want [file-1]", remote.deletedFiles)
	}
}

func TestIngestionIndexFailureMarksError(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	remote.indexStatuses = []assistant.IndexStatus{
		{Status: "in_progress", InProgress: 1},
		{Status: "completed", InProgress: 0, Completed: 0, Failed: 1},
	}
	svc := newTestService(repo, newFakeStore(), remote)

	doc, err := svc.Create(context.Background(), "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatal(err)
	}
	final, _ := repo.GetByID(context.Background(), "user-1", doc.ID)
	if final.Status != StatusError || final.IndexStatus != IndexStatusFailed {
		t.Errorf("doc = status %q index %q, want error/failed", final.Status, final.IndexStatus)
	}
}

func TestIngestionReadinessTimeout(t *testing.T) {
	repo := NewMemoryRepo()
	remote := newFakeRemote(repo, "user-1")
	remote.indexStatuses = []assistant.IndexStatus{
		{Status: "in_progress", InProgress: 1},
	}
	svc := newTestService(repo, newFakeStore(), remote)
	svc.Cfg.ReadinessTimeout = 10 * time.Second

	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return clock }
	svc.Sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}

	doc, err := svc.Create(context.Background(), "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatal(err)
	}
	final, _ := repo.GetByID(context.Background(), "user-1", doc.ID)
	if final.Status != StatusError {
		t.Fatalf("status = %q, want error", final.Status)
	}
	if final.IndexStatus != IndexStatusTimedOut {
		t.Errorf("index status = %q, want timed_out", final.IndexStatus)
	}
}

func TestDeleteReleasesRemoteAndSoftDeletes(t *testing.T) {
	repo := NewMemoryRepo()
	store := newFakeStore()
	remote := newFakeRemote(repo, "user-1")
	svc := newTestService(repo, store, remote)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "user-1", "policy.txt", testFileData)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, "user-1", doc.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	final, _ := repo.GetByID(ctx, "user-1", doc.ID)
	if final.DeletedAt == nil || final.DeletionSource != "user" {
		t.Errorf("doc = %+v, want soft deleted by user", final)
	}
	if len(remote.deletedIdx) != 1 || len(remote.deletedFiles) != 1 {
		t.Errorf("remote deletes = %v / %v, want one each", remote.deletedIdx, remote.deletedFiles)
	}
	if len(store.deleted) != 1 {
		t.Errorf("storage deletes = %v, want one", store.deleted)
	}

	// Deleting again is a no-op.
	if err := svc.Delete(ctx, "user-1", doc.ID); err != nil {
		t.Errorf("second Delete error: %v", err)
	}
	if len(remote.deletedIdx) != 1 {
		t.Errorf("second delete released remote again: %v", remote.deletedIdx)
	}
}
