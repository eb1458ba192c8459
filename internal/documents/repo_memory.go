package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo used in tests and local development.
type MemoryRepo struct {
	mu   sync.RWMutex
	docs map[string]Document
	now  func() time.Time
}

// NewMemoryRepo creates an empty in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs: make(map[string]Document),
		now:  time.Now,
	}
}

// SetNow overrides the clock; used by tests.
func (r *MemoryRepo) SetNow(now func() time.Time) {
	r.now = now
}

// Create inserts a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.UpdatedAt = doc.CreatedAt
	r.docs[doc.ID] = doc
	return nil
}

// GetByID fetches a document by ID for a user.
func (r *MemoryRepo) GetByID(ctx context.Context, userID, documentID string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[documentID]
	if !ok || doc.UserID != userID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// ListByUser lists documents ordered newest-first, excluding deleted ones.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Document
	for _, doc := range r.docs {
		if doc.UserID == userID && doc.DeletedAt == nil {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetActiveByHash finds a live document with identical content for the owner.
func (r *MemoryRepo) GetActiveByHash(ctx context.Context, userID, contentSHA256 string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now().UTC()
	var best Document
	found := false
	for _, doc := range r.docs {
		if doc.UserID != userID || doc.ContentSHA256 != contentSHA256 || !doc.Active(now) {
			continue
		}
		if !found || doc.CreatedAt.After(best.CreatedAt) {
			best = doc
			found = true
		}
	}
	if !found {
		return Document{}, ErrNotFound
	}
	return best, nil
}

// UpdateStage records a progress stage transition.
func (r *MemoryRepo) UpdateStage(ctx context.Context, documentID string, stage Stage) error {
	return r.update(documentID, func(doc *Document) {
		doc.ProgressStage = stage
	})
}

// SetRemoteFile records the remote file ID once upload succeeds.
func (r *MemoryRepo) SetRemoteFile(ctx context.Context, documentID, remoteFileID string) error {
	return r.update(documentID, func(doc *Document) {
		doc.RemoteFileID = remoteFileID
	})
}

// SetRemoteIndex records the remote index ID once creation succeeds.
func (r *MemoryRepo) SetRemoteIndex(ctx context.Context, documentID, remoteIndexID string) error {
	return r.update(documentID, func(doc *Document) {
		doc.RemoteIndexID = remoteIndexID
	})
}

// MarkReady transitions a document to completed with a ready index.
func (r *MemoryRepo) MarkReady(ctx context.Context, documentID string) error {
	return r.update(documentID, func(doc *Document) {
		doc.Status = StatusCompleted
		doc.ProgressStage = StageCompleted
		doc.IndexStatus = IndexStatusReady
		doc.ErrorMessage = ""
	})
}

// MarkError transitions a document to the error state.
func (r *MemoryRepo) MarkError(ctx context.Context, documentID string, indexStatus IndexStatus, message string) error {
	return r.update(documentID, func(doc *Document) {
		doc.Status = StatusError
		doc.ProgressStage = StageError
		doc.IndexStatus = indexStatus
		doc.ErrorMessage = message
	})
}

// ListExpired returns live documents whose retention has lapsed, oldest-first.
func (r *MemoryRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Document
	for _, doc := range r.docs {
		if doc.DeletedAt == nil && doc.ExpiresAt != nil && !doc.ExpiresAt.After(now) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SoftDelete retires a document. Returns false if it was already deleted.
func (r *MemoryRepo) SoftDelete(ctx context.Context, documentID, source string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return false, nil
	}
	if doc.DeletedAt != nil {
		return false, nil
	}
	now := r.now().UTC()
	doc.Status = StatusDeleted
	doc.DeletedAt = &now
	doc.DeletionSource = source
	doc.UpdatedAt = now
	r.docs[documentID] = doc
	return true, nil
}

func (r *MemoryRepo) update(documentID string, fn func(doc *Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	fn(&doc)
	doc.UpdatedAt = r.now().UTC()
	r.docs[documentID] = doc
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
