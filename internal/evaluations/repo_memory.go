package evaluations

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo used in tests and local development.
type MemoryRepo struct {
	mu      sync.RWMutex
	evals   map[string]Evaluation
	results map[string][]ItemResult
	now     func() time.Time
}

// NewMemoryRepo creates an empty in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		evals:   make(map[string]Evaluation),
		results: make(map[string][]ItemResult),
		now:     time.Now,
	}
}

// SetNow overrides the clock; used by tests.
func (r *MemoryRepo) SetNow(now func() time.Time) {
	r.now = now
}

// Create inserts a new evaluation.
func (r *MemoryRepo) Create(ctx context.Context, eval Evaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval.UpdatedAt = eval.CreatedAt
	r.evals[eval.ID] = eval
	return nil
}

// GetByID fetches an evaluation by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, evaluationID string) (Evaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eval, ok := r.evals[evaluationID]
	if !ok {
		return Evaluation{}, ErrNotFound
	}
	return eval, nil
}

// ListByUser lists evaluations ordered newest-first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Evaluation
	for _, eval := range r.evals {
		if eval.UserID == userID {
			out = append(out, eval)
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

// UpdateStatus records a status transition.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, evaluationID string, status Status) error {
	return r.update(evaluationID, func(eval *Evaluation) {
		eval.Status = status
	})
}

// SetThreadID records the conversation used for this evaluation.
func (r *MemoryRepo) SetThreadID(ctx context.Context, evaluationID, threadID string) error {
	return r.update(evaluationID, func(eval *Evaluation) {
		eval.ThreadID = threadID
	})
}

// CompleteWithResults stores item results and marks the evaluation completed
// atomically under the repo lock.
func (r *MemoryRepo) CompleteWithResults(ctx context.Context, evaluationID string, results []ItemResult, stats SummaryStats, processingTimeMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[evaluationID]
	if !ok {
		return ErrNotFound
	}
	stored := make([]ItemResult, len(results))
	copy(stored, results)
	r.results[evaluationID] = stored

	eval.Status = StatusCompleted
	eval.Stats = stats
	eval.ProcessingTimeMs = processingTimeMs
	eval.ErrorCode = ""
	eval.ErrorMessage = ""
	eval.UpdatedAt = r.now().UTC()
	r.evals[evaluationID] = eval
	return nil
}

// MarkFailed records a terminal failure.
func (r *MemoryRepo) MarkFailed(ctx context.Context, evaluationID, code, message string) error {
	return r.update(evaluationID, func(eval *Evaluation) {
		eval.Status = StatusFailed
		eval.ErrorCode = code
		eval.ErrorMessage = message
	})
}

// ListResults returns stored item results for an evaluation.
func (r *MemoryRepo) ListResults(ctx context.Context, evaluationID string) ([]ItemResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.results[evaluationID]
	out := make([]ItemResult, len(stored))
	copy(out, stored)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChecklistItemID < out[j].ChecklistItemID
	})
	return out, nil
}

func (r *MemoryRepo) update(evaluationID string, fn func(eval *Evaluation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[evaluationID]
	if !ok {
		return ErrNotFound
	}
	fn(&eval)
	eval.UpdatedAt = r.now().UTC()
	r.evals[evaluationID] = eval
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
