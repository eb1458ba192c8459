package evaluations

import "context"

// Repo defines persistence operations for evaluations.
type Repo interface {
	Create(ctx context.Context, eval Evaluation) error
	GetByID(ctx context.Context, evaluationID string) (Evaluation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error)
	UpdateStatus(ctx context.Context, evaluationID string, status Status) error
	SetThreadID(ctx context.Context, evaluationID, threadID string) error
	CompleteWithResults(ctx context.Context, evaluationID string, results []ItemResult, stats SummaryStats, processingTimeMs int64) error
	MarkFailed(ctx context.Context, evaluationID, code, message string) error
	ListResults(ctx context.Context, evaluationID string) ([]ItemResult, error)
}
