package evaluations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance-backend/internal/checklists"
	"compliance-backend/internal/documents"
	"compliance-backend/internal/retry"
	"compliance-backend/internal/shared/config"
	"compliance-backend/internal/shared/metrics"
	"compliance-backend/internal/shared/telemetry"
)

// Service contains business logic for evaluations.
type Service struct {
	Repo         Repo
	DocRepo      documents.Repo
	Catalog      checklists.Catalog
	Orchestrator *Orchestrator
	Cfg          config.EvaluationConfig

	Retry *retry.Runner
	Now   func() time.Time

	// Enqueue hands the evaluation off to a worker queue. When nil,
	// processing happens in-process on a goroutine.
	Enqueue func(ctx context.Context, evaluationID, requestID string) error

	// Async controls whether in-process execution runs on a goroutine.
	// Tests set it false to run inline.
	Async bool
}

// NewService wires a Service with production defaults.
func NewService(repo Repo, docRepo documents.Repo, catalog checklists.Catalog, orchestrator *Orchestrator, cfg config.EvaluationConfig) *Service {
	return &Service{
		Repo:         repo,
		DocRepo:      docRepo,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Cfg:          cfg,
		Retry:        &retry.Runner{},
		Now:          time.Now,
		Async:        true,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create validates the request, records a pending evaluation, and hands it
// off for asynchronous processing.
func (s *Service) Create(ctx context.Context, userID, documentID, schemeID, documentTypeID string, checklistItemIDs []string) (Evaluation, error) {
	if userID == "" || documentID == "" {
		return Evaluation{}, fmt.Errorf("%w: userID and documentID are required", ErrInvalidInput)
	}
	if len(checklistItemIDs) == 0 {
		return Evaluation{}, fmt.Errorf("%w: at least one checklist item is required", ErrInvalidInput)
	}

	if _, err := s.Catalog.GetScheme(schemeID); err != nil {
		return Evaluation{}, fmt.Errorf("%w: unknown scheme %s", ErrInvalidInput, schemeID)
	}
	if _, err := s.Catalog.GetDocumentType(documentTypeID); err != nil {
		return Evaluation{}, fmt.Errorf("%w: unknown document type %s", ErrInvalidInput, documentTypeID)
	}
	if _, err := s.Catalog.GetItems(checklistItemIDs); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	doc, err := s.DocRepo.GetByID(ctx, userID, documentID)
	if err != nil {
		return Evaluation{}, err
	}
	// A still-processing document is accepted; the worker's readiness check
	// retries before giving up. Failed or deleted documents are rejected now.
	if doc.Status == documents.StatusError || doc.DeletedAt != nil {
		return Evaluation{}, ErrDocumentNotReady
	}

	eval := Evaluation{
		ID:               uuid.NewString(),
		UserID:           userID,
		DocumentID:       documentID,
		SchemeID:         schemeID,
		DocumentTypeID:   documentTypeID,
		ChecklistItemIDs: checklistItemIDs,
		Status:           StatusPending,
		RequestID:        RequestIDFromContext(ctx),
		CreatedAt:        s.now().UTC(),
	}

	// Item ids are stored on the record so a worker process can re-resolve
	// them from the catalog.
	if err := s.Repo.Create(ctx, eval); err != nil {
		return Evaluation{}, err
	}

	metrics.IncEvaluationStarted()
	telemetry.Info("evaluation.created", map[string]any{
		"request_id":    eval.RequestID,
		"user_id":       userID,
		"document_id":   documentID,
		"evaluation_id": eval.ID,
		"items":         len(checklistItemIDs),
	})

	if s.Enqueue != nil {
		if err := s.Enqueue(ctx, eval.ID, eval.RequestID); err != nil {
			telemetry.Warn("evaluation.enqueue_failed", map[string]any{
				"evaluation_id": eval.ID,
				"error":         err.Error(),
			})
			s.dispatch(ctx, eval.ID)
		}
		return eval, nil
	}
	s.dispatch(ctx, eval.ID)
	return eval, nil
}

func (s *Service) dispatch(ctx context.Context, evaluationID string) {
	if s.Async {
		go s.Process(backgroundWithRequestID(ctx), evaluationID)
	} else {
		s.Process(ctx, evaluationID)
	}
}

// Get returns an evaluation by ID scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, evaluationID string) (Evaluation, []ItemResult, error) {
	eval, err := s.Repo.GetByID(ctx, evaluationID)
	if err != nil {
		return Evaluation{}, nil, err
	}
	if eval.UserID != userID {
		return Evaluation{}, nil, ErrNotFound
	}
	results, err := s.Repo.ListResults(ctx, evaluationID)
	if err != nil {
		return Evaluation{}, nil, err
	}
	return eval, results, nil
}

// List returns evaluations for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// Process runs one evaluation end to end. Failures are recorded on the
// evaluation row, so callers that cannot act on the error may ignore it.
func (s *Service) Process(ctx context.Context, evaluationID string) {
	_ = s.ProcessEvaluation(ctx, evaluationID)
}

// ProcessEvaluation retries the whole pipeline up to OuterAttempts times.
// Status moves to processing on the first attempt only; results and the
// terminal status are committed in one transaction. The returned error is
// the terminal failure already recorded on the evaluation.
func (s *Service) ProcessEvaluation(ctx context.Context, evaluationID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.failEvaluation(ctx, evaluationID, err)
		}
	}()

	attempts := s.Cfg.OuterAttempts
	if attempts < 1 {
		attempts = 1
	}

	startedAt := s.now().UTC()
	first := true
	err = s.Retry.Do(ctx, "evaluation.process", attempts, retry.Generic, func(ctx context.Context) error {
		if first {
			first = false
			if err := s.Repo.UpdateStatus(ctx, evaluationID, StatusProcessing); err != nil {
				return fmt.Errorf("set processing failed: %w", err)
			}
		}
		return s.processOnce(ctx, evaluationID, startedAt)
	})
	if err != nil {
		s.failEvaluation(ctx, evaluationID, err)
	}
	return err
}

func (s *Service) processOnce(ctx context.Context, evaluationID string, startedAt time.Time) error {
	eval, err := s.Repo.GetByID(ctx, evaluationID)
	if err != nil {
		return fmt.Errorf("evaluation lookup: %w", err)
	}

	scheme, err := s.Catalog.GetScheme(eval.SchemeID)
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	docType, err := s.Catalog.GetDocumentType(eval.DocumentTypeID)
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	items, err := s.Catalog.GetItems(eval.ChecklistItemIDs)
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	doc, err := s.DocRepo.GetByID(ctx, eval.UserID, eval.DocumentID)
	if err != nil {
		return fmt.Errorf("document lookup: %w", err)
	}
	if doc.Status != documents.StatusCompleted || doc.RemoteIndexID == "" {
		return fmt.Errorf("document %s: %w", eval.DocumentID, ErrDocumentNotReady)
	}

	outcomes, threadID, err := s.Orchestrator.Evaluate(ctx, doc.RemoteIndexID, scheme, docType, items)
	if err != nil {
		return err
	}
	if threadID != "" {
		if err := s.Repo.SetThreadID(ctx, evaluationID, threadID); err != nil {
			return fmt.Errorf("set thread id failed: %w", err)
		}
	}

	now := s.now().UTC()
	results := make([]ItemResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		results = append(results, ItemResult{
			ID:              uuid.NewString(),
			EvaluationID:    evaluationID,
			ChecklistItemID: outcome.Item.ID,
			ItemText:        outcome.Item.Text,
			Status:          outcome.Status,
			Remarks:         outcome.Remarks,
			CreatedAt:       now,
		})
	}
	stats := ComputeStats(results)
	elapsedMs := now.Sub(startedAt).Milliseconds()

	if err := s.Repo.CompleteWithResults(ctx, evaluationID, results, stats, elapsedMs); err != nil {
		return fmt.Errorf("persist results failed: %w", err)
	}

	metrics.IncEvaluationCompleted()
	metrics.ObserveEvaluationDurationMs(float64(elapsedMs))
	telemetry.Info("evaluation.completed", map[string]any{
		"request_id":    RequestIDFromContext(ctx),
		"user_id":       eval.UserID,
		"evaluation_id": evaluationID,
		"thread_id":     threadID,
		"yes":           stats.Yes,
		"no":            stats.No,
		"partial":       stats.Partial,
		"total":         stats.Total,
		"duration_ms":   elapsedMs,
	})
	return nil
}

func (s *Service) failEvaluation(ctx context.Context, evaluationID string, cause error) {
	code := classifyFailure(cause)
	msg := sanitizeError(cause)
	if err := s.Repo.MarkFailed(context.Background(), evaluationID, code, msg); err != nil {
		telemetry.Error("evaluation.mark_failed_error", map[string]any{
			"evaluation_id": evaluationID,
			"error":         err.Error(),
			"cause":         msg,
		})
	}
	metrics.IncEvaluationFailed()
	telemetry.Error("evaluation.failed", map[string]any{
		"request_id":    RequestIDFromContext(ctx),
		"evaluation_id": evaluationID,
		"error_code":    code,
		"error":         msg,
	})
}

func classifyFailure(err error) string {
	if err == nil {
		return ErrorCodeInternal
	}
	if errors.Is(err, ErrNoToolResults) {
		return ErrorCodeContractViolation
	}
	if errors.Is(err, ErrDocumentNotReady) {
		return ErrorCodeValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeRemoteTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "validation"):
		return ErrorCodeValidation
	case strings.Contains(msg, "timeout"):
		return ErrorCodeRemoteTimeout
	case strings.Contains(msg, "no results") || strings.Contains(msg, "zero results"):
		return ErrorCodeContractViolation
	case strings.Contains(msg, "lookup") || strings.Contains(msg, "persist") ||
		strings.Contains(msg, "set processing") || strings.Contains(msg, "set thread"):
		return ErrorCodeStorage
	}
	return ErrorCodeInternal
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
