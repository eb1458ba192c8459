package documents

import (
	"context"
	"time"

	"compliance-backend/internal/shared/metrics"
	"compliance-backend/internal/shared/telemetry"
)

// SweepSummary reports what one cleanup sweep did.
type SweepSummary struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SweepExpired retires documents whose retention has lapsed. Remote
// resources are released best-effort before the soft delete; a remote
// failure still retires the local record since the remote side enforces its
// own expiry. Documents already deleted by a concurrent sweep count as
// skipped. Batches are processed with a delay between them to keep sweep
// load off the remote API.
func (s *Service) SweepExpired(ctx context.Context) (SweepSummary, error) {
	batchSize := s.CleanupCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var summary SweepSummary
	// A document whose soft delete fails stays expired and would be listed
	// again on every later iteration. Tracking failures lets the sweep look
	// past them instead of reprocessing one stuck batch forever.
	failed := make(map[string]bool)
	firstBatch := true
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !firstBatch && s.CleanupCfg.InterBatchDelay > 0 {
			if err := s.sleep(ctx, s.CleanupCfg.InterBatchDelay); err != nil {
				return summary, err
			}
		}
		firstBatch = false

		limit := batchSize + len(failed)
		listed, err := s.Repo.ListExpired(ctx, s.now().UTC(), limit)
		if err != nil {
			return summary, err
		}
		var batch []Document
		for _, doc := range listed {
			if !failed[doc.ID] {
				batch = append(batch, doc)
			}
		}
		if len(batch) > batchSize {
			batch = batch[:batchSize]
		}
		if len(batch) == 0 {
			break
		}
		summary.Found += len(batch)

		for _, doc := range batch {
			summary.Processed++
			s.releaseRemote(ctx, doc)
			if doc.StorageKey != "" {
				if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
					telemetry.Warn("cleanup.storage_delete_failed", map[string]any{
						"document_id": doc.ID,
						"error":       err.Error(),
					})
				}
			}
			deleted, err := s.Repo.SoftDelete(ctx, doc.ID, "cleanup")
			if err != nil {
				failed[doc.ID] = true
				summary.Failed++
				metrics.IncCleanupFailed()
				telemetry.Error("cleanup.document_failed", map[string]any{
					"document_id": doc.ID,
					"error":       err.Error(),
				})
				continue
			}
			if !deleted {
				summary.Skipped++
				continue
			}
			summary.Succeeded++
			metrics.IncCleanupDeleted()
			telemetry.Info("cleanup.document_deleted", map[string]any{
				"user_id":     doc.UserID,
				"document_id": doc.ID,
				"expired_at":  doc.ExpiresAt,
			})
		}

		if len(listed) < limit {
			break
		}
	}

	telemetry.Info("cleanup.sweep_complete", map[string]any{
		"found":     summary.Found,
		"processed": summary.Processed,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	})
	return summary, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
