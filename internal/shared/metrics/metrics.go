// Package metrics exposes process counters in Prometheus text format.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	ingestionStartedTotal   atomic.Uint64
	ingestionCompletedTotal atomic.Uint64
	ingestionFailedTotal    atomic.Uint64

	evaluationStartedTotal   atomic.Uint64
	evaluationCompletedTotal atomic.Uint64
	evaluationFailedTotal    atomic.Uint64
	evaluationBatchesRetried atomic.Uint64
	evaluationItemsDegraded  atomic.Uint64

	cleanupDocumentsDeleted atomic.Uint64
	cleanupDocumentsFailed  atomic.Uint64

	evaluationJobsReceived             atomic.Uint64
	evaluationJobsCompleted            atomic.Uint64
	evaluationJobsFailed               atomic.Uint64
	evaluationJobsDeletedUnrecoverable atomic.Uint64

	evaluationDuration = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000, 1800000})
)

// IncIngestionStarted increments the ingestion started counter.
func IncIngestionStarted() { ingestionStartedTotal.Add(1) }

// IncIngestionCompleted increments the ingestion completed counter.
func IncIngestionCompleted() { ingestionCompletedTotal.Add(1) }

// IncIngestionFailed increments the ingestion failed counter.
func IncIngestionFailed() { ingestionFailedTotal.Add(1) }

// IncEvaluationStarted increments the evaluation started counter.
func IncEvaluationStarted() { evaluationStartedTotal.Add(1) }

// IncEvaluationCompleted increments the evaluation completed counter.
func IncEvaluationCompleted() { evaluationCompletedTotal.Add(1) }

// IncEvaluationFailed increments the evaluation failed counter.
func IncEvaluationFailed() { evaluationFailedTotal.Add(1) }

// IncEvaluationBatchRetried counts batch-level retry attempts.
func IncEvaluationBatchRetried() { evaluationBatchesRetried.Add(1) }

// AddEvaluationItemsDegraded counts items that received placeholder results.
func AddEvaluationItemsDegraded(n int) {
	if n > 0 {
		evaluationItemsDegraded.Add(uint64(n))
	}
}

// IncCleanupDeleted counts documents retired by the cleanup sweep.
func IncCleanupDeleted() { cleanupDocumentsDeleted.Add(1) }

// IncCleanupFailed counts documents the cleanup sweep could not retire.
func IncCleanupFailed() { cleanupDocumentsFailed.Add(1) }

// IncEvaluationJobsReceived counts queue messages picked up by the worker.
func IncEvaluationJobsReceived() { evaluationJobsReceived.Add(1) }

// IncEvaluationJobsCompleted counts queue messages processed and deleted.
func IncEvaluationJobsCompleted() { evaluationJobsCompleted.Add(1) }

// IncEvaluationJobsFailed counts queue messages whose processing failed.
func IncEvaluationJobsFailed() { evaluationJobsFailed.Add(1) }

// IncEvaluationJobsDeletedUnrecoverable counts malformed messages dropped.
func IncEvaluationJobsDeletedUnrecoverable() { evaluationJobsDeletedUnrecoverable.Add(1) }

// ObserveEvaluationDurationMs records an evaluation duration in milliseconds.
func ObserveEvaluationDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	evaluationDuration.Observe(value)
}

// Handler exposes metrics over HTTP.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders all metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "ingestion_started_total", "Total document ingestions started", ingestionStartedTotal.Load())
	writeCounter(&buf, "ingestion_completed_total", "Total document ingestions completed", ingestionCompletedTotal.Load())
	writeCounter(&buf, "ingestion_failed_total", "Total document ingestions failed", ingestionFailedTotal.Load())
	writeCounter(&buf, "evaluation_started_total", "Total evaluations started", evaluationStartedTotal.Load())
	writeCounter(&buf, "evaluation_completed_total", "Total evaluations completed", evaluationCompletedTotal.Load())
	writeCounter(&buf, "evaluation_failed_total", "Total evaluations failed", evaluationFailedTotal.Load())
	writeCounter(&buf, "evaluation_batches_retried_total", "Total evaluation batch retries", evaluationBatchesRetried.Load())
	writeCounter(&buf, "evaluation_items_degraded_total", "Total checklist items given placeholder results", evaluationItemsDegraded.Load())
	writeCounter(&buf, "cleanup_documents_deleted_total", "Total documents retired by cleanup", cleanupDocumentsDeleted.Load())
	writeCounter(&buf, "cleanup_documents_failed_total", "Total documents cleanup failed to retire", cleanupDocumentsFailed.Load())
	writeCounter(&buf, "evaluation_jobs_received_total", "Total evaluation queue messages received", evaluationJobsReceived.Load())
	writeCounter(&buf, "evaluation_jobs_completed_total", "Total evaluation queue messages completed", evaluationJobsCompleted.Load())
	writeCounter(&buf, "evaluation_jobs_failed_total", "Total evaluation queue messages failed", evaluationJobsFailed.Load())
	writeCounter(&buf, "evaluation_jobs_deleted_unrecoverable_total", "Total malformed queue messages dropped", evaluationJobsDeletedUnrecoverable.Load())
	writeHistogram(&buf, "evaluation_duration_ms", "Evaluation duration in milliseconds", evaluationDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
