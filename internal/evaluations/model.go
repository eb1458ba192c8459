package evaluations

import "time"

// Status is the lifecycle state of an evaluation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Item result statuses returned by the model.
const (
	ResultYes     = "Yes"
	ResultNo      = "No"
	ResultPartial = "Partial"
)

// SummaryStats aggregates item results for an evaluation.
type SummaryStats struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Partial int `json:"partial"`
	Total   int `json:"total"`
}

// Evaluation is one checklist compliance run over a document.
type Evaluation struct {
	ID               string
	UserID           string
	DocumentID       string
	SchemeID         string
	DocumentTypeID   string
	ChecklistItemIDs []string
	Status           Status
	ThreadID         string
	ErrorCode        string
	ErrorMessage     string
	Stats            SummaryStats
	ProcessingTimeMs int64
	RequestID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ItemResult is the stored verdict for one checklist item. Exactly one row
// exists per (evaluation, item) pair.
type ItemResult struct {
	ID              string
	EvaluationID    string
	ChecklistItemID string
	ItemText        string
	Status          string
	Remarks         string
	CreatedAt       time.Time
}

// ComputeStats tallies item results into summary counters.
func ComputeStats(results []ItemResult) SummaryStats {
	var stats SummaryStats
	for _, r := range results {
		switch r.Status {
		case ResultYes:
			stats.Yes++
		case ResultNo:
			stats.No++
		case ResultPartial:
			stats.Partial++
		}
	}
	stats.Total = len(results)
	return stats
}
