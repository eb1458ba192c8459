package evaluations

import "errors"

// Stored error codes for failed evaluations.
const (
	ErrorCodeValidation        = "VALIDATION_ERROR"
	ErrorCodeRemoteTimeout     = "REMOTE_TIMEOUT"
	ErrorCodeContractViolation = "CONTRACT_VIOLATION"
	ErrorCodeStorage           = "STORAGE_ERROR"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)

var (
	ErrNotFound         = errors.New("evaluation not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotReady = errors.New("document is not ready for evaluation")

	// ErrNoToolResults is the contract violation raised when a run finishes
	// without producing any checklist results. It is retryable: the model
	// usually complies on a second pass.
	ErrNoToolResults = errors.New("run produced no results")
)
