package documents

import "errors"

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTooLarge     = errors.New("file exceeds maximum size")
)

// DuplicateDocumentError reports that an identical active document already
// exists for the owner. The existing document is returned so callers can
// reuse it instead of re-ingesting.
type DuplicateDocumentError struct {
	Existing Document
}

func (e *DuplicateDocumentError) Error() string {
	return "duplicate document: identical content already ingested as " + e.Existing.ID
}
