package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID    string     `json:"documentId"`
	FileName      string     `json:"fileName"`
	MimeType      string     `json:"mimeType"`
	SizeBytes     int64      `json:"sizeBytes"`
	Status        Status     `json:"status"`
	ProgressStage Stage      `json:"progressStage"`
	IndexStatus   IndexStatus `json:"indexStatus,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	UploadedAt    time.Time  `json:"uploadedAt"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:    doc.ID,
		FileName:      doc.FileName,
		MimeType:      doc.MimeType,
		SizeBytes:     doc.SizeBytes,
		Status:        doc.Status,
		ProgressStage: doc.ProgressStage,
		IndexStatus:   doc.IndexStatus,
		ErrorMessage:  doc.ErrorMessage,
		ExpiresAt:     doc.ExpiresAt,
		UploadedAt:    doc.CreatedAt,
	}
}
