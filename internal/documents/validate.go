package documents

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".doc":  true,
	".docx": true,
}

// ValidateUpload checks the file name, size, and content before any remote
// call is made. The sniffed MIME type is returned for storage.
func ValidateUpload(fileName string, data []byte, maxBytes int64) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, ext)
	}

	sniffLen := len(data)
	if sniffLen > 512 {
		sniffLen = 512
	}
	mimeType := http.DetectContentType(data[:sniffLen])

	if ext == ".pdf" {
		if err := validatePDF(data); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return mimeType, nil
}

// validatePDF opens the document to catch corrupt or truncated files before
// they are shipped to the remote backend.
func validatePDF(data []byte) error {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("unreadable pdf: %v", err)
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("pdf has no pages")
	}
	return nil
}
