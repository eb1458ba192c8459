package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"compliance-backend/internal/assistant"
)

type fileObject struct {
	ID       string `json:"id"`
	FileName string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Status   string `json:"status"`
	Purpose  string `json:"purpose"`
}

// UploadFile uploads document bytes with the assistants purpose and returns
// the remote file id.
func (c *Client) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var file fileObject
	if err := c.send(req, &file); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return file.ID, nil
}

// DeleteFile removes a remote file object.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/files/"+fileID, nil, nil); err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}
	return nil
}

// GetFile fetches details for a remote file object.
func (c *Client) GetFile(ctx context.Context, fileID string) (assistant.FileDetails, error) {
	var file fileObject
	if err := c.doJSON(ctx, http.MethodGet, "/files/"+fileID, nil, &file); err != nil {
		return assistant.FileDetails{}, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return assistant.FileDetails{
		ID:        file.ID,
		FileName:  file.FileName,
		SizeBytes: file.Bytes,
		Status:    file.Status,
	}, nil
}
