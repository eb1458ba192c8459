package openai

import (
	"context"
	"fmt"
	"net/http"

	"compliance-backend/internal/assistant"
)

type vectorStoreObject struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	FileCounts struct {
		InProgress int `json:"in_progress"`
		Completed  int `json:"completed"`
		Failed     int `json:"failed"`
		Cancelled  int `json:"cancelled"`
		Total      int `json:"total"`
	} `json:"file_counts"`
}

type createVectorStoreRequest struct {
	Name         string              `json:"name"`
	ExpiresAfter *vectorStoreExpires `json:"expires_after,omitempty"`
}

type vectorStoreExpires struct {
	Anchor string `json:"anchor"`
	Days   int    `json:"days"`
}

// CreateIndex creates a vector store, optionally with a last-active expiry
// policy, and returns its id.
func (c *Client) CreateIndex(ctx context.Context, name string, expiresAfterDays int) (string, error) {
	req := createVectorStoreRequest{Name: name}
	if expiresAfterDays > 0 {
		req.ExpiresAfter = &vectorStoreExpires{Anchor: "last_active_at", Days: expiresAfterDays}
	}
	var store vectorStoreObject
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", req, &store); err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	return store.ID, nil
}

// AttachFile adds a remote file to a vector store, which starts the
// embedding build for that file.
func (c *Client) AttachFile(ctx context.Context, indexID, fileID string) error {
	body := map[string]string{"file_id": fileID}
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores/"+indexID+"/files", body, nil); err != nil {
		return fmt.Errorf("attach file %s to %s: %w", fileID, indexID, err)
	}
	return nil
}

// GetIndexStatus reports readiness via the store's per-file counts.
func (c *Client) GetIndexStatus(ctx context.Context, indexID string) (assistant.IndexStatus, error) {
	var store vectorStoreObject
	if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+indexID, nil, &store); err != nil {
		return assistant.IndexStatus{}, fmt.Errorf("get vector store %s: %w", indexID, err)
	}
	return assistant.IndexStatus{
		Status:     store.Status,
		InProgress: store.FileCounts.InProgress,
		Completed:  store.FileCounts.Completed,
		Failed:     store.FileCounts.Failed + store.FileCounts.Cancelled,
	}, nil
}

// DeleteIndex removes a vector store.
func (c *Client) DeleteIndex(ctx context.Context, indexID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+indexID, nil, nil); err != nil {
		return fmt.Errorf("delete vector store %s: %w", indexID, err)
	}
	return nil
}
