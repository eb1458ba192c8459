// Package openai implements the assistant clients against the OpenAI
// Files, Vector Stores, and Assistants v2 REST APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"compliance-backend/internal/assistant"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config carries everything the client needs; nothing is read from the
// environment here.
type Config struct {
	APIKey      string
	Model       string
	AssistantID string
	BaseURL     string
	Timeout     time.Duration
}

// Client talks to the OpenAI REST API.
type Client struct {
	apiKey      string
	model       string
	assistantID string
	baseURL     string
	httpClient  *http.Client
}

// NewClient constructs a Client from explicit configuration.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, fmt.Errorf("openai assistant id is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		assistantID: cfg.AssistantID,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("openai status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openai status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code for retry classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return fmt.Errorf("openai request timeout: %w", err)
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var envelope errorEnvelope
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai response parse: %w", err)
	}
	return nil
}

var (
	_ assistant.FileClient         = (*Client)(nil)
	_ assistant.IndexClient        = (*Client)(nil)
	_ assistant.ConversationClient = (*Client)(nil)
)
