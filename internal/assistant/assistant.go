// Package assistant abstracts the remote analysis backend: file storage,
// semantic indexes, and the conversation/run protocol used for evaluation.
package assistant

import (
	"context"
	"encoding/json"
)

// ResultToolName is the function the model must call to return checklist
// results instead of free text.
const ResultToolName = "return_checklist_results"

// Run states we care about.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCompleted      = "completed"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
	RunStatusExpired        = "expired"
)

// FileClient manages remote file objects.
type FileClient interface {
	UploadFile(ctx context.Context, fileName string, data []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	GetFile(ctx context.Context, fileID string) (FileDetails, error)
}

// FileDetails describes a remote file object.
type FileDetails struct {
	ID        string
	FileName  string
	SizeBytes int64
	Status    string
}

// IndexClient manages remote semantic indexes (vector stores).
type IndexClient interface {
	CreateIndex(ctx context.Context, name string, expiresAfterDays int) (string, error)
	AttachFile(ctx context.Context, indexID, fileID string) error
	GetIndexStatus(ctx context.Context, indexID string) (IndexStatus, error)
	DeleteIndex(ctx context.Context, indexID string) error
}

// IndexStatus reports index readiness via per-file counts.
type IndexStatus struct {
	Status     string
	InProgress int
	Completed  int
	Failed     int
}

// ConversationClient drives the message/run protocol. A conversation
// rejects new input while its prior run is not in a terminal state, so
// callers must serialize batches on one conversation.
type ConversationClient interface {
	CreateConversation(ctx context.Context, indexIDs []string) (string, error)
	PostMessage(ctx context.Context, conversationID, content string) (string, error)
	StartRun(ctx context.Context, conversationID string) (string, error)
	GetRun(ctx context.Context, conversationID, runID string) (RunState, error)
	SubmitToolOutputs(ctx context.Context, conversationID, runID string, callIDs []string) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// RunState is one observation of a run.
type RunState struct {
	ID        string
	Status    string
	ToolCalls []ToolCall
	LastError string
}

// Terminal reports whether the run can no longer change state.
func (r RunState) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// ToolCall is one function invocation the model made during a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one conversation message, newest-first when listed.
type Message struct {
	ID      string
	Role    string
	Content string
}
