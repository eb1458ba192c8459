package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"compliance-backend/internal/assistant"
)

type threadObject struct {
	ID string `json:"id"`
}

type createThreadRequest struct {
	ToolResources *toolResources `json:"tool_resources,omitempty"`
}

type toolResources struct {
	FileSearch *fileSearchResources `json:"file_search,omitempty"`
}

type fileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

// CreateConversation creates a thread bound to the given vector stores.
func (c *Client) CreateConversation(ctx context.Context, indexIDs []string) (string, error) {
	req := createThreadRequest{}
	if len(indexIDs) > 0 {
		req.ToolResources = &toolResources{
			FileSearch: &fileSearchResources{VectorStoreIDs: indexIDs},
		}
	}
	var thread threadObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads", req, &thread); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

type messageObject struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

// PostMessage appends a user message to the thread.
func (c *Client) PostMessage(ctx context.Context, conversationID, content string) (string, error) {
	body := map[string]string{"role": "user", "content": content}
	var msg messageObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+conversationID+"/messages", body, &msg); err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return msg.ID, nil
}

type createRunRequest struct {
	AssistantID string    `json:"assistant_id"`
	Model       string    `json:"model,omitempty"`
	Tools       []runTool `json:"tools,omitempty"`
}

type runTool struct {
	Type     string       `json:"type"`
	Function *runFunction `json:"function,omitempty"`
}

type runFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// resultToolSchema declares the structured callback the model must use to
// return checklist results. All fields are required.
var resultToolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "item": {"type": "string"},
          "status": {"type": "string", "enum": ["Yes", "No", "Partial"]},
          "remarks": {"type": "string"}
        },
        "required": ["item", "status", "remarks"]
      }
    }
  },
  "required": ["results"]
}`)

type runObject struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action,omitempty"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
}

// StartRun starts a run on the thread declaring two tools: file search over
// the bound index, and the structured result callback.
func (c *Client) StartRun(ctx context.Context, conversationID string) (string, error) {
	req := createRunRequest{
		AssistantID: c.assistantID,
		Model:       c.model,
		Tools: []runTool{
			{Type: "file_search"},
			{Type: "function", Function: &runFunction{
				Name:        assistant.ResultToolName,
				Description: "Return the evaluation result for each checklist item in this batch.",
				Parameters:  resultToolSchema,
			}},
		},
	}
	var run runObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+conversationID+"/runs", req, &run); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return run.ID, nil
}

// GetRun fetches the run's status and any pending tool calls.
func (c *Client) GetRun(ctx context.Context, conversationID, runID string) (assistant.RunState, error) {
	var run runObject
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+conversationID+"/runs/"+runID, nil, &run); err != nil {
		return assistant.RunState{}, fmt.Errorf("get run %s: %w", runID, err)
	}

	state := assistant.RunState{ID: run.ID, Status: run.Status}
	if run.RequiredAction != nil {
		for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			state.ToolCalls = append(state.ToolCalls, assistant.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
		}
	}
	if run.LastError != nil {
		state.LastError = run.LastError.Code + ": " + run.LastError.Message
	}
	return state, nil
}

type submitToolOutputsRequest struct {
	ToolOutputs []toolOutput `json:"tool_outputs"`
}

type toolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// SubmitToolOutputs acknowledges pending tool calls with a no-op output so
// the run can progress to completed.
func (c *Client) SubmitToolOutputs(ctx context.Context, conversationID, runID string, callIDs []string) error {
	outputs := make([]toolOutput, 0, len(callIDs))
	for _, id := range callIDs {
		outputs = append(outputs, toolOutput{ToolCallID: id, Output: `{"received": true}`})
	}
	body := submitToolOutputsRequest{ToolOutputs: outputs}
	path := "/threads/" + conversationID + "/runs/" + runID + "/submit_tool_outputs"
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("submit tool outputs: %w", err)
	}
	return nil
}

type listMessagesResponse struct {
	Data []messageObject `json:"data"`
}

// ListMessages returns the newest messages on the thread, text content
// flattened.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]assistant.Message, error) {
	path := "/threads/" + conversationID + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp listMessagesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]assistant.Message, 0, len(resp.Data))
	for _, msg := range resp.Data {
		var parts []string
		for _, content := range msg.Content {
			if content.Type == "text" && content.Text.Value != "" {
				parts = append(parts, content.Text.Value)
			}
		}
		messages = append(messages, assistant.Message{
			ID:      msg.ID,
			Role:    msg.Role,
			Content: strings.Join(parts, "\n"),
		})
	}
	return messages, nil
}
