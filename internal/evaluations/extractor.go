package evaluations

import (
	"encoding/json"
	"strings"

	"compliance-backend/internal/assistant"
)

// ExtractedResult is one entry parsed from a result callback payload.
type ExtractedResult struct {
	Item    string `json:"item"`
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
}

// ExtractFromToolCalls scans tool calls for the result callback and parses
// its arguments. It never fails: an empty slice plus a diagnostic reason is
// returned when nothing usable was found.
func ExtractFromToolCalls(calls []assistant.ToolCall) ([]ExtractedResult, string) {
	if len(calls) == 0 {
		return nil, "no tool calls present"
	}
	for _, call := range calls {
		if call.Name != assistant.ResultToolName {
			continue
		}
		results, reason := ExtractFromArguments(call.Arguments)
		if len(results) > 0 {
			return results, ""
		}
		return nil, "result callback had no usable entries: " + reason
	}
	return nil, "no result callback among tool calls"
}

// ExtractFromArguments parses a callback argument payload. The payload may
// be an object with a results array, a bare array, or any of those
// serialized again as a JSON string.
func ExtractFromArguments(raw json.RawMessage) ([]ExtractedResult, string) {
	data := []byte(strings.TrimSpace(string(raw)))
	if len(data) == 0 {
		return nil, "empty payload"
	}

	// Double-encoded payload: a JSON string containing JSON.
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, "undecodable string payload: " + err.Error()
		}
		data = []byte(strings.TrimSpace(inner))
		if len(data) == 0 {
			return nil, "empty payload"
		}
	}

	var entries []ExtractedResult
	switch data[0] {
	case '{':
		var wrapper struct {
			Results []ExtractedResult `json:"results"`
			Items   []ExtractedResult `json:"items"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, "unparseable object payload: " + err.Error()
		}
		entries = wrapper.Results
		if len(entries) == 0 {
			entries = wrapper.Items
		}
	case '[':
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, "unparseable array payload: " + err.Error()
		}
	default:
		return nil, "payload is neither object nor array"
	}

	out := make([]ExtractedResult, 0, len(entries))
	dropped := 0
	for _, entry := range entries {
		status, ok := normalizeStatus(entry.Status)
		if !ok || strings.TrimSpace(entry.Item) == "" {
			dropped++
			continue
		}
		out = append(out, ExtractedResult{
			Item:    strings.TrimSpace(entry.Item),
			Status:  status,
			Remarks: strings.TrimSpace(entry.Remarks),
		})
	}
	if len(out) == 0 {
		return nil, "no valid entries in payload"
	}
	if dropped > 0 {
		return out, "dropped invalid entries"
	}
	return out, ""
}

// ExtractFromMessages looks for a result payload embedded in assistant
// message text, used when a run completes without a requires_action pass.
func ExtractFromMessages(msgs []assistant.Message) ([]ExtractedResult, string) {
	for _, msg := range msgs {
		if msg.Role != "assistant" {
			continue
		}
		payload := firstJSONBlock(msg.Content)
		if payload == "" {
			continue
		}
		results, _ := ExtractFromArguments(json.RawMessage(payload))
		if len(results) > 0 {
			return results, ""
		}
	}
	return nil, "no result payload in messages"
}

func normalizeStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes":
		return ResultYes, true
	case "no":
		return ResultNo, true
	case "partial", "partially":
		return ResultPartial, true
	}
	return "", false
}

// firstJSONBlock returns the first balanced {...} or [...] block in text.
func firstJSONBlock(text string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
