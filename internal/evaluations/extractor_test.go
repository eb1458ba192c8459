package evaluations

import (
	"encoding/json"
	"testing"

	"compliance-backend/internal/assistant"
)

func TestExtractFromArgumentsWrapperObject(t *testing.T) {
	raw := json.RawMessage(`{"results":[{"item":"Quality policy stated","status":"Yes","remarks":"Section 2"},{"item":"Roles defined","status":"no","remarks":""}]}`)
	results, reason := ExtractFromArguments(raw)
	if reason != "" {
		t.Fatalf("reason = %q, want empty", reason)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Status != ResultYes || results[1].Status != ResultNo {
		t.Errorf("statuses = %q, %q, want Yes, No", results[0].Status, results[1].Status)
	}
}

func TestExtractFromArgumentsBareArray(t *testing.T) {
	raw := json.RawMessage(`[{"item":"Access control","status":"Partially","remarks":"only admins covered"}]`)
	results, _ := ExtractFromArguments(raw)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Status != ResultPartial {
		t.Errorf("status = %q, want Partial", results[0].Status)
	}
}

func TestExtractFromArgumentsDoubleEncoded(t *testing.T) {
	inner := `{"results":[{"item":"Backup procedure","status":"yes","remarks":"tested quarterly"}]}`
	outer, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}
	results, reason := ExtractFromArguments(outer)
	if reason != "" {
		t.Fatalf("reason = %q, want empty", reason)
	}
	if len(results) != 1 || results[0].Item != "Backup procedure" {
		t.Fatalf("results = %+v, want one backup procedure entry", results)
	}
}

func TestExtractFromArgumentsItemsKey(t *testing.T) {
	raw := json.RawMessage(`{"items":[{"item":"Incident response","status":"No","remarks":"not described"}]}`)
	results, _ := ExtractFromArguments(raw)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
}

func TestExtractFromArgumentsDropsInvalidEntries(t *testing.T) {
	raw := json.RawMessage(`{"results":[
		{"item":"Valid one","status":"Yes","remarks":""},
		{"item":"","status":"Yes","remarks":"no item text"},
		{"item":"Bad status","status":"maybe","remarks":""}
	]}`)
	results, reason := ExtractFromArguments(raw)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if reason != "dropped invalid entries" {
		t.Errorf("reason = %q, want dropped invalid entries", reason)
	}
}

func TestExtractFromArgumentsNeverErrors(t *testing.T) {
	payloads := []string{
		"",
		"   ",
		"null",
		"42",
		`"not json inside"`,
		`{"results":"oops"}`,
		`{broken`,
		`[{"item":`,
	}
	for _, p := range payloads {
		results, reason := ExtractFromArguments(json.RawMessage(p))
		if len(results) != 0 {
			t.Errorf("payload %q produced results %+v, want none", p, results)
		}
		if reason == "" {
			t.Errorf("payload %q produced no diagnostic reason", p)
		}
	}
}

func TestExtractFromToolCalls(t *testing.T) {
	calls := []assistant.ToolCall{
		{ID: "call_1", Name: "file_search", Arguments: json.RawMessage(`{}`)},
		{ID: "call_2", Name: assistant.ResultToolName, Arguments: json.RawMessage(`{"results":[{"item":"Scope documented","status":"Yes","remarks":""}]}`)},
	}
	results, reason := ExtractFromToolCalls(calls)
	if reason != "" {
		t.Fatalf("reason = %q, want empty", reason)
	}
	if len(results) != 1 || results[0].Item != "Scope documented" {
		t.Fatalf("results = %+v", results)
	}

	if _, reason := ExtractFromToolCalls(nil); reason == "" {
		t.Error("empty calls produced no reason")
	}
	if _, reason := ExtractFromToolCalls(calls[:1]); reason == "" {
		t.Error("calls without result callback produced no reason")
	}
}

func TestExtractFromMessages(t *testing.T) {
	msgs := []assistant.Message{
		{ID: "m3", Role: "user", Content: "please evaluate"},
		{ID: "m2", Role: "assistant", Content: "Here are the results:\n{\"results\":[{\"item\":\"Retention periods specified\",\"status\":\"Partial\",\"remarks\":\"only for audit records\"}]}\nLet me know."},
	}
	results, reason := ExtractFromMessages(msgs)
	if reason != "" {
		t.Fatalf("reason = %q, want empty", reason)
	}
	if len(results) != 1 || results[0].Status != ResultPartial {
		t.Fatalf("results = %+v", results)
	}

	if _, reason := ExtractFromMessages([]assistant.Message{{Role: "assistant", Content: "no json here"}}); reason == "" {
		t.Error("messages without payload produced no reason")
	}
}

func TestFirstJSONBlockBalancing(t *testing.T) {
	text := `prefix {"a":{"b":"}"},"c":[1,2]} suffix {"d":1}`
	got := firstJSONBlock(text)
	want := `{"a":{"b":"}"},"c":[1,2]}`
	if got != want {
		t.Errorf("firstJSONBlock = %q, want %q", got, want)
	}
	if firstJSONBlock("plain text") != "" {
		t.Error("firstJSONBlock found a block in plain text")
	}
}
