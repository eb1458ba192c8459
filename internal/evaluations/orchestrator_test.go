package evaluations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"compliance-backend/internal/assistant"
	"compliance-backend/internal/checklists"
	"compliance-backend/internal/retry"
	"compliance-backend/internal/shared/config"
)

type scriptedRun struct {
	startErr error
	status   string // requires_action, completed, or failed
	payload  string // tool call arguments for requires_action runs
	lastErr  string
}

type fakeConversations struct {
	createErrs  []error
	createCalls int
	prompts     []string
	runSeq      int
	scripts     []scriptedRun
	submitted   map[string]bool
	submitCalls int
	messages    []assistant.Message
	listCalls   int
}

func (f *fakeConversations) CreateConversation(ctx context.Context, indexIDs []string) (string, error) {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "conv-1", nil
}

func (f *fakeConversations) PostMessage(ctx context.Context, conversationID, content string) (string, error) {
	f.prompts = append(f.prompts, content)
	return fmt.Sprintf("msg-%d", len(f.prompts)), nil
}

func (f *fakeConversations) StartRun(ctx context.Context, conversationID string) (string, error) {
	f.runSeq++
	script := f.script(f.runSeq)
	if script.startErr != nil {
		return "", script.startErr
	}
	return fmt.Sprintf("run-%d", f.runSeq), nil
}

func (f *fakeConversations) GetRun(ctx context.Context, conversationID, runID string) (assistant.RunState, error) {
	var seq int
	fmt.Sscanf(runID, "run-%d", &seq)
	script := f.script(seq)

	if f.submitted[runID] {
		return assistant.RunState{ID: runID, Status: assistant.RunStatusCompleted}, nil
	}
	switch script.status {
	case assistant.RunStatusRequiresAction:
		return assistant.RunState{
			ID:     runID,
			Status: assistant.RunStatusRequiresAction,
			ToolCalls: []assistant.ToolCall{
				{ID: "call-" + runID, Name: assistant.ResultToolName, Arguments: json.RawMessage(script.payload)},
			},
		}, nil
	case assistant.RunStatusFailed:
		return assistant.RunState{ID: runID, Status: assistant.RunStatusFailed, LastError: script.lastErr}, nil
	default:
		return assistant.RunState{ID: runID, Status: assistant.RunStatusCompleted}, nil
	}
}

func (f *fakeConversations) SubmitToolOutputs(ctx context.Context, conversationID, runID string, callIDs []string) error {
	if f.submitted == nil {
		f.submitted = make(map[string]bool)
	}
	f.submitted[runID] = true
	f.submitCalls++
	return nil
}

func (f *fakeConversations) ListMessages(ctx context.Context, conversationID string, limit int) ([]assistant.Message, error) {
	f.listCalls++
	return f.messages, nil
}

func (f *fakeConversations) script(seq int) scriptedRun {
	if seq-1 < len(f.scripts) {
		return f.scripts[seq-1]
	}
	return scriptedRun{status: assistant.RunStatusCompleted}
}

func payloadFor(items []checklists.Item, status string) string {
	entries := make([]map[string]string, 0, len(items))
	for _, item := range items {
		entries = append(entries, map[string]string{
			"item":    item.Text,
			"status":  status,
			"remarks": "covered in section 3",
		})
	}
	raw, _ := json.Marshal(map[string]any{"results": entries})
	return string(raw)
}

func testItems(n int) []checklists.Item {
	items := make([]checklists.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, checklists.Item{
			ID:   fmt.Sprintf("item-%03d", i+1),
			Text: fmt.Sprintf("Requirement number %d is addressed with documented evidence.", i+1),
		})
	}
	return items
}

func testOrchestrator(fake *fakeConversations, sleeps *[]time.Duration) *Orchestrator {
	record := func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	return &Orchestrator{
		Conversations: fake,
		Cfg: config.EvaluationConfig{
			BatchSize:       3,
			BatchAttempts:   3,
			RunWaitTimeout:  420 * time.Second,
			RunPollInterval: 2 * time.Second,
			InterBatchDelay: 5 * time.Second,
		},
		Retry: &retry.Runner{Sleep: record},
		Sleep: record,
	}
}

func TestEvaluateBatchesSequentially(t *testing.T) {
	items := testItems(7)
	fake := &fakeConversations{
		scripts: []scriptedRun{
			{status: assistant.RunStatusRequiresAction, payload: payloadFor(items[0:3], "Yes")},
			{status: assistant.RunStatusRequiresAction, payload: payloadFor(items[3:6], "No")},
			{status: assistant.RunStatusRequiresAction, payload: payloadFor(items[6:7], "Partial")},
		},
	}
	var sleeps []time.Duration
	o := testOrchestrator(fake, &sleeps)

	outcomes, conversationID, err := o.Evaluate(context.Background(), "idx-1", checklists.Scheme{Code: "QMS"}, checklists.DocumentType{Code: "POLICY"}, items)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if conversationID != "conv-1" {
		t.Errorf("conversationID = %q, want conv-1", conversationID)
	}
	if fake.createCalls != 1 {
		t.Errorf("conversations created = %d, want 1", fake.createCalls)
	}
	if len(outcomes) != 7 {
		t.Fatalf("outcomes = %d, want 7", len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.Item.ID != items[i].ID {
			t.Errorf("outcome %d item = %s, want %s", i, outcome.Item.ID, items[i].ID)
		}
	}
	wantStatuses := []string{ResultYes, ResultYes, ResultYes, ResultNo, ResultNo, ResultNo, ResultPartial}
	for i, want := range wantStatuses {
		if outcomes[i].Status != want {
			t.Errorf("outcome %d status = %q, want %q", i, outcomes[i].Status, want)
		}
	}
	if len(fake.prompts) != 3 {
		t.Errorf("prompts posted = %d, want 3", len(fake.prompts))
	}
	if fake.submitCalls != 3 {
		t.Errorf("tool outputs submitted = %d, want 3", fake.submitCalls)
	}

	interBatch := 0
	for _, d := range sleeps {
		if d == 5*time.Second {
			interBatch++
		}
	}
	if interBatch != 2 {
		t.Errorf("inter-batch delays = %d, want 2 (not after the last batch)", interBatch)
	}
}

func TestEvaluateRetriesTransientBatchFailure(t *testing.T) {
	items := testItems(3)
	fake := &fakeConversations{
		scripts: []scriptedRun{
			{startErr: errors.New("timeout starting run")},
			{status: assistant.RunStatusFailed, lastErr: "rate limit exceeded"},
			{status: assistant.RunStatusRequiresAction, payload: payloadFor(items, "Yes")},
		},
	}
	o := testOrchestrator(fake, nil)

	outcomes, _, err := o.Evaluate(context.Background(), "idx-1", checklists.Scheme{}, checklists.DocumentType{}, items)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.Degraded {
			t.Errorf("outcome %d degraded after a successful retry", i)
		}
		if outcome.Status != ResultYes {
			t.Errorf("outcome %d status = %q, want Yes", i, outcome.Status)
		}
	}
	if fake.runSeq != 3 {
		t.Errorf("runs started = %d, want 3", fake.runSeq)
	}
}

func TestEvaluateDegradesBatchAfterExhaustion(t *testing.T) {
	items := testItems(6)
	fake := &fakeConversations{
		scripts: []scriptedRun{
			// First batch: three attempts, all failing.
			{startErr: errors.New("connection reset")},
			{startErr: errors.New("connection reset")},
			{startErr: errors.New("connection reset")},
			// Second batch succeeds.
			{status: assistant.RunStatusRequiresAction, payload: payloadFor(items[3:6], "Yes")},
		},
	}
	o := testOrchestrator(fake, nil)

	outcomes, _, err := o.Evaluate(context.Background(), "idx-1", checklists.Scheme{}, checklists.DocumentType{}, items)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(outcomes) != 6 {
		t.Fatalf("outcomes = %d, want 6", len(outcomes))
	}
	for i := 0; i < 3; i++ {
		if !outcomes[i].Degraded || outcomes[i].Status != ResultNo {
			t.Errorf("outcome %d = %+v, want degraded No placeholder", i, outcomes[i])
		}
		if outcomes[i].Remarks != degradedRemarks {
			t.Errorf("outcome %d remarks = %q", i, outcomes[i].Remarks)
		}
	}
	for i := 3; i < 6; i++ {
		if outcomes[i].Degraded || outcomes[i].Status != ResultYes {
			t.Errorf("outcome %d = %+v, want Yes", i, outcomes[i])
		}
	}
}

func TestEvaluateFailsWhenConversationCannotBeCreated(t *testing.T) {
	fake := &fakeConversations{
		createErrs: []error{
			errors.New("invalid assistant id"),
		},
	}
	o := testOrchestrator(fake, nil)

	_, _, err := o.Evaluate(context.Background(), "idx-1", checklists.Scheme{}, checklists.DocumentType{}, testItems(3))
	if err == nil {
		t.Fatal("Evaluate succeeded with failing conversation create")
	}
	if !strings.Contains(err.Error(), "create conversation") {
		t.Errorf("error = %v, want create conversation failure", err)
	}
	if fake.createCalls != 1 {
		t.Errorf("create attempts = %d, want 1 (non-retryable)", fake.createCalls)
	}
}

func TestEvaluateFallsBackToMessages(t *testing.T) {
	items := testItems(2)
	fake := &fakeConversations{
		scripts: []scriptedRun{
			{status: assistant.RunStatusCompleted},
		},
		messages: []assistant.Message{
			{ID: "m1", Role: "assistant", Content: "Results: " + payloadFor(items, "Partial")},
		},
	}
	o := testOrchestrator(fake, nil)

	outcomes, _, err := o.Evaluate(context.Background(), "idx-1", checklists.Scheme{}, checklists.DocumentType{}, items)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if fake.listCalls == 0 {
		t.Error("messages never listed for fallback extraction")
	}
	for i, outcome := range outcomes {
		if outcome.Status != ResultPartial {
			t.Errorf("outcome %d status = %q, want Partial", i, outcome.Status)
		}
	}
}

func TestMatchResultsPairsAndPlaceholders(t *testing.T) {
	items := testItems(3)
	results := []ExtractedResult{
		{Item: items[1].Text, Status: ResultNo, Remarks: "missing"},
		{Item: items[0].Text, Status: ResultYes, Remarks: "ok"},
	}

	outcomes := matchResults(items, results)
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if outcomes[0].Status != ResultYes || outcomes[1].Status != ResultNo {
		t.Errorf("text matching failed: %+v", outcomes[:2])
	}
	if !outcomes[2].Degraded || outcomes[2].Status != ResultNo {
		t.Errorf("unmatched item did not get a placeholder: %+v", outcomes[2])
	}
}

func TestMatchResultsPositionalFallback(t *testing.T) {
	items := testItems(2)
	results := []ExtractedResult{
		{Item: "1", Status: ResultYes, Remarks: ""},
		{Item: "2", Status: ResultPartial, Remarks: ""},
	}

	outcomes := matchResults(items, results)
	if outcomes[0].Status != ResultYes || outcomes[1].Status != ResultPartial {
		t.Errorf("positional fallback failed: %+v", outcomes)
	}
}
