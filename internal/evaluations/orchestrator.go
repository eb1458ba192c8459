package evaluations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"compliance-backend/internal/assistant"
	"compliance-backend/internal/checklists"
	"compliance-backend/internal/retry"
	"compliance-backend/internal/shared/config"
	"compliance-backend/internal/shared/metrics"
	"compliance-backend/internal/shared/telemetry"
)

const degradedRemarks = "This item could not be analyzed after repeated failures."

// ItemOutcome is the orchestrator's verdict for one checklist item.
type ItemOutcome struct {
	Item     checklists.Item
	Status   string
	Remarks  string
	Degraded bool
}

// Orchestrator drives batched checklist evaluation over one shared
// conversation. The backend rejects new input while a conversation's prior
// run is still active, so batches run strictly sequentially and every run is
// driven to a terminal state before the next message is posted.
type Orchestrator struct {
	Conversations assistant.ConversationClient
	Cfg           config.EvaluationConfig

	Retry *retry.Runner
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runner() *retry.Runner {
	if o.Retry != nil {
		return o.Retry
	}
	return &retry.Runner{Sleep: o.Sleep}
}

// Evaluate checks every item against the document's index and returns
// exactly len(items) outcomes plus the conversation id. Batches that fail
// all their attempts degrade to placeholder outcomes instead of failing the
// evaluation; only conversation creation errors abort entirely.
func (o *Orchestrator) Evaluate(ctx context.Context, indexID string, scheme checklists.Scheme, docType checklists.DocumentType, items []checklists.Item) ([]ItemOutcome, string, error) {
	if len(items) == 0 {
		return nil, "", fmt.Errorf("%w: no checklist items", ErrInvalidInput)
	}

	runner := o.runner()

	var conversationID string
	err := runner.Do(ctx, "assistant.create_conversation", 3, retry.Generic, func(ctx context.Context) error {
		id, err := o.Conversations.CreateConversation(ctx, []string{indexID})
		if err != nil {
			return err
		}
		conversationID = id
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("create conversation: %w", err)
	}

	batchSize := o.Cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 3
	}
	totalBatches := (len(items) + batchSize - 1) / batchSize

	outcomes := make([]ItemOutcome, 0, len(items))
	for batchIndex := 0; batchIndex*batchSize < len(items); batchIndex++ {
		if batchIndex > 0 && o.Cfg.InterBatchDelay > 0 {
			if err := o.sleep(ctx, o.Cfg.InterBatchDelay); err != nil {
				return nil, conversationID, err
			}
		}

		start := batchIndex * batchSize
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		attempts := o.Cfg.BatchAttempts
		if attempts < 1 {
			attempts = 1
		}

		var results []ExtractedResult
		attempt := 0
		batchErr := runner.Do(ctx, fmt.Sprintf("evaluation.batch_%d", batchIndex+1), attempts, retry.Batch, func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				metrics.IncEvaluationBatchRetried()
			}
			var err error
			results, err = o.runBatch(ctx, conversationID, scheme, docType, batch, batchIndex+1, totalBatches)
			return err
		})

		if batchErr != nil {
			telemetry.Error("evaluation.batch_degraded", map[string]any{
				"conversation_id": conversationID,
				"batch":           batchIndex + 1,
				"total_batches":   totalBatches,
				"items":           len(batch),
				"error":           batchErr.Error(),
			})
			metrics.AddEvaluationItemsDegraded(len(batch))
			for _, item := range batch {
				outcomes = append(outcomes, ItemOutcome{
					Item:     item,
					Status:   ResultNo,
					Remarks:  degradedRemarks,
					Degraded: true,
				})
			}
			continue
		}

		if len(results) != len(batch) {
			telemetry.Warn("evaluation.batch_count_mismatch", map[string]any{
				"conversation_id": conversationID,
				"batch":           batchIndex + 1,
				"expected":        len(batch),
				"returned":        len(results),
			})
		}
		outcomes = append(outcomes, matchResults(batch, results)...)
	}

	return outcomes, conversationID, nil
}

// runBatch executes one message/run/acknowledge cycle and returns the
// extracted results. A cycle with zero results is a contract violation and
// surfaces as a retryable error.
func (o *Orchestrator) runBatch(ctx context.Context, conversationID string, scheme checklists.Scheme, docType checklists.DocumentType, batch []checklists.Item, batchIndex, totalBatches int) ([]ExtractedResult, error) {
	prompt := BuildBatchPrompt(scheme, docType, batch, batchIndex, totalBatches)
	if _, err := o.Conversations.PostMessage(ctx, conversationID, prompt); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	runID, err := o.Conversations.StartRun(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	run, err := o.waitForRun(ctx, conversationID, runID, true)
	if err != nil {
		return nil, err
	}

	if run.Status == assistant.RunStatusRequiresAction {
		results, reason := ExtractFromToolCalls(run.ToolCalls)

		// The run blocks the conversation until its tool calls are
		// acknowledged, so acknowledge even when extraction found nothing.
		callIDs := make([]string, 0, len(run.ToolCalls))
		for _, call := range run.ToolCalls {
			callIDs = append(callIDs, call.ID)
		}
		if err := o.Conversations.SubmitToolOutputs(ctx, conversationID, runID, callIDs); err != nil {
			return nil, fmt.Errorf("submit tool outputs: %w", err)
		}
		if _, err := o.waitForRun(ctx, conversationID, runID, false); err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
		telemetry.Warn("evaluation.tool_call_empty", map[string]any{
			"conversation_id": conversationID,
			"run_id":          runID,
			"reason":          reason,
		})
	}

	// Completed without a usable callback: look for a payload in the latest
	// messages before declaring a contract violation.
	msgs, err := o.Conversations.ListMessages(ctx, conversationID, 5)
	if err == nil {
		if results, _ := ExtractFromMessages(msgs); len(results) > 0 {
			return results, nil
		}
	}
	return nil, ErrNoToolResults
}

// waitForRun polls a run until it is terminal, or until requires_action when
// acceptRequiresAction is set. Failed, cancelled, and expired runs are
// errors, as is exceeding the wait timeout.
func (o *Orchestrator) waitForRun(ctx context.Context, conversationID, runID string, acceptRequiresAction bool) (assistant.RunState, error) {
	timeout := o.Cfg.RunWaitTimeout
	if timeout <= 0 {
		timeout = 420 * time.Second
	}
	interval := o.Cfg.RunPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	start := o.now()
	for {
		if o.now().Sub(start) > timeout {
			return assistant.RunState{}, fmt.Errorf("run %s wait timeout after %s", runID, timeout)
		}

		run, err := o.Conversations.GetRun(ctx, conversationID, runID)
		if err == nil {
			switch run.Status {
			case assistant.RunStatusCompleted:
				return run, nil
			case assistant.RunStatusRequiresAction:
				if acceptRequiresAction {
					return run, nil
				}
			case assistant.RunStatusFailed, assistant.RunStatusCancelled, assistant.RunStatusExpired:
				msg := run.LastError
				if msg == "" {
					msg = run.Status
				}
				return assistant.RunState{}, fmt.Errorf("run %s ended %s: %s", runID, run.Status, msg)
			}
		}

		if err := o.sleep(ctx, interval); err != nil {
			return assistant.RunState{}, err
		}
	}
}

// matchResults pairs extracted results with batch items by item text. Items
// the model did not report get a placeholder so the outcome count always
// equals the batch size.
func matchResults(batch []checklists.Item, results []ExtractedResult) []ItemOutcome {
	used := make([]bool, len(results))
	outcomes := make([]ItemOutcome, 0, len(batch))

	for _, item := range batch {
		matched := false
		for i, result := range results {
			if used[i] {
				continue
			}
			if textMatches(item.Text, result.Item) {
				used[i] = true
				outcomes = append(outcomes, ItemOutcome{
					Item:    item,
					Status:  result.Status,
					Remarks: result.Remarks,
				})
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		// Fall back to positional pairing when texts don't line up.
		positional := false
		for i, result := range results {
			if !used[i] {
				used[i] = true
				outcomes = append(outcomes, ItemOutcome{
					Item:    item,
					Status:  result.Status,
					Remarks: result.Remarks,
				})
				positional = true
				break
			}
		}
		if !positional {
			outcomes = append(outcomes, ItemOutcome{
				Item:     item,
				Status:   ResultNo,
				Remarks:  "No result was returned for this item.",
				Degraded: true,
			})
		}
	}
	return outcomes
}

func textMatches(itemText, resultText string) bool {
	a := strings.ToLower(strings.TrimSpace(itemText))
	b := strings.ToLower(strings.TrimSpace(resultText))
	if a == b {
		return true
	}
	if len(b) >= 20 && strings.Contains(a, b) {
		return true
	}
	if len(a) >= 20 && strings.Contains(b, a) {
		return true
	}
	return false
}
