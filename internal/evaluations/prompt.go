package evaluations

import (
	"fmt"
	"strings"

	"compliance-backend/internal/assistant"
	"compliance-backend/internal/checklists"
)

// BuildBatchPrompt renders the instruction message for one batch. The
// isolation rules are repeated in every batch because the conversation is
// shared across batches and the model otherwise drifts toward answering
// from earlier context instead of the attached document.
func BuildBatchPrompt(scheme checklists.Scheme, docType checklists.DocumentType, items []checklists.Item, batchIndex, totalBatches int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are evaluating a %s document against the %s compliance scheme.\n", docType.Name, scheme.Name)
	fmt.Fprintf(&b, "This is batch %d of %d for the same document.\n\n", batchIndex, totalBatches)

	b.WriteString("Rules:\n")
	b.WriteString("- Base every answer ONLY on the attached document searched via the file index. Do not use prior batches, general knowledge, or assumptions.\n")
	b.WriteString("- If the document does not address an item, the status is No.\n")
	b.WriteString("- If the document partially addresses an item, the status is Partial.\n")
	fmt.Fprintf(&b, "- Return results ONLY by calling the %s function. Do not answer in plain text.\n", assistant.ResultToolName)
	b.WriteString("- Return one entry per checklist item below, with item (the exact item text), status (Yes, No, or Partial), and remarks (a short justification citing the document). All fields are required.\n\n")

	b.WriteString("Checklist items:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Text)
	}
	return b.String()
}
