package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/DeafMist/pneumo-triage/backend/internal/models"
)

// Input is a single document to summarise. Text carries the annotated text of
// text documents; Data carries the untouched bytes of PDFs.
type Input struct {
	Kind     models.DocumentKind
	MIMEType string
	Name     string
	Text     string
	Data     []byte
}

// Summarizer turns a report into a structured summary with the four sections
// requested by the prompt template.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}

// Error describes a failed summarisation call.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("summarizer.%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("summarizer.%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const promptHeader = `You are assisting with the triage of a medical report.
Read the report and answer with exactly four sections, in this order, each starting with its bold heading:

**Abnormalities**:
**Risk Factors**:
**Pneumonia Indicators**:
**Recommendations**:

Under **Recommendations**, say plainly whether a chest x-ray or other imaging is recommended.
Be concise and do not add any other sections.`

const markerNote = `Words prefixed with MEASUREMENT:, MEDICATION:, SYMPTOM:, CONDITION:, DURATION: or SEVERITY: were tagged with their clinical category.`

// BuildPrompt renders the instruction template. PDFs are attached separately
// by the provider, so only text documents have their body inlined.
func BuildPrompt(input Input) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	sb.WriteString("\n\n")

	if input.Kind == models.KindPDF {
		sb.WriteString("The report is attached as a PDF document")
		if input.Name != "" {
			sb.WriteString(" (" + input.Name + ")")
		}
		sb.WriteString(".")
		return sb.String()
	}

	sb.WriteString(markerNote)
	sb.WriteString("\n\nReport:\n")
	sb.WriteString(input.Text)
	return sb.String()
}
