// Package extract turns lab-report documents into parameter/value/unit records
// by prompting a remote model and parsing its answer.
package extract

import "time"

// ExamResult is one extracted lab measurement.
type ExamResult struct {
	Parameter string `json:"parameter" jsonschema:"description=Exam name as printed in the report"`
	Value     string `json:"value" jsonschema:"description=Measured value using . as decimal separator"`
	Unit      string `json:"unit" jsonschema:"description=Unit of measure or empty string"`
}

// ExtractionResponse is the result of one extraction.
type ExtractionResponse struct {
	Results []ExamResult `json:"results"`
	RawText string       `json:"rawText"`
	Meta    Metadata     `json:"meta"`
}

// Metadata describes how a response was produced. It never affects Results or RawText.
type Metadata struct {
	RequestID  string        `json:"request_id"`
	Outcome    Outcome       `json:"outcome"`
	Mode       Mode          `json:"mode"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Document   string        `json:"document"`
	MIMEType   string        `json:"mime_type"`
	SHA256     string        `json:"sha256"`
	Pages      int           `json:"pages,omitempty"`
	Attempts   int           `json:"attempts"`
	Cached     bool          `json:"cached"`
	Elapsed    time.Duration `json:"elapsed"`
	StartedAt  time.Time     `json:"started_at"`
	TokensUsed int           `json:"tokens_used,omitempty"`
}

// Mode selects the prompt and parser variant.
type Mode string

const (
	// ModeSchema requests JSON constrained by ResponseSchema.
	ModeSchema Mode = "schema"
	// ModeLines requests "Name: Value" lines.
	ModeLines Mode = "lines"
)

// ParseMode validates a mode string; empty means ModeSchema.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSchema:
		return ModeSchema, nil
	case ModeLines:
		return ModeLines, nil
	default:
		return "", &Error{Kind: KindInvalidDocument, Message: "unknown mode " + s}
	}
}

// Outcome labels which parse stage produced the records.
type Outcome string

const (
	// OutcomeClean means the model text was valid JSON as-is.
	OutcomeClean Outcome = "clean"
	// OutcomeUnwrapped means JSON was found after stripping a code fence or prose.
	OutcomeUnwrapped Outcome = "unwrapped"
	// OutcomeRecovered means records were salvaged by pattern matching.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeLines means the line-oriented parser was used.
	OutcomeLines Outcome = "lines"
)

// Degraded reports whether the outcome came from the fallback path.
func (o Outcome) Degraded() bool {
	return o == OutcomeRecovered
}
