package output

import (
	"encoding/json"
	"io"

	"github.com/bgricker/stagerun/internal/history"
	"github.com/bgricker/stagerun/internal/report"
)

// JSONRenderer emits structured execution data.
type JSONRenderer struct {
	out io.Writer
}

// NewJSON creates a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Document captures JSON output schema. Report is set for a single
// pipeline, Summary for a batch, and Runs or Entries for history queries.
type Document struct {
	Translator string          `json:"translator,omitempty"`
	Toolchain  string          `json:"toolchain,omitempty"`
	Report     *report.Report  `json:"report,omitempty"`
	Summary    *report.Summary `json:"summary,omitempty"`
	Runs       []history.Run   `json:"runs,omitempty"`
	Entries    []report.Entry  `json:"entries,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// Render encodes the document as JSON.
func (j *JSONRenderer) Render(doc Document) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
