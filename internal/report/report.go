package report

import (
	"fmt"
	"time"
)

// Outcome is the closed vocabulary recorded for a pipeline run.
type Outcome string

const (
	OutcomeOK                  Outcome = "ok"
	OutcomeCompileSourceFailed Outcome = "compile-source-failed"
	OutcomeCNotGenerated       Outcome = "c-not-generated"
	OutcomeGCCFailed           Outcome = "gcc-failed"
	OutcomeSkippedNoGCC        Outcome = "skipped-no-gcc"
	OutcomeRuntimeFailed       Outcome = "runtime-failed"
	OutcomeRuntimeException    Outcome = "runtime-exception"
)

// Outcomes lists every valid outcome in severity-neutral order.
var Outcomes = []Outcome{
	OutcomeOK,
	OutcomeCompileSourceFailed,
	OutcomeCNotGenerated,
	OutcomeGCCFailed,
	OutcomeSkippedNoGCC,
	OutcomeRuntimeFailed,
	OutcomeRuntimeException,
}

// Valid reports whether o belongs to the vocabulary.
func (o Outcome) Valid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// State is a pipeline state.
type State string

const (
	StateIdle            State = "idle"
	StateTranslating     State = "translating"
	StateNativeCompiling State = "native-compiling"
	StateExecuting       State = "executing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Section labels used by the pipeline.
const (
	LabelTranslationOutput = "Translation Output"
	LabelTranslationErrors = "Translation Errors"
	LabelGeneratedCode     = "Generated Code"
	LabelMissingArtifacts  = "Missing Artifacts"
	LabelToolchainOutput   = "Toolchain Output"
	LabelToolchainErrors   = "Toolchain Errors"
	LabelProgramOutput     = "Program Output"
	LabelProgramErrors     = "Program Errors"
	LabelFailure           = "Failure"
)

// GeneratedCodeLabel returns the section label for a generated artifact.
func GeneratedCodeLabel(file string) string {
	return fmt.Sprintf("%s: %s", LabelGeneratedCode, file)
}

// Section is one labelled block of report text.
type Section struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// StageRecord captures the raw outcome of one external process invocation.
type StageRecord struct {
	Stage      string        `json:"stage"`
	Executable string        `json:"executable"`
	Args       []string      `json:"args,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

// Report is the cumulative record of one pipeline run. Sections are only
// appended while the run is in flight; once State is terminal the report is
// handed to its caller and not modified again.
type Report struct {
	Source      string        `json:"source"`
	Mode        string        `json:"mode"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	State       State         `json:"state"`
	Outcome     Outcome       `json:"outcome"`
	Degraded    bool          `json:"degraded"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Message     string        `json:"message,omitempty"`
	Sections    []Section     `json:"sections"`
	Stages      []StageRecord `json:"stages"`
	Err         error         `json:"-"`
}

// Add appends a section.
func (r *Report) Add(label, text string) {
	r.Sections = append(r.Sections, Section{Label: label, Text: text})
}

// Section returns the first section with the given label.
func (r *Report) Section(label string) (Section, bool) {
	for _, s := range r.Sections {
		if s.Label == label {
			return s, true
		}
	}
	return Section{}, false
}

// Record appends a stage record.
func (r *Report) Record(rec StageRecord) {
	rec.DurationMS = rec.Duration.Milliseconds()
	r.Stages = append(r.Stages, rec)
}

// Stage returns the record for the named stage.
func (r *Report) Stage(name string) (StageRecord, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageRecord{}, false
}

// Entry is the per-input line of a batch summary.
type Entry struct {
	Name    string  `json:"name"`
	Source  string  `json:"source"`
	Outcome Outcome `json:"outcome"`
	LogPath string  `json:"log_path,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	InputsDir   string        `json:"inputs_dir"`
	LogsDir     string        `json:"logs_dir"`
	SummaryPath string        `json:"summary_path"`
	Entries     []Entry       `json:"entries"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	Errors      []string      `json:"errors,omitempty"`
	ExitCode    int           `json:"exit_code"`
}

// Add appends an entry and updates the counters.
func (s *Summary) Add(e Entry) {
	s.Entries = append(s.Entries, e)
	if e.Outcome == OutcomeOK {
		s.Passed++
	} else {
		s.Failed++
		s.ExitCode = 1
	}
}

// SuccessRate returns the percentage of ok entries, 0 for an empty batch.
func (s Summary) SuccessRate() float64 {
	total := len(s.Entries)
	if total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(total) * 100
}
