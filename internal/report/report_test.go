package report

import "testing"

func TestSummaryCounters(t *testing.T) {
	var s Summary
	s.Add(Entry{Name: "01_hello", Outcome: OutcomeOK})
	s.Add(Entry{Name: "02_loop", Outcome: OutcomeGCCFailed})
	s.Add(Entry{Name: "03_math", Outcome: OutcomeOK})
	s.Add(Entry{Name: "04_io", Outcome: OutcomeOK})

	if s.Passed != 3 || s.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", s.ExitCode)
	}
	if got := s.SuccessRate(); got != 75 {
		t.Fatalf("expected 75%% success, got %.1f", got)
	}
	if got := (Summary{}).SuccessRate(); got != 0 {
		t.Fatalf("expected 0 for empty summary, got %.1f", got)
	}
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range Outcomes {
		if !o.Valid() {
			t.Fatalf("outcome %q reported invalid", o)
		}
	}
	if Outcome("partially-ok").Valid() {
		t.Fatalf("unknown outcome accepted")
	}
}

func TestReportSectionLookup(t *testing.T) {
	var r Report
	r.Add(LabelTranslationOutput, "first")
	r.Add(GeneratedCodeLabel("source.c"), "int main(){}")
	r.Add(LabelTranslationOutput, "second")

	sec, ok := r.Section(LabelTranslationOutput)
	if !ok || sec.Text != "first" {
		t.Fatalf("expected first matching section, got %+v", sec)
	}
	if _, ok := r.Section("Generated Code: source.c"); !ok {
		t.Fatalf("generated code label not found")
	}
	if _, ok := r.Section(LabelProgramOutput); ok {
		t.Fatalf("unexpected program output section")
	}
}
