package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bgricker/stagerun/internal/report"
)

func TestJSONRendererReport(t *testing.T) {
	rep := &report.Report{
		Source:  "01_hello",
		Mode:    "all",
		State:   report.StateDone,
		Outcome: report.OutcomeOK,
		Err:     errors.New("not serialized"),
	}
	rep.Add(report.LabelProgramOutput, "X")
	rep.Record(report.StageRecord{Stage: "execute", Executable: "/tmp/source", Duration: 1500000})

	buf := &bytes.Buffer{}
	renderer := NewJSON(buf)
	if err := renderer.Render(Document{Toolchain: "gcc", Report: rep, Warnings: []string{"note"}}); err != nil {
		t.Fatalf("render json: %v", err)
	}

	var decoded struct {
		Toolchain string `json:"toolchain"`
		Report    struct {
			Outcome  string           `json:"outcome"`
			Sections []report.Section `json:"sections"`
			Stages   []struct {
				DurationMS int64 `json:"duration_ms"`
			} `json:"stages"`
		} `json:"report"`
		Summary  *json.RawMessage `json:"summary"`
		Warnings []string         `json:"warnings"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded.Toolchain != "gcc" || decoded.Report.Outcome != "ok" {
		t.Fatalf("unexpected document: %s", buf.String())
	}
	if len(decoded.Report.Sections) != 1 || decoded.Report.Sections[0].Text != "X" {
		t.Fatalf("section mismatch: %+v", decoded.Report.Sections)
	}
	if len(decoded.Report.Stages) != 1 || decoded.Report.Stages[0].DurationMS != 1 {
		t.Fatalf("stage mismatch: %+v", decoded.Report.Stages)
	}
	if decoded.Summary != nil {
		t.Fatalf("summary must be omitted for a single report")
	}
	if len(decoded.Warnings) != 1 {
		t.Fatalf("expected warnings serialized")
	}
	if bytes.Contains(buf.Bytes(), []byte("not serialized")) {
		t.Fatalf("report error leaked into json: %s", buf.String())
	}
}
