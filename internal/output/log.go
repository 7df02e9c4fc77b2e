package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bgricker/stagerun/internal/report"
)

// LogRecord is everything a per-input log file holds.
type LogRecord struct {
	SourcePath string
	// Started is when the input was picked up; Report.StartedAt is used
	// when it is zero.
	Started time.Time
	Report  *report.Report
	// Outcome overrides Report.Outcome; it is also used when Report is nil
	// because the pipeline never produced one.
	Outcome report.Outcome
	// Note is written before the result line, e.g. a recovered fault.
	Note string
}

// WriteLog renders rec as line-oriented text ending in "Result: <outcome>".
func WriteLog(w io.Writer, rec LogRecord) error {
	bw := bufio.NewWriter(w)
	rep := rec.Report
	outcome := rec.Outcome

	started := rec.Started
	if started.IsZero() && rep != nil {
		started = rep.StartedAt
	}

	fmt.Fprintf(bw, "Source: %s\n", rec.SourcePath)
	fmt.Fprintf(bw, "Started: %s\n", started.Format(time.RFC3339))
	if rep != nil {
		fmt.Fprintf(bw, "Mode: %s\n", rep.Mode)
		if outcome == "" {
			outcome = rep.Outcome
		}

		for _, st := range rep.Stages {
			fmt.Fprintf(bw, "\n[%s] %s %s\n", st.Stage, st.Executable, strings.Join(st.Args, " "))
			fmt.Fprintf(bw, "[%s] exit code: %d (%s)\n", st.Stage, st.ExitCode, formatDuration(st.Duration))
			if st.Error != "" {
				fmt.Fprintf(bw, "[%s] error: %s\n", st.Stage, st.Error)
			}
			writeLines(bw, st.Stage, "stdout", st.Stdout)
			writeLines(bw, st.Stage, "stderr", st.Stderr)
		}

		for _, sec := range rep.Sections {
			fmt.Fprintf(bw, "\n=== %s ===\n", sec.Label)
			if sec.Text != "" {
				bw.WriteString(sec.Text)
				if !strings.HasSuffix(sec.Text, "\n") {
					bw.WriteByte('\n')
				}
			}
		}
		if rep.Degraded {
			fmt.Fprintf(bw, "\nDegraded: %s\n", nonEmpty(rep.Message, "see sections above"))
		}
	}
	if rec.Note != "" {
		fmt.Fprintf(bw, "\nNote: %s\n", rec.Note)
	}

	fmt.Fprintf(bw, "\nResult: %s\n", outcome)
	return bw.Flush()
}

// WriteSummary writes one "<name>: <outcome>" line per entry.
func WriteSummary(w io.Writer, entries []report.Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		fmt.Fprintf(bw, "%s: %s\n", e.Name, e.Outcome)
	}
	return bw.Flush()
}

func writeLines(w *bufio.Writer, stage, stream, text string) {
	if text == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		fmt.Fprintf(w, "[%s] %s: %s\n", stage, stream, strings.TrimSuffix(line, "\r"))
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
