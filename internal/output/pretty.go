package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bgricker/stagerun/internal/history"
	"github.com/bgricker/stagerun/internal/report"
)

// PrettyRenderer renders reports and batch results in a human-friendly format.
// Styling degrades to plain text when out is not a terminal.
type PrettyRenderer struct {
	out    io.Writer
	header lipgloss.Style
	passed lipgloss.Style
	failed lipgloss.Style
	muted  lipgloss.Style
}

// NewPretty creates a PrettyRenderer writing to the provided writer.
func NewPretty(out io.Writer) *PrettyRenderer {
	r := lipgloss.NewRenderer(out)
	return &PrettyRenderer{
		out:    out,
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		passed: r.NewStyle().Foreground(lipgloss.Color("10")),
		failed: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		muted:  r.NewStyle().Faint(true),
	}
}

// RenderReport writes every section of rep in order, followed by the outcome.
func (p *PrettyRenderer) RenderReport(rep *report.Report) error {
	var buffer bytes.Buffer
	for _, sec := range rep.Sections {
		fmt.Fprintf(&buffer, "%s\n", p.header.Render("=== "+sec.Label+" ==="))
		if sec.Text != "" {
			buffer.WriteString(sec.Text)
			if !strings.HasSuffix(sec.Text, "\n") {
				buffer.WriteByte('\n')
			}
		}
		buffer.WriteByte('\n')
	}

	status := p.outcome(rep.Outcome)
	fmt.Fprintf(&buffer, "%s %s (%s)\n", status, rep.Source, formatDuration(rep.Duration))
	if rep.Message != "" {
		fmt.Fprintf(&buffer, "  %s\n", p.muted.Render(rep.Message))
	}
	_, err := buffer.WriteTo(p.out)
	return err
}

// RenderEntry writes one progress line for a finished batch input.
func (p *PrettyRenderer) RenderEntry(e report.Entry, index, total int) error {
	_, err := fmt.Fprintf(p.out, "[%d/%d] %s %s %s\n", index, total, p.glyph(e.Outcome), e.Name, p.muted.Render(string(e.Outcome)))
	return err
}

// RenderChange notes that an input's outcome differs from its last recorded
// run.
func (p *PrettyRenderer) RenderChange(e report.Entry, previous report.Outcome) error {
	_, err := fmt.Fprintf(p.out, "      %s\n", p.muted.Render(fmt.Sprintf("was %s, now %s", previous, e.Outcome)))
	return err
}

// RenderRuns lists recorded batch runs, newest first.
func (p *PrettyRenderer) RenderRuns(runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(p.out, "No recorded runs")
		return err
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tPASSED\tFAILED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Passed, r.Failed, formatDuration(r.Duration))
	}
	return tw.Flush()
}

// RenderSummary shows the batch tally.
func (p *PrettyRenderer) RenderSummary(summary report.Summary) error {
	var buffer bytes.Buffer
	for _, e := range summary.Entries {
		if e.Outcome == report.OutcomeOK {
			continue
		}
		fmt.Fprintf(&buffer, "  %s %s: %s\n", p.glyph(e.Outcome), e.Name, e.Outcome)
		if e.LogPath != "" {
			fmt.Fprintf(&buffer, "      log: %s\n", e.LogPath)
		}
	}
	for _, msg := range summary.Errors {
		fmt.Fprintf(&buffer, "  %s %s\n", p.failed.Render("!"), msg)
	}

	fmt.Fprintf(&buffer, "SUMMARY: %d passed, %d failed (%s)\n", summary.Passed, summary.Failed, formatDuration(summary.Duration))
	fmt.Fprintf(&buffer, "Success rate: %.1f%%\n", summary.SuccessRate())
	if summary.SummaryPath != "" {
		fmt.Fprintf(&buffer, "Summary written to %s\n", summary.SummaryPath)
	}
	_, err := buffer.WriteTo(p.out)
	return err
}

func (p *PrettyRenderer) outcome(o report.Outcome) string {
	if o == report.OutcomeOK {
		return p.passed.Render(statusGlyph(o) + " ok")
	}
	return p.failed.Render(statusGlyph(o) + " " + string(o))
}

func (p *PrettyRenderer) glyph(o report.Outcome) string {
	if o == report.OutcomeOK {
		return p.passed.Render(statusGlyph(o))
	}
	return p.failed.Render(statusGlyph(o))
}

func statusGlyph(o report.Outcome) string {
	switch o {
	case report.OutcomeOK:
		return "✓"
	case report.OutcomeSkippedNoGCC:
		return "-"
	case report.OutcomeRuntimeFailed:
		return "!"
	case "":
		return "?"
	default:
		return "✗"
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Truncate(time.Millisecond).String()
}
