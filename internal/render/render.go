package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/autopentest/internal/analysis"
	"github.com/vinayprograms/autopentest/internal/parallel"
	"github.com/vinayprograms/autopentest/internal/security"
	"github.com/vinayprograms/autopentest/internal/task"
)

// Width is the wrap width for console blocks.
const Width = 80

const previewWidth = 60

// errWriter keeps the first write error so callers check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// TaskSummary writes one block per task followed by status totals.
func TaskSummary(w io.Writer, tasks []task.Task) error {
	ew := &errWriter{w: w}
	ew.printf("%s\n%s\n", titleStyle.Render("Task Summary"), divider)

	var completed, failed, timedOut int
	for _, t := range tasks {
		switch t.Status {
		case task.StatusCompleted:
			completed++
		case task.StatusTimedOut:
			timedOut++
		case task.StatusFailed:
			failed++
		}
		ew.printf("%s %s %s\n", status(t), commandStyle.Render(Preview(t.Command, previewWidth)),
			dimStyle.Render(fmt.Sprintf("(%s, %s)", t.ID, formatDuration(t.ExecutionTime))))
		if t.ReturnCode != nil {
			ew.printf("  %s %d\n", labelStyle.Render("exit:"), *t.ReturnCode)
		}
		if out := strings.TrimSpace(t.Output); out != "" {
			ew.printf("  %s %s\n", labelStyle.Render("output:"), Preview(out, previewWidth))
		}
	}

	ew.printf("%s\n", divider)
	ew.printf("%s %d  %s %d  %s %d  %s %d\n",
		labelStyle.Render("total"), len(tasks),
		successStyle.Render("completed"), completed,
		errorStyle.Render("failed"), failed,
		warnStyle.Render("timed out"), timedOut)
	return ew.err
}

// Batch writes the outcome of a parallel batch.
func Batch(w io.Writer, b *parallel.BatchResult) error {
	ew := &errWriter{w: w}
	ew.printf("%s %s\n", titleStyle.Render("Batch"), dimStyle.Render(b.BatchID))
	ew.printf("%s %d/%d successful in %s\n", labelStyle.Render("result:"),
		b.SuccessfulTasks, b.TotalTasks, formatDuration(b.TotalExecutionTime))
	if ew.err != nil {
		return ew.err
	}
	return TaskSummary(w, b.Results)
}

// Analysis writes findings and recommendations.
func Analysis(w io.Writer, rep analysis.Report) error {
	ew := &errWriter{w: w}
	ew.printf("%s\n", titleStyle.Render("Analysis"))
	ew.printf("%s\n", wordwrap.String(rep.Summary, Width))
	if len(rep.Findings) > 0 {
		ew.printf("%s\n", labelStyle.Render("Findings:"))
		for _, f := range rep.Findings {
			ew.printf("  %s %s\n", severity(f.Severity), findingStyle.Render(Preview(f.String(), Width-14)))
		}
	}
	if len(rep.Recommendations) > 0 {
		ew.printf("%s\n", labelStyle.Render("Recommendations:"))
		for _, r := range rep.Recommendations {
			ew.printf("  - %s\n", wordwrap.String(r, Width-4))
		}
	}
	return ew.err
}

// Verdict writes a security gate verdict.
func Verdict(w io.Writer, command string, v security.Verdict) error {
	ew := &errWriter{w: w}
	decision := successStyle.Render("ALLOWED")
	if !v.Allowed {
		decision = criticalStyle.Render("BLOCKED")
	}
	ew.printf("%s %s\n", decision, commandStyle.Render(Preview(command, Width-10)))
	ew.printf("%s %s\n", labelStyle.Render("risk:"), risk(v.Risk))
	for _, warn := range v.Warnings {
		ew.printf("  %s %s\n", warnStyle.Render("!"), wordwrap.String(warn, Width-4))
	}
	return ew.err
}

// Preview collapses s to one line no wider than width.
func Preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 3 {
		return s
	}
	return truncate.StringWithTail(s, uint(width), "...")
}

func status(t task.Task) string {
	switch t.Status {
	case task.StatusCompleted:
		if t.Code(0) == 0 {
			return successStyle.Render("✓")
		}
		return warnStyle.Render("✓")
	case task.StatusTimedOut:
		return warnStyle.Render("⏱")
	case task.StatusFailed:
		return errorStyle.Render("✗")
	default:
		return dimStyle.Render("…")
	}
}

func risk(r security.RiskLevel) string {
	switch r {
	case security.RiskCritical:
		return criticalStyle.Render(r.String())
	case security.RiskHigh:
		return errorStyle.Render(r.String())
	case security.RiskMedium:
		return warnStyle.Render(r.String())
	default:
		return successStyle.Render(r.String())
	}
}

func severity(s string) string {
	label := fmt.Sprintf("[%s]", s)
	switch strings.ToLower(s) {
	case "critical":
		return criticalStyle.Render(label)
	case "high":
		return errorStyle.Render(label)
	case "medium":
		return warnStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
