// Package report builds the plain text assessment report.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/vinayprograms/autopentest/internal/analysis"
)

// Input is everything the report is built from.
type Input struct {
	Target           string
	Date             time.Time
	ExecutiveSummary string
	Findings         []analysis.Finding
	Recommendations  []string
	ToolsUsed        []string
	TechnicalDetails string
}

// Severities are counted in this order.
var Severities = []string{"Critical", "High", "Medium", "Low"}

const reportText = `
PENETRATION TESTING REPORT
{{rule 50}}

Target Information:
- Target: {{or .Target "N/A"}}
- Scan Date: {{.Date}}
- Methodology: OWASP Testing Guide / PTES

Executive Summary:
{{or .ExecutiveSummary "Comprehensive security assessment performed."}}

Findings Summary:
{{- range .Counts}}
- {{.Severity}}: {{.Count}}
{{- end}}

Detailed Findings:
{{- range $i, $f := .Findings}}

{{inc $i}}. {{$f.Text}}
   Severity: {{or $f.Severity "Unknown"}}
   Source: {{$f.Command}}
{{- end}}
{{- if not .Findings}}
None recorded.
{{- end}}

Technical Details:
{{or .TechnicalDetails "See individual command outputs for technical details."}}

Recommendations:
{{- range .Recommendations}}
- {{.}}
{{- end}}

Tools Used:
{{- range .ToolsUsed}}
- {{.}}
{{- end}}

Report Generated by: autopentest
`

// SeverityCount is the number of findings at one severity.
type SeverityCount struct {
	Severity string
	Count    int
}

type view struct {
	Input
	Date   string
	Counts []SeverityCount
}

// Builder renders reports.
type Builder struct {
	tmpl *template.Template
}

// New creates a builder with the built-in layout.
func New() *Builder {
	return &Builder{tmpl: template.Must(template.New("report").Funcs(template.FuncMap{
		"rule": func(n int) string { return strings.Repeat("=", n) },
		"inc":  func(i int) int { return i + 1 },
	}).Parse(reportText))}
}

// Build renders in as text.
func (b *Builder) Build(in Input) (string, error) {
	date := "N/A"
	if !in.Date.IsZero() {
		date = in.Date.Format("2006-01-02 15:04:05")
	}
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, view{Input: in, Date: date, Counts: CountSeverities(in.Findings)}); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// CountSeverities counts findings per known severity, case-insensitively.
func CountSeverities(findings []analysis.Finding) []SeverityCount {
	counts := make([]SeverityCount, len(Severities))
	for i, s := range Severities {
		counts[i].Severity = s
	}
	for _, f := range findings {
		for i, s := range Severities {
			if strings.EqualFold(f.Severity, s) {
				counts[i].Count++
				break
			}
		}
	}
	return counts
}

// WriteFile writes text to path, creating parent directories.
func WriteFile(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
