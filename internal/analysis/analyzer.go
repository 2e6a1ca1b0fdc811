// Package analysis scans captured tool output for known signatures.
//
// This is a heuristic layer, not a vulnerability scanner. False positives
// and negatives are expected.
package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/autopentest/internal/task"
)

//go:embed rules.yaml
var defaultRules []byte

// Rules is the signature table.
type Rules struct {
	Families        []Family          `yaml:"families"`
	Recommendations map[string]string `yaml:"recommendations"`
}

// Family groups the signatures of one kind of tool.
type Family struct {
	Name       string      `yaml:"name"`
	Tools      []string    `yaml:"tools"`
	Signatures []Signature `yaml:"signatures"`
}

// Signature maps output substrings to a finding.
type Signature struct {
	Category string   `yaml:"category"`
	Severity string   `yaml:"severity"`
	Finding  string   `yaml:"finding"`
	Any      []string `yaml:"any"`
}

// Finding is one heuristic match with its provenance.
type Finding struct {
	Text     string `json:"finding"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Tool     string `json:"tool"` // rules tool that selected the family
	Command  string `json:"command"`
	TaskID   string `json:"task_id,omitempty"`
}

// String renders the finding the way it is shown to operators.
func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Text, f.Command)
}

// Report is the result of analyzing a set of tasks.
type Report struct {
	TotalTasks         int           `json:"total_tasks"`
	SuccessfulTasks    int           `json:"successful_tasks"`
	FailedTasks        int           `json:"failed_tasks"`
	TimedOutTasks      int           `json:"timeout_tasks"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	Findings           []Finding     `json:"findings"`
	Recommendations    []string      `json:"recommendations"`
	Summary            string        `json:"summary"`
}

// FindingStrings returns the findings as display strings.
func (r Report) FindingStrings() []string {
	out := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		out[i] = f.String()
	}
	return out
}

// Analyzer applies Rules to task output. It holds no mutable state.
type Analyzer struct {
	rules Rules
}

// New creates an analyzer with the built-in rules.
func New() *Analyzer {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		// The embedded table is part of the binary.
		panic(fmt.Sprintf("analysis: invalid built-in rules: %v", err))
	}
	return &Analyzer{rules: *rules}
}

// NewWithRules creates an analyzer over custom rules.
func NewWithRules(rules Rules) *Analyzer {
	return &Analyzer{rules: rules}
}

// LoadFile creates an analyzer from a YAML rules file.
func LoadFile(path string) (*Analyzer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return NewWithRules(*rules), nil
}

// ParseRules decodes and normalizes a YAML rules document.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for i := range rules.Families {
		fam := &rules.Families[i]
		if fam.Name == "" || len(fam.Tools) == 0 {
			return nil, fmt.Errorf("rules family %d: name and tools are required", i)
		}
		for j := range fam.Tools {
			fam.Tools[j] = strings.ToLower(fam.Tools[j])
		}
		for j := range fam.Signatures {
			sig := &fam.Signatures[j]
			for k := range sig.Any {
				sig.Any[k] = strings.ToLower(sig.Any[k])
			}
		}
	}
	return &rules, nil
}

// Analyze scans every completed task with output and derives findings,
// recommendations and a summary. It never fails.
func (a *Analyzer) Analyze(tasks []task.Task) Report {
	rep := Report{
		TotalTasks:      len(tasks),
		Findings:        []Finding{},
		Recommendations: []string{},
	}

	for _, t := range tasks {
		rep.TotalExecutionTime += t.ExecutionTime
		switch {
		case t.Succeeded():
			rep.SuccessfulTasks++
		case t.Status == task.StatusTimedOut:
			rep.TimedOutTasks++
		default:
			rep.FailedTasks++
		}

		if t.Status != task.StatusCompleted || t.Output == "" {
			continue
		}
		rep.Findings = append(rep.Findings, a.scan(t)...)
	}

	seen := make(map[string]bool)
	for _, f := range rep.Findings {
		rec, ok := a.rules.Recommendations[f.Category]
		if !ok || seen[f.Category] {
			continue
		}
		seen[f.Category] = true
		rep.Recommendations = append(rep.Recommendations, rec)
	}

	rate := 0.0
	if rep.TotalTasks > 0 {
		rate = float64(rep.SuccessfulTasks) / float64(rep.TotalTasks) * 100
	}
	rep.Summary = fmt.Sprintf("Executed %d tasks with %.1f%% success rate. Found %d potential findings.",
		rep.TotalTasks, rate, len(rep.Findings))
	return rep
}

// scan matches a single task against the first family whose tool appears in
// the command.
func (a *Analyzer) scan(t task.Task) []Finding {
	fam, tool := a.family(t.Command)
	if fam == nil {
		return nil
	}
	output := strings.ToLower(t.Output)
	var out []Finding
	for _, sig := range fam.Signatures {
		for _, needle := range sig.Any {
			if strings.Contains(output, needle) {
				out = append(out, Finding{
					Text:     sig.Finding,
					Category: sig.Category,
					Severity: sig.Severity,
					Tool:     tool,
					Command:  t.Command,
					TaskID:   t.ID,
				})
				break
			}
		}
	}
	return out
}

// family returns the first family with a tool among the command's words,
// and that tool.
func (a *Analyzer) family(command string) (*Family, string) {
	words := commandWords(command)
	for i := range a.rules.Families {
		fam := &a.rules.Families[i]
		for _, tool := range fam.Tools {
			if words[tool] {
				return fam, tool
			}
		}
	}
	return nil, ""
}

// commandWords returns the base names of every word in a shell command.
func commandWords(command string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(command), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '|', ';', '&', '(', ')', '`', '"', '\'':
			return true
		}
		return false
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[filepath.Base(f)] = true
	}
	return words
}
