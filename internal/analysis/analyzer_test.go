package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/autopentest/internal/task"
)

func completed(id, command, output string, rc int) task.Task {
	t := task.Task{ID: id, Command: command, Output: output, Status: task.StatusCompleted, ExecutionTime: time.Second}
	t.SetReturnCode(rc)
	return t
}

func TestAnalyze_ToolFamilies(t *testing.T) {
	tasks := []task.Task{
		completed("1", "nmap -sV 10.0.0.1", "22/tcp open ssh\n25/tcp filtered smtp", 0),
		completed("2", "curl -I http://example.com", "HTTP/1.1 200 OK\nServer: nginx\nX-Powered-By: PHP", 0),
		completed("3", "nikto -h example.com", "+ OSVDB-3092: possible vulnerability", 0),
		completed("4", "gobuster dir -u http://x -w list", "/admin (Status: 200)", 0),
		completed("5", "dig example.com ANY", "example.com. 300 IN MX 10 mail.example.com.", 0),
	}
	rep := New().Analyze(tasks)

	want := []string{
		"Open ports detected",
		"Filtered ports found",
		"Web server information disclosed",
		"Technology stack revealed",
		"Web vulnerabilities detected",
		"Hidden directories/files discovered",
		"DNS records enumerated",
	}
	if len(rep.Findings) != len(want) {
		t.Fatalf("expected %d findings, got %d: %v", len(want), len(rep.Findings), rep.FindingStrings())
	}
	for i, w := range want {
		if rep.Findings[i].Text != w {
			t.Errorf("finding %d: expected %q, got %q", i, w, rep.Findings[i].Text)
		}
	}
	if rep.Findings[0].Command != "nmap -sV 10.0.0.1" || rep.Findings[0].TaskID != "1" {
		t.Errorf("finding provenance missing: %+v", rep.Findings[0])
	}
	if !strings.HasPrefix(rep.FindingStrings()[0], "Open ports detected: nmap") {
		t.Errorf("unexpected display string: %s", rep.FindingStrings()[0])
	}

	wantRecs := []string{
		"Review open ports and disable unnecessary services",
		"Configure web server to hide version information",
		"Prioritize patching identified web vulnerabilities",
	}
	for _, rec := range wantRecs {
		found := false
		for _, r := range rep.Recommendations {
			if r == rec {
				found = true
			}
		}
		if !found {
			t.Errorf("missing recommendation %q in %v", rec, rep.Recommendations)
		}
	}
}

func TestAnalyze_OneFindingPerSignature(t *testing.T) {
	rep := New().Analyze([]task.Task{
		completed("1", "nikto -h x", "vulnerability vuln vulnerability", 0),
	})
	if len(rep.Findings) != 1 {
		t.Errorf("expected one finding, got %v", rep.FindingStrings())
	}
}

func TestAnalyze_RecommendationsDeduplicated(t *testing.T) {
	rep := New().Analyze([]task.Task{
		completed("1", "nmap a", "80/tcp open", 0),
		completed("2", "nmap b", "443/tcp open", 0),
	})
	if len(rep.Findings) != 2 {
		t.Errorf("expected 2 findings, got %d", len(rep.Findings))
	}
	if len(rep.Recommendations) != 1 {
		t.Errorf("expected 1 recommendation, got %v", rep.Recommendations)
	}
}

func TestAnalyze_SkipsNonCompletedAndEmpty(t *testing.T) {
	failed := completed("1", "nmap a", "80/tcp open", 1)
	failed.Status = task.StatusFailed
	timedOut := task.Task{ID: "2", Command: "nmap b", Output: "open", Status: task.StatusTimedOut}
	empty := completed("3", "nmap c", "", 0)
	unknownTool := completed("4", "echo open", "open", 0)

	rep := New().Analyze([]task.Task{failed, timedOut, empty, unknownTool})
	if len(rep.Findings) != 0 {
		t.Errorf("expected no findings, got %v", rep.FindingStrings())
	}
	if rep.SuccessfulTasks != 2 || rep.FailedTasks != 1 || rep.TimedOutTasks != 1 {
		t.Errorf("unexpected counts: %+v", rep)
	}
}

func TestAnalyze_ToolMatchedByWordNotSubstring(t *testing.T) {
	rep := New().Analyze([]task.Task{
		completed("1", "echo digest", "mx ns txt", 0),
		completed("2", "sudo /usr/bin/dig example.com", "IN NS ns1.example.com.", 0),
	})
	if len(rep.Findings) != 1 || rep.Findings[0].TaskID != "2" {
		t.Errorf("expected only the dig task to match, got %v", rep.Findings)
	}
}

func TestAnalyze_EmptyInput(t *testing.T) {
	rep := New().Analyze(nil)
	if rep.TotalTasks != 0 || rep.Findings == nil || rep.Recommendations == nil {
		t.Errorf("expected empty, non-nil report, got %+v", rep)
	}
	if !strings.Contains(rep.Summary, "0 tasks with 0.0% success rate") {
		t.Errorf("unexpected summary: %s", rep.Summary)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
families:
  - name: sql
    tools: [SQLMap]
    signatures:
      - category: sqli
        severity: Critical
        finding: SQL injection indicators found
        any: ["IS VULNERABLE"]
recommendations:
  sqli: Use parameterized queries
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	a, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	rep := a.Analyze([]task.Task{completed("1", "sqlmap -u http://x?id=1", "parameter 'id' is vulnerable", 0)})
	if len(rep.Findings) != 1 || rep.Findings[0].Severity != "Critical" {
		t.Fatalf("expected one critical finding, got %+v", rep.Findings)
	}
	if len(rep.Recommendations) != 1 || rep.Recommendations[0] != "Use parameterized queries" {
		t.Errorf("unexpected recommendations: %v", rep.Recommendations)
	}
}

func TestParseRules_Invalid(t *testing.T) {
	if _, err := ParseRules([]byte("families:\n  - tools: [x]\n")); err == nil {
		t.Error("expected error for family without name")
	}
	if _, err := ParseRules([]byte("families: [")); err == nil {
		t.Error("expected YAML error")
	}
}

func TestAnalyze_FindingRecordsMatchedTool(t *testing.T) {
	rep := New().Analyze([]task.Task{
		completed("1", "timeout 60 nmap -p 22 10.0.0.1", "22/tcp open ssh", 0),
		completed("2", "sudo /usr/bin/dig example.com", "IN NS ns1.example.com.", 0),
	})
	if len(rep.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %v", rep.FindingStrings())
	}
	if rep.Findings[0].Tool != "nmap" || rep.Findings[1].Tool != "dig" {
		t.Errorf("expected tools nmap and dig, got %q and %q", rep.Findings[0].Tool, rep.Findings[1].Tool)
	}
}
