package terminal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/vinayprograms/autopentest/internal/shell"
)

// SentinelMarker is the line the wrapper script writes after the command
// finishes. The next line carries the exit code.
const SentinelMarker = "### AUTOPENTEST TASK COMPLETE ###"

const exitCodePrefix = "Exit Code:"

var scriptTmpl = template.Must(template.New("script").Funcs(template.FuncMap{
	"quote": shell.Quote,
}).Parse(`#!/bin/sh
echo "=== autopentest task {{.ID}} ==="
echo "Command: "{{quote .Command}}
{{- if .Dir}}
cd {{quote .Dir}} || exit 1
{{- end}}
start=$(date +%s)
(
{{.Command}}
) >> {{quote .Sink}} 2>&1
rc=$?
end=$(date +%s)
{
echo ""
echo "{{.Marker}}"
echo "Exit Code: $rc"
echo "Execution Time: $((end - start))s"
echo "Completed: $(date)"
} >> {{quote .Sink}}
{{- if .Interactive}}
echo ""
echo "Task finished with exit code $rc. Press Enter to close..."
read _
{{- end}}
`))

type scriptData struct {
	ID          string
	Command     string
	Dir         string
	Sink        string
	Marker      string
	Interactive bool
}

// writeScript renders the wrapper for one task into dir and returns its path.
func writeScript(dir, id, command, workDir, sink string, interactive bool) (string, error) {
	var buf bytes.Buffer
	err := scriptTmpl.Execute(&buf, scriptData{
		ID:          id,
		Command:     command,
		Dir:         workDir,
		Sink:        sink,
		Marker:      SentinelMarker,
		Interactive: interactive,
	})
	if err != nil {
		return "", fmt.Errorf("render script: %w", err)
	}
	path := filepath.Join(dir, id+"_script.sh")
	if err := os.WriteFile(path, buf.Bytes(), 0755); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}

// ParseSentinel looks for the completion trailer in sink content. It returns
// the command output with the trailer removed and the recorded exit code.
// Content written only partially (marker without a complete exit code line)
// reports ok=false, the same as no trailer at all.
func ParseSentinel(content string) (output string, code int, ok bool) {
	idx := strings.LastIndex(content, "\n"+SentinelMarker+"\n")
	if idx < 0 {
		return "", 0, false
	}
	rest := content[idx+len(SentinelMarker)+2:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", 0, false
	}
	line := strings.TrimSpace(rest[:nl])
	if !strings.HasPrefix(line, exitCodePrefix) {
		return "", 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, exitCodePrefix)))
	if err != nil {
		return "", 0, false
	}
	return content[:idx], code, true
}
