package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinayprograms/autopentest/internal/session"
)

// formatEvent formats a single event for display.
func (r *Replayer) formatEvent(seq int, event *session.Event, lastPhase *string) {
	// Show phase transitions
	if event.Phase != "" && event.Phase != *lastPhase {
		fmt.Fprintln(r.output)
		fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("PHASE:"), valueStyle.Render(event.Phase))
		fmt.Fprintln(r.output)
		*lastPhase = event.Phase
	}

	ts := timeStyle.Render(event.Timestamp.Format("15:04:05"))
	seqNum := seqStyle.Render(fmt.Sprintf("%d", seq))

	switch event.Type {
	case session.EventCommandExecution:
		r.fmtExecution(seqNum, ts, event)
	case session.EventCommandResult:
		r.fmtResult(seqNum, ts, event)
	case session.EventSecurityBlock:
		r.fmtSecurityBlock(seqNum, ts, event)
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seqNum, ts, dimStyle.Render(event.Type))
	}
}

func (r *Replayer) fmtExecution(seqNum, ts string, event *session.Event) {
	category := ""
	if event.Category != "" {
		category = dimStyle.Render(fmt.Sprintf(" [%s]", event.Category))
	}
	fmt.Fprintf(r.output, "%s │ %s │ %s %s%s\n", seqNum, ts,
		commandStyle.Render("→"), valueStyle.Render(event.Command), category)
	if r.verbosity > 0 {
		r.printDetails(event.Details)
	}
}

func (r *Replayer) fmtResult(seqNum, ts string, event *session.Event) {
	code := "?"
	if event.ReturnCode != nil {
		code = fmt.Sprintf("%d", *event.ReturnCode)
	}
	status := successStyle.Render("ok")
	if event.Success != nil && !*event.Success {
		status = errorStyle.Render("rc=" + code)
	}
	if timedOut, _ := event.Details["timed_out"].(bool); timedOut {
		status = warnStyle.Render("timed out")
	}
	task := ""
	if event.TaskID != "" {
		task = dimStyle.Render(" " + event.TaskID)
	}
	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s%s\n", seqNum, ts,
		commandStyle.Render("←"), status, dimStyle.Render(formatDuration(event.DurationMs)), task)
	if event.Error != "" {
		r.printError(r.truncate(event.Error))
	}
	if r.verbosity > 0 {
		r.printDetails(event.Details)
	}
}

func (r *Replayer) fmtSecurityBlock(seqNum, ts string, event *session.Event) {
	risk, _ := event.Details["risk_level"].(string)
	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s\n", seqNum, ts,
		securityStyle.Render("BLOCKED"), valueStyle.Render(event.Command), dimStyle.Render("("+risk+")"))
	for _, w := range warnings(event.Details["warnings"]) {
		fmt.Fprintf(r.output, "      │          │   %s %s\n", warnStyle.Render("!"), w)
	}
}

// warnings accepts both the in-memory and the decoded form.
func warnings(v interface{}) []string {
	switch ws := v.(type) {
	case []string:
		return ws
	case []interface{}:
		out := make([]string, len(ws))
		for i, w := range ws {
			out[i] = fmt.Sprint(w)
		}
		return out
	}
	return nil
}

func (r *Replayer) printError(err string) {
	for _, line := range strings.Split(strings.TrimRight(err, "\n"), "\n") {
		fmt.Fprintf(r.output, "      │          │   %s\n", errorStyle.Render(line))
	}
}

func (r *Replayer) printDetails(details map[string]interface{}) {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.output, "      │          │   %s %v\n", labelStyle.Render(k+":"), details[k])
	}
}
