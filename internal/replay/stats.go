package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/autopentest/internal/session"
)

// Stats holds aggregate statistics for a session.
type Stats struct {
	// Wall time from first to last event
	TotalDurationMs int64

	Commands  int // command_execution events
	Succeeded int
	Failed    int
	TimedOut  int
	Blocked   int // security_block events

	// Summed dispatch time
	CommandTotalMs int64
	CommandAvgMs   int64

	// Dispatches per phase
	Phases map[string]int
}

// ComputeStats calculates aggregate statistics from session events.
func ComputeStats(sess *session.Session) *Stats {
	stats := &Stats{Phases: make(map[string]int)}

	var first, last time.Time
	results := 0
	for _, event := range sess.Events {
		if first.IsZero() || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}

		switch event.Type {
		case session.EventCommandExecution:
			stats.Commands++
			if event.Phase != "" {
				stats.Phases[event.Phase]++
			}
		case session.EventCommandResult:
			results++
			stats.CommandTotalMs += event.DurationMs
			timedOut, _ := event.Details["timed_out"].(bool)
			switch {
			case timedOut:
				stats.TimedOut++
			case event.Success != nil && *event.Success:
				stats.Succeeded++
			default:
				stats.Failed++
			}
		case session.EventSecurityBlock:
			stats.Blocked++
		}
	}

	if !first.IsZero() {
		stats.TotalDurationMs = last.Sub(first).Milliseconds()
	}
	if results > 0 {
		stats.CommandAvgMs = stats.CommandTotalMs / int64(results)
	}
	return stats
}

// PrintStats outputs the statistics to the writer.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("SESSION STATISTICS"))
	fmt.Fprintln(w, divider)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Total Duration:"), valueStyle.Render(formatDuration(stats.TotalDurationMs)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Commands:      "), valueStyle.Render(fmt.Sprintf("%d", stats.Commands)))
	fmt.Fprintf(w, "  %s %s  %s %s  %s %s  %s %s\n",
		successStyle.Render("succeeded"), valueStyle.Render(fmt.Sprintf("%d", stats.Succeeded)),
		errorStyle.Render("failed"), valueStyle.Render(fmt.Sprintf("%d", stats.Failed)),
		warnStyle.Render("timed out"), valueStyle.Render(fmt.Sprintf("%d", stats.TimedOut)),
		securityStyle.Render("blocked"), valueStyle.Render(fmt.Sprintf("%d", stats.Blocked)))
	if stats.CommandTotalMs > 0 {
		fmt.Fprintf(w, "%s %s %s\n",
			labelStyle.Render("Dispatch Time: "),
			valueStyle.Render(formatDuration(stats.CommandTotalMs)),
			labelStyle.Render(fmt.Sprintf("(avg %s)", formatDuration(stats.CommandAvgMs))))
	}

	if len(stats.Phases) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Phases:"))
		var phases []string
		for p := range stats.Phases {
			phases = append(phases, p)
		}
		sort.Strings(phases)
		for _, p := range phases {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(p+":"), valueStyle.Render(fmt.Sprintf("%d", stats.Phases[p])))
		}
	}
}

// formatDuration formats milliseconds as human-readable duration.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm%ds", ms/60000, (ms%60000)/1000)
}
