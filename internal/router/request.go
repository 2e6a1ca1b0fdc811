package router

import (
	"strings"

	"github.com/vinayprograms/autopentest/internal/task"
)

// Kind is the execution mode of a request.
type Kind int

const (
	KindEmpty Kind = iota
	KindExit
	KindCustomFunction
	KindInstallTool
	KindReport
	KindParallel
	KindCollect
	KindShell
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindExit:
		return "exit"
	case KindCustomFunction:
		return "custom_function"
	case KindInstallTool:
		return "install_tool"
	case KindReport:
		return "report"
	case KindParallel:
		return "parallel"
	case KindCollect:
		return "collect"
	default:
		return "shell"
	}
}

// Command string prefixes.
const (
	PrefixCustomFunction = "custom_function:"
	PrefixInstallTool    = "install_tool:"
	PrefixParallel       = "parallel_execute:"
	PrefixCollect        = "collect_results:"
	LiteralReport        = "report_generation"
	LiteralExit          = "exit"
)

// Request is a classified command.
type Request struct {
	Kind     Kind
	Raw      string
	Name     string   // function or tool name
	Params   []string // positional function parameters; empties keep their position
	Commands []string // parallel segments
	TaskIDs  []string // ids to collect

	Meta           task.Meta
	PreferTerminal bool
}

// Parse classifies command. The first matching form wins:
//
//	""                          empty
//	exit                        exit (case-insensitive)
//	custom_function:<name>:<p1>,<p2>
//	install_tool:<name>
//	report_generation
//	parallel_execute:<c1>;<c2>
//	collect_results:<id1>,<id2>
//	anything else               shell
func Parse(command string) Request {
	req := Request{Raw: command}
	trimmed := strings.TrimSpace(command)

	switch {
	case trimmed == "":
		req.Kind = KindEmpty
	case strings.EqualFold(trimmed, LiteralExit):
		req.Kind = KindExit
	case strings.HasPrefix(command, PrefixCustomFunction):
		req.Kind = KindCustomFunction
		name, params, found := strings.Cut(strings.TrimPrefix(command, PrefixCustomFunction), ":")
		req.Name = strings.TrimSpace(name)
		if found && strings.TrimSpace(params) != "" {
			for _, p := range strings.Split(params, ",") {
				req.Params = append(req.Params, strings.TrimSpace(p))
			}
		}
	case strings.HasPrefix(command, PrefixInstallTool):
		req.Kind = KindInstallTool
		req.Name = strings.TrimSpace(strings.TrimPrefix(command, PrefixInstallTool))
	case trimmed == LiteralReport:
		req.Kind = KindReport
	case strings.HasPrefix(command, PrefixParallel):
		req.Kind = KindParallel
		req.Commands = splitSegments(strings.TrimPrefix(command, PrefixParallel), ";")
	case strings.HasPrefix(command, PrefixCollect):
		req.Kind = KindCollect
		req.TaskIDs = splitSegments(strings.TrimPrefix(command, PrefixCollect), ",")
	default:
		req.Kind = KindShell
	}
	return req
}

// splitSegments splits s on sep, trims each segment and drops empty ones.
func splitSegments(s, sep string) []string {
	var out []string
	for _, seg := range strings.Split(s, sep) {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
