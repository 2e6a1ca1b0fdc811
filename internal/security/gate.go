// Package security provides the pre-flight command risk classifier.
//
// The gate is a best-effort pattern filter. It is not a sandbox and never
// inspects execution results.
package security

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel orders how dangerous a command looks.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the upper-case level name.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// MarshalJSON encodes the level by name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Verdict is the outcome of validating one command.
type Verdict struct {
	Allowed  bool      `json:"allowed"`
	Risk     RiskLevel `json:"risk_level"`
	Warnings []string  `json:"warnings"`
}

type pattern struct {
	class string
	re    *regexp.Regexp
}

func p(class, expr string) pattern {
	return pattern{class: class, re: regexp.MustCompile(`(?i)` + expr)}
}

// Blocking patterns, checked in order. First match wins.
var blockingPatterns = []pattern{
	p("destructive filesystem operation", `\brm\s+.*-[a-z]*(rf|fr)[a-z]*\s+/`),
	p("destructive filesystem operation", `\brm\s+.*--no-preserve-root`),
	p("raw device write", `\bdd\s+.*of=/dev/`),
	p("raw device write", `[:>]\s*/dev/(sd[a-z]|hd[a-z]|nvme\d|xvd[a-z]|mmcblk\d)`),
	p("fork bomb", `:\(\)\s*\{.*\|.*&\s*\}\s*;`),
	p("fork bomb", `\bfork\s*\(\s*\)\s*while\s*true`),
	p("filesystem formatting", `\bmkfs(\.[a-z0-9]+)?\b`),
	p("disk partitioning", `\b(fdisk|sfdisk|parted|gdisk)\b`),
	p("filesystem wiping", `\b(wipefs|shred)\b`),
}

// Warning patterns. Each match adds a warning and raises the level to HIGH.
var warningPatterns = []pattern{
	p("sensitive system path", `/etc/(passwd|shadow|sudoers)`),
	p("sensitive system path", `/boot/`),
	p("sensitive system path", `/proc/sys/`),
	p("sensitive system path", `(^|[\s>'"])/sys/`),
	p("reverse shell", `\bnc\s+.*-l.*-e`),
	p("reverse shell", `\bbash\s+.*\|\s*nc\b`),
	p("reverse shell", `/dev/tcp/`),
	p("reverse shell", `python.*socket.*exec`),
}

var (
	substitutionRe = regexp.MustCompile("\\$\\([^)]*\\)|`[^`]*`")
	sudoRe         = regexp.MustCompile(`(?i)\bsudo\b`)
	sudoNonInterRe = regexp.MustCompile(`(?i:\bsudo)\s+(-[a-zA-Z]+\s+)*-[a-zA-Z]*[Sn]\b`) // flags stay case-sensitive: -s is a shell
)

// Default heuristic thresholds.
const (
	DefaultMaxLength = 500
	DefaultMaxPipes  = 5
)

// Gate scores commands before they run. A Gate is safe for concurrent use.
type Gate struct {
	maxLength int
	maxPipes  int
}

// Option configures a Gate.
type Option func(*Gate)

// WithMaxLength sets the length above which a command is MEDIUM risk.
func WithMaxLength(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.maxLength = n
		}
	}
}

// WithMaxPipes sets the pipe-stage count above which a command is MEDIUM risk.
func WithMaxPipes(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.maxPipes = n
		}
	}
}

// NewGate creates a gate with default thresholds.
func NewGate(opts ...Option) *Gate {
	g := &Gate{maxLength: DefaultMaxLength, maxPipes: DefaultMaxPipes}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate classifies command. It is deterministic and has no side effects.
func (g *Gate) Validate(command string) Verdict {
	v := Verdict{Allowed: true, Risk: RiskLow, Warnings: []string{}}
	if strings.TrimSpace(command) == "" {
		return v
	}

	for _, pat := range blockingPatterns {
		if pat.re.MatchString(command) {
			return Verdict{
				Allowed:  false,
				Risk:     RiskCritical,
				Warnings: []string{fmt.Sprintf("Blocked: %s (pattern %s)", pat.class, pat.re.String())},
			}
		}
	}

	for _, pat := range warningPatterns {
		if pat.re.MatchString(command) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("WARNING: %s (pattern %s)", pat.class, pat.re.String()))
			v.raise(RiskHigh)
		}
	}

	if len(command) > g.maxLength {
		v.Warnings = append(v.Warnings, fmt.Sprintf("WARNING: command is unusually long (%d chars)", len(command)))
		v.raise(RiskMedium)
	}
	if pipes := strings.Count(command, "|") - 2*strings.Count(command, "||"); pipes > g.maxPipes {
		v.Warnings = append(v.Warnings, fmt.Sprintf("WARNING: command has many pipes (%d)", pipes))
		v.raise(RiskMedium)
	}
	if substitutionRe.MatchString(command) {
		v.Warnings = append(v.Warnings, "WARNING: command contains command substitution")
		v.raise(RiskMedium)
	}
	if sudoRe.MatchString(command) && !sudoNonInterRe.MatchString(command) {
		v.Warnings = append(v.Warnings, "INFO: command uses sudo without a non-interactive flag (-S or -n)")
	}
	return v
}

func (v *Verdict) raise(level RiskLevel) {
	if level > v.Risk {
		v.Risk = level
	}
}
