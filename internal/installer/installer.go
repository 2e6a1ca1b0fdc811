// Package installer installs known pentesting tools on demand.
package installer

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/vinayprograms/agentkit/logging"
)

// Method is how a tool gets installed.
type Method string

const (
	MethodAPT Method = "apt"
	MethodGo  Method = "go"
)

// Tool is a catalog entry.
type Tool struct {
	Name    string // executable looked up on PATH
	Method  Method
	Package string // apt package or go module path@version
}

// Catalog lists the tools the installer knows about.
var Catalog = []Tool{
	{Name: "nmap", Method: MethodAPT, Package: "nmap"},
	{Name: "masscan", Method: MethodAPT, Package: "masscan"},
	{Name: "nikto", Method: MethodAPT, Package: "nikto"},
	{Name: "dirb", Method: MethodAPT, Package: "dirb"},
	{Name: "sqlmap", Method: MethodAPT, Package: "sqlmap"},
	{Name: "whatweb", Method: MethodAPT, Package: "whatweb"},
	{Name: "hydra", Method: MethodAPT, Package: "hydra"},
	{Name: "whois", Method: MethodAPT, Package: "whois"},
	{Name: "dig", Method: MethodAPT, Package: "dnsutils"},
	{Name: "curl", Method: MethodAPT, Package: "curl"},
	{Name: "gobuster", Method: MethodGo, Package: "github.com/OJ/gobuster/v3@latest"},
	{Name: "ffuf", Method: MethodGo, Package: "github.com/ffuf/ffuf/v2@latest"},
	{Name: "nuclei", Method: MethodGo, Package: "github.com/projectdiscovery/nuclei/v3/cmd/nuclei@latest"},
	{Name: "subfinder", Method: MethodGo, Package: "github.com/projectdiscovery/subfinder/v2/cmd/subfinder@latest"},
	{Name: "httpx", Method: MethodGo, Package: "github.com/projectdiscovery/httpx/cmd/httpx@latest"},
}

// Runner executes an installation command line and returns its output.
type Runner interface {
	Run(ctx context.Context, command string) (output string, code int, timedOut bool)
}

// Installer resolves tool names against the catalog and installs them.
type Installer struct {
	tools    map[string]Tool
	runner   Runner
	lookPath func(string) (string, error)
	logger   *logging.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithLookPath overrides the PATH lookup.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(i *Installer) { i.lookPath = fn }
}

// WithCatalog replaces the catalog.
func WithCatalog(tools []Tool) Option {
	return func(i *Installer) {
		i.tools = index(tools)
	}
}

// New creates an installer that runs install commands through runner.
func New(runner Runner, opts ...Option) *Installer {
	i := &Installer{
		tools:    index(Catalog),
		runner:   runner,
		lookPath: exec.LookPath,
		logger:   logging.New().WithComponent("installer"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func index(tools []Tool) map[string]Tool {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

// Known returns the catalog names in sorted order.
func (i *Installer) Known() []string {
	names := make([]string, 0, len(i.tools))
	for name := range i.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install installs name unless it is already on PATH.
func (i *Installer) Install(ctx context.Context, name string) (bool, string) {
	name = strings.TrimSpace(name)
	tool, ok := i.tools[name]
	if !ok {
		return false, fmt.Sprintf("Unknown tool '%s'. Known tools: %s", name, strings.Join(i.Known(), ", "))
	}
	if path, err := i.lookPath(tool.Name); err == nil {
		return true, fmt.Sprintf("%s is already installed at %s", tool.Name, path)
	}

	command := installCommand(tool)
	i.logger.Info("installing tool", map[string]interface{}{"tool": tool.Name, "command": command})
	out, code, timedOut := i.runner.Run(ctx, command)
	if timedOut {
		return false, fmt.Sprintf("Installation of %s timed out\n%s", tool.Name, out)
	}
	if code != 0 {
		i.logger.Warn("tool installation failed", map[string]interface{}{"tool": tool.Name, "code": code})
		return false, fmt.Sprintf("Failed to install %s (exit %d)\n%s", tool.Name, code, out)
	}
	return true, fmt.Sprintf("Installed %s\n%s", tool.Name, out)
}

func installCommand(t Tool) string {
	switch t.Method {
	case MethodGo:
		return "go install " + t.Package
	default:
		return "sudo apt-get install " + t.Package
	}
}
