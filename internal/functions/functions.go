// Package functions provides the table of built-in analysis routines that
// can be invoked by name with positional string parameters.
package functions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Errors returned by Call.
var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrInvalidParams   = errors.New("invalid parameters")
)

// Kind is the type a positional parameter is coerced to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindPorts // dash-separated integers, e.g. 22-80-443
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindPorts:
		return "ports"
	default:
		return "string"
	}
}

// Param declares one positional parameter. A parameter with an empty
// Default is required.
type Param struct {
	Name    string
	Kind    Kind
	Default string
}

// Args holds coerced parameter values by name.
type Args map[string]interface{}

// String returns a string parameter.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an int parameter.
func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

// Ports returns a ports parameter.
func (a Args) Ports(name string) []int {
	p, _ := a[name].([]int)
	return p
}

// Function is a named routine with a positional signature. Call returns a
// value that is serialized to JSON for the caller.
type Function struct {
	Name        string
	Description string
	Params      []Param
	Call        func(ctx context.Context, args Args) (interface{}, error)
}

// Table maps names to functions.
type Table struct {
	funcs map[string]Function
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{funcs: make(map[string]Function)}
}

// Register adds fn, replacing any function with the same name.
func (t *Table) Register(fn Function) {
	t.funcs[fn.Name] = fn
}

// Names returns the registered names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the function registered under name.
func (t *Table) Lookup(name string) (Function, bool) {
	fn, ok := t.funcs[name]
	return fn, ok
}

// Call coerces raw positional values to fn's signature and invokes it.
// Unknown names return an error wrapping ErrUnknownFunction that lists the
// available names.
func (t *Table) Call(ctx context.Context, name string, raw []string) (interface{}, error) {
	fn, ok := t.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'. Available: %s", ErrUnknownFunction, name, strings.Join(t.Names(), ", "))
	}
	args, err := Coerce(fn.Params, raw)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
	}
	return fn.Call(ctx, args)
}

// Coerce maps raw positional values onto params. Missing trailing values
// take their defaults; extra values are ignored.
func Coerce(params []Param, raw []string) (Args, error) {
	args := make(Args, len(params))
	for i, p := range params {
		value := ""
		if i < len(raw) {
			value = strings.TrimSpace(raw[i])
		}
		if value == "" {
			value = p.Default
		}
		if value == "" {
			return nil, fmt.Errorf("missing required parameter %q", p.Name)
		}
		v, err := convert(p.Kind, value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		args[p.Name] = v
	}
	return args, nil
}

func convert(kind Kind, value string) (interface{}, error) {
	switch kind {
	case KindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return n, nil
	case KindPorts:
		return parsePorts(value)
	default:
		return value, nil
	}
}

func parsePorts(value string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(value, "-") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, n)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", value)
	}
	return ports, nil
}
