// Package task defines tracked command invocations and the registry that owns them.
package task

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Reserved return codes. Real processes exit in 0-255, so these never collide.
const (
	CodeRejected    = -1   // blocked by the security gate
	CodeInvalid     = -2   // malformed request, nothing executed
	CodeTimeout     = -100 // deadline elapsed
	CodeNotFound    = -101 // interpreter or executable missing
	CodeExecError   = -102 // generic execution or collaborator error
	CodeSpawnFailed = -103 // process or terminal could not be started
)

// Sentinel errors returned by the registry.
var (
	ErrNotFound          = errors.New("task not found")
	ErrDuplicate         = errors.New("task id already registered")
	ErrTerminal          = errors.New("task already terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Meta is caller-supplied metadata carried through untouched.
type Meta struct {
	Phase           string `json:"phase"`
	Category        string `json:"tool_category"`
	ExpectedOutcome string `json:"expected_outcome"`
}

// Task is a single external command invocation.
type Task struct {
	ID            string        `json:"task_id"`
	Command       string        `json:"command"`
	Meta                        // pass-through metadata
	Status        Status        `json:"status"`
	StartTime     time.Time     `json:"start_time"`
	ExecutionTime time.Duration `json:"execution_time"`
	ReturnCode    *int          `json:"return_code,omitempty"`
	Output        string        `json:"output"`
	Error         string        `json:"error,omitempty"`
	OutputFile    string        `json:"output_file,omitempty"`
}

// Code returns the return code, or def when none has been recorded.
func (t Task) Code(def int) int {
	if t.ReturnCode == nil {
		return def
	}
	return *t.ReturnCode
}

// Succeeded reports whether the task completed with exit status 0.
func (t Task) Succeeded() bool {
	return t.Status == StatusCompleted && t.Code(-1) == 0
}

// SetReturnCode records rc.
func (t *Task) SetReturnCode(rc int) {
	t.ReturnCode = &rc
}

// clone returns a deep copy so callers never share the registry's record.
func (t *Task) clone() Task {
	c := *t
	if t.ReturnCode != nil {
		rc := *t.ReturnCode
		c.ReturnCode = &rc
	}
	return c
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		// Spawn failures go straight to failed.
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}
