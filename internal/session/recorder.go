package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// ErrClosed is returned by LogEvent after Close.
var ErrClosed = errors.New("session closed")

// Recorder appends dispatch events to one session and persists after each.
type Recorder struct {
	mgr    *Manager
	sess   *Session
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a session named name in store.
func NewRecorder(store Store, name, target string) (*Recorder, error) {
	mgr := NewManager(store)
	sess, err := mgr.Create(name, target)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Recorder{mgr: mgr, sess: sess, logger: logging.New().WithComponent("session")}, nil
}

// Session returns the session being recorded.
func (r *Recorder) Session() *Session {
	return r.sess
}

// LogEvent records one event. Well known keys in details (task_id, phase,
// tool_category, return_code, error, duration) populate the event fields;
// the rest is kept in Details.
func (r *Recorder) LogEvent(kind, command string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	r.sess.AddEvent(buildEvent(kind, command, details))
	if err := r.mgr.Update(r.sess); err != nil {
		r.logger.Warn("failed to persist session event", map[string]interface{}{"type": kind, "error": err.Error()})
		return err
	}
	return nil
}

// Close marks the session finished and persists it. Later calls are no-ops.
func (r *Recorder) Close(failure error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.sess.mu.Lock()
	r.sess.Status = StatusComplete
	if failure != nil {
		r.sess.Status = StatusFailed
		r.sess.Error = failure.Error()
	}
	r.sess.mu.Unlock()
	return r.mgr.Update(r.sess)
}

func buildEvent(kind, command string, details map[string]interface{}) Event {
	ev := Event{Type: kind, Command: command}
	rest := make(map[string]interface{}, len(details))
	for k, v := range details {
		switch k {
		case "task_id":
			ev.TaskID = fmt.Sprint(v)
		case "phase":
			ev.Phase = fmt.Sprint(v)
		case "tool_category":
			ev.Category = fmt.Sprint(v)
		case "error":
			ev.Error = fmt.Sprint(v)
		case "return_code":
			if rc, ok := v.(int); ok {
				success := rc == 0
				ev.ReturnCode = &rc
				ev.Success = &success
				continue
			}
			rest[k] = v
		case "duration":
			if d, ok := v.(time.Duration); ok {
				ev.DurationMs = d.Milliseconds()
				continue
			}
			rest[k] = v
		default:
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		ev.Details = rest
	}
	return ev
}
