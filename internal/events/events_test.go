package events

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func (f *fakeConn) Close() { f.closed = true }

func TestPublisher_LogEvent(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", "sess-1")
	if err := p.LogEvent("command_result", "echo hi", map[string]interface{}{"return_code": 0}); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "autopentest.events.command_result" {
		t.Fatalf("unexpected subjects: %v", conn.subjects)
	}
	var msg Message
	if err := json.Unmarshal(conn.payloads[0], &msg); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if msg.Type != "command_result" || msg.Command != "echo hi" || msg.Session != "sess-1" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Details["return_code"] != float64(0) {
		t.Errorf("details lost: %v", msg.Details)
	}
	p.Close()
	if !conn.closed {
		t.Error("expected connection closed")
	}
}

func TestPublisher_Error(t *testing.T) {
	p := NewPublisher(&fakeConn{err: errors.New("down")}, "x", "")
	if err := p.LogEvent("k", "c", nil); err == nil {
		t.Error("expected publish error")
	}
}

type countingLogger struct {
	n   int
	err error
}

func (c *countingLogger) LogEvent(string, string, map[string]interface{}) error {
	c.n++
	return c.err
}

func TestMulti(t *testing.T) {
	a := &countingLogger{err: errors.New("a failed")}
	b := &countingLogger{}
	m := Multi{a, nil, b}
	err := m.LogEvent("k", "c", nil)
	if err == nil || err.Error() != "a failed" {
		t.Errorf("expected joined error, got %v", err)
	}
	if a.n != 1 || b.n != 1 {
		t.Errorf("expected delivery to every logger, got %d %d", a.n, b.n)
	}
	if err := (Multi{b}).LogEvent("k", "c", nil); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
