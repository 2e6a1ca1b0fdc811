package session

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store error: %v", err)
	}
	return store
}

func TestSession_Create(t *testing.T) {
	mgr := NewManager(newStore(t))

	sess, err := mgr.Create("assessment", "10.0.0.5")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if sess.ID == "" {
		t.Error("session ID should not be empty")
	}
	if sess.Status != StatusRunning {
		t.Errorf("expected status running, got %s", sess.Status)
	}
	loaded, err := mgr.Get(sess.ID)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if loaded.Name != "assessment" || loaded.Target != "10.0.0.5" {
		t.Errorf("header not persisted: %+v", loaded)
	}
}

func TestSession_UniqueIDs(t *testing.T) {
	mgr := NewManager(newStore(t))
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, _ := mgr.Create("s", "")
		if ids[sess.ID] {
			t.Errorf("duplicate session ID: %s", sess.ID)
		}
		ids[sess.ID] = true
	}
}

func TestSession_EventsRoundTrip(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	sess, _ := mgr.Create("s", "")

	rc := 1
	sess.AddEvent(Event{Type: EventCommandExecution, Command: "nmap host", Phase: "recon"})
	sess.AddEvent(Event{Type: EventCommandResult, Command: "nmap host", ReturnCode: &rc, Error: "exit 1", Details: map[string]interface{}{"timed_out": false}})
	if err := mgr.Update(sess); err != nil {
		t.Fatalf("update error: %v", err)
	}

	loaded, err := mgr.Get(sess.ID)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(loaded.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded.Events))
	}
	if loaded.Events[0].SeqID != 1 || loaded.Events[1].SeqID != 2 {
		t.Errorf("expected seq 1,2, got %d,%d", loaded.Events[0].SeqID, loaded.Events[1].SeqID)
	}
	ev := loaded.Events[1]
	if ev.ReturnCode == nil || *ev.ReturnCode != 1 || ev.Error != "exit 1" {
		t.Errorf("event fields lost: %+v", ev)
	}
	if ev.Details["timed_out"] != false {
		t.Errorf("details lost: %v", ev.Details)
	}
	if loaded.CurrentSeqID() != 2 {
		t.Errorf("sequence counter not restored, got %d", loaded.CurrentSeqID())
	}
}

func TestFileStore_JSONLLayout(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	sess, _ := mgr.Create("s", "")
	sess.AddEvent(Event{Type: EventSecurityBlock, Command: "rm -rf /"})
	mgr.Update(sess)

	data, err := os.ReadFile(store.Path(sess.ID))
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, event, footer; got %d lines", len(lines))
	}
	for i, want := range []string{`"_type":"header"`, `"_type":"event"`, `"_type":"footer"`} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d: expected %s in %s", i, want, lines[i])
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := newStore(t).Load("nope"); err == nil {
		t.Error("expected error for missing session")
	}
}

func TestRecorder_LogEvent(t *testing.T) {
	store := newStore(t)
	rec, err := NewRecorder(store, "run", "example.com")
	if err != nil {
		t.Fatalf("recorder error: %v", err)
	}
	err = rec.LogEvent(EventCommandResult, "echo hi", map[string]interface{}{
		"task_id":     "task_1",
		"phase":       "recon",
		"return_code": 0,
		"duration":    1500 * time.Millisecond,
		"timed_out":   false,
	})
	if err != nil {
		t.Fatalf("log error: %v", err)
	}

	loaded, _ := store.Load(rec.Session().ID)
	if len(loaded.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(loaded.Events))
	}
	ev := loaded.Events[0]
	if ev.TaskID != "task_1" || ev.Phase != "recon" || ev.DurationMs != 1500 {
		t.Errorf("fields not mapped: %+v", ev)
	}
	if ev.Success == nil || !*ev.Success {
		t.Error("expected success derived from return code")
	}
	if _, ok := ev.Details["timed_out"]; !ok {
		t.Errorf("expected extra key in details, got %v", ev.Details)
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	store := newStore(t)
	rec, _ := NewRecorder(store, "run", "")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.LogEvent(EventCommandExecution, "x", nil)
		}()
	}
	wg.Wait()
	loaded, _ := store.Load(rec.Session().ID)
	if len(loaded.Events) != 20 {
		t.Errorf("expected 20 events, got %d", len(loaded.Events))
	}
}

func TestRecorder_Close(t *testing.T) {
	store := newStore(t)
	rec, _ := NewRecorder(store, "run", "")
	if err := rec.Close(errors.New("interrupted")); err != nil {
		t.Fatalf("close error: %v", err)
	}
	loaded, _ := store.Load(rec.Session().ID)
	if loaded.Status != StatusFailed || loaded.Error != "interrupted" {
		t.Errorf("expected failed session, got %s %q", loaded.Status, loaded.Error)
	}
	if err := rec.LogEvent(EventCommandExecution, "x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := rec.Close(nil); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
