package task

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestRegistry_NewIDUnique(t *testing.T) {
	r := NewRegistry()
	ids := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := r.NewID("task")
				mu.Lock()
				if ids[id] {
					t.Errorf("duplicate id: %s", id)
				}
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(ids) != 1000 {
		t.Errorf("expected 1000 ids, got %d", len(ids))
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Task{ID: "a", Command: "echo a"}); err != nil {
		t.Fatalf("add error: %v", err)
	}
	got, ok := r.Get("a")
	if !ok || got.Status != StatusPending {
		t.Fatalf("expected pending task, got %+v (found=%v)", got, ok)
	}

	if _, err := r.Start("a"); err != nil {
		t.Fatalf("start error: %v", err)
	}
	done, err := r.Finish("a", func(t *Task) {
		t.Status = StatusCompleted
		t.SetReturnCode(0)
		t.Output = "a\n"
	})
	if err != nil {
		t.Fatalf("finish error: %v", err)
	}
	if done.Code(-1) != 0 || done.Output != "a\n" {
		t.Errorf("unexpected finished task: %+v", done)
	}

	active, completed := r.Len()
	if active != 0 || completed != 1 {
		t.Errorf("expected 0 active / 1 completed, got %d / %d", active, completed)
	}
	if !r.IsTerminal("a") {
		t.Error("expected task to be terminal")
	}
}

func TestRegistry_TerminalIsImmutable(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(Task{ID: "a"})
	_, _ = r.Start("a")
	_, _ = r.Finish("a", func(t *Task) { t.Status = StatusFailed; t.SetReturnCode(1) })

	_, err := r.Finish("a", func(t *Task) { t.Status = StatusCompleted })
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}
	got, _ := r.Get("a")
	if got.Status != StatusFailed || got.Code(0) != 1 {
		t.Errorf("terminal task changed: %+v", got)
	}
}

func TestRegistry_CopiesDoNotAlias(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(Task{ID: "a"})
	_, _ = r.Start("a")
	_, _ = r.Finish("a", func(t *Task) { t.Status = StatusCompleted; t.SetReturnCode(0) })

	got, _ := r.Get("a")
	*got.ReturnCode = 42
	again, _ := r.Get("a")
	if again.Code(-1) != 0 {
		t.Errorf("registry record was mutated through a copy: %d", again.Code(-1))
	}
}

func TestRegistry_InvalidTransitions(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(Task{ID: "a"})

	_, err := r.Finish("a", func(t *Task) { t.Status = StatusTimedOut })
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> timed_out should be rejected, got %v", err)
	}
	_, err = r.Finish("a", func(t *Task) { t.Status = StatusRunning })
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("finish to non-terminal should be rejected, got %v", err)
	}
	// Spawn failure path.
	if _, err := r.Finish("a", func(t *Task) { t.Status = StatusFailed }); err != nil {
		t.Errorf("pending -> failed should be allowed, got %v", err)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(Task{ID: "a"})
	if err := r.Add(Task{ID: "a"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if err := r.Add(Task{ID: "b", Status: StatusCompleted}); !errors.Is(err, ErrTerminal) {
		t.Errorf("expected ErrTerminal for terminal insert, got %v", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(Task{ID: "a"})
	_ = r.Add(Task{ID: "b"})
	_, _ = r.Finish("b", func(t *Task) { t.Status = StatusFailed })

	if n := r.Remove("a", "b", "zzz"); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, ok := r.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if len(r.Completed()) != 0 {
		t.Error("expected completed order to be pruned")
	}
}

func TestSink_ReadMissingIsEmpty(t *testing.T) {
	s := &Sink{Path: filepath.Join(t.TempDir(), "nope.txt")}
	content, err := s.Read()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if content != "" {
		t.Errorf("expected empty content, got %q", content)
	}
}

func TestSink_Append(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, "task_1")
	if err != nil {
		t.Fatalf("new sink error: %v", err)
	}
	if filepath.Base(s.Path) != "task_1_output.txt" {
		t.Errorf("unexpected sink path: %s", s.Path)
	}
	for _, chunk := range []string{"one\n", "two\n"} {
		f, err := s.OpenAppend()
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		_, _ = f.WriteString(chunk)
		f.Close()
	}
	content, _ := s.Read()
	if content != "one\ntwo\n" {
		t.Errorf("expected appended content, got %q", content)
	}
	if _, err := os.Stat(s.Path); err != nil {
		t.Errorf("sink file missing: %v", err)
	}
}

func TestRegistry_FinishNonTerminalLeavesTaskActive(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(Task{ID: "a"})
	if _, err := r.Start("a"); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Finish("a", func(t *Task) { t.Status = StatusRunning }); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("running -> running should be rejected, got %v", err)
	}
	if r.IsTerminal("a") {
		t.Error("task must stay in the active partition")
	}
	if active, completed := r.Len(); active != 1 || completed != 0 {
		t.Errorf("expected 1 active and 0 completed, got %d and %d", active, completed)
	}
}
