// Package session records dispatched commands and their outcomes as a
// JSONL session log.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status constants for sessions.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Event types for the session log
const (
	EventCommandExecution = "command_execution" // Command accepted for dispatch
	EventCommandResult    = "command_result"    // Dispatch finished
	EventSecurityBlock    = "security_block"    // Command rejected by the gate
)

// Session is one run of the tool against a target.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Target    string    `json:"target,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Events    []Event   `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	seqCounter uint64
	mu         sync.Mutex
}

// Event is a single entry in the session log.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Command    string `json:"command,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Category   string `json:"tool_category,omitempty"`
	ReturnCode *int   `json:"return_code,omitempty"`
	Success    *bool  `json:"success,omitempty"` // nil = not applicable
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Details holds everything else the caller attached.
	Details map[string]interface{} `json:"details,omitempty"`
}

func (s *Session) nextSeqID() uint64 {
	return atomic.AddUint64(&s.seqCounter, 1)
}

// CurrentSeqID returns the last used sequence ID, or 0 before any event.
func (s *Session) CurrentSeqID() uint64 {
	return atomic.LoadUint64(&s.seqCounter)
}

// AddEvent appends event with the next sequence number.
func (s *Session) AddEvent(event Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.SeqID = s.nextSeqID()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return event.SeqID
}

// snapshot copies the persisted fields under the lock.
func (s *Session) snapshot() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Session{
		ID:        s.ID,
		Name:      s.Name,
		Target:    s.Target,
		Status:    s.Status,
		Error:     s.Error,
		Events:    append([]Event(nil), s.Events...),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Store is the interface for session persistence.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
}

// Manager creates and updates sessions in a store.
type Manager struct {
	store Store
	mu    sync.Mutex
}

// NewManager creates a new session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create starts and persists a new session.
func (m *Manager) Create(name, target string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Target:    target,
		Status:    StatusRunning,
		Events:    []Event{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	return m.store.Load(id)
}

// Update saves changes to a session.
func (m *Manager) Update(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess.mu.Lock()
	sess.UpdatedAt = time.Now()
	sess.mu.Unlock()
	return m.store.Save(sess)
}

// JSONL record types
const (
	RecordTypeHeader = "header" // Session metadata (first line)
	RecordTypeEvent  = "event"  // Individual event
	RecordTypeFooter = "footer" // Final state (last line)
)

// JSONLRecord is one line of a session file.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// Header fields
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	*Event `json:",omitempty"`

	// Footer fields. The error is renamed so it does not shadow Event.Error.
	Status       string    `json:"status,omitempty"`
	SessionError string    `json:"session_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// FileStore keeps one <id>.jsonl file per session.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file a session is stored in.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Save rewrites the session file: header, events, footer.
func (s *FileStore) Save(sess *Session) error {
	snap := sess.snapshot()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := s.Path(snap.ID) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	w := bufio.NewWriter(f)

	records := make([]JSONLRecord, 0, len(snap.Events)+2)
	records = append(records, JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         snap.ID,
		Name:       snap.Name,
		Target:     snap.Target,
		CreatedAt:  snap.CreatedAt,
	})
	for i := range snap.Events {
		records = append(records, JSONLRecord{RecordType: RecordTypeEvent, Event: &snap.Events[i]})
	}
	records = append(records, JSONLRecord{
		RecordType:   RecordTypeFooter,
		Status:       snap.Status,
		SessionError: snap.Error,
		UpdatedAt:    snap.UpdatedAt,
	})

	for _, rec := range records {
		if err := writeLine(w, rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, s.Path(snap.ID))
}

func writeLine(w io.Writer, record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Load reads a session file.
func (s *FileStore) Load(id string) (*Session, error) {
	return ReadFile(s.Path(id))
}

// ReadFile reads a session from a JSONL file at path.
func ReadFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sess := &Session{Events: []Event{}}
	// bufio.Reader rather than Scanner: event lines carry command output.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if perr := parseLine(trimmed, sess); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
	}

	if len(sess.Events) > 0 {
		sess.seqCounter = sess.Events[len(sess.Events)-1].SeqID
	}
	return sess, nil
}

func parseLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.Name = record.Name
		sess.Target = record.Target
		sess.CreatedAt = record.CreatedAt
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		sess.Status = record.Status
		sess.Error = record.SessionError
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}
