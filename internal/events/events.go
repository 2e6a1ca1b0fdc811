// Package events streams dispatch events to NATS and fans events out to
// several loggers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when none is configured.
const DefaultSubject = "autopentest.events"

// Logger receives dispatch events.
type Logger interface {
	LogEvent(kind, command string, details map[string]interface{}) error
}

// Message is the JSON payload published per event.
type Message struct {
	Type      string                 `json:"type"`
	Command   string                 `json:"command,omitempty"`
	Session   string                 `json:"session,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher writes each event to a NATS subject as <subject>.<kind>.
type Publisher struct {
	conn    Conn
	subject string
	session string
}

// Connect dials url and returns a publisher on subject.
func Connect(url, subject, session string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("autopentest"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewPublisher(nc, subject, session), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, subject, session string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject, session: session}
}

// LogEvent publishes one event.
func (p *Publisher) LogEvent(kind, command string, details map[string]interface{}) error {
	data, err := json.Marshal(Message{
		Type:      kind,
		Command:   command,
		Session:   p.session,
		Timestamp: time.Now(),
		Details:   details,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.conn.Publish(p.subject+"."+kind, data)
}

// Close closes the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}

// Multi delivers every event to each logger. One logger failing does not
// stop delivery to the others.
type Multi []Logger

// LogEvent forwards the event and joins any errors.
func (m Multi) LogEvent(kind, command string, details map[string]interface{}) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.LogEvent(kind, command, details); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
