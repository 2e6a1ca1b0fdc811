package task

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink is the append-only output file a single task writes to.
type Sink struct {
	Path string
}

// NewSink creates an empty sink file for id under dir.
func NewSink(dir, id string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	path := filepath.Join(dir, id+"_output.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return &Sink{Path: path}, nil
}

// OpenAppend opens the sink for appending. The caller closes the file.
func (s *Sink) OpenAppend() (*os.File, error) {
	return os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// Read returns the current content. A missing file reads as empty so that
// a writer that has not flushed yet looks the same as one with no output.
func (s *Sink) Read() (string, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sink: %w", err)
	}
	return string(data), nil
}
