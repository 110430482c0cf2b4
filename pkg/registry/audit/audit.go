// Package audit is the registry's append-only audit trail: one JSON
// object per line, serialized through a file-scope lock.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one audited action.
type Event struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Role      string         `json:"role"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log appends audit events to a JSONL file. The mutex guarantees
// concurrent writers never interleave a line.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewLog creates an audit log backed by path. The file is created on
// first append.
func NewLog(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (l *Log) SetNowFunc(now func() time.Time) { l.now = now }

// Append writes one event with a UTC timestamp.
func (l *Log) Append(eventType, userID, role string, details map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		EventType: eventType,
		Timestamp: l.now().UTC(),
		UserID:    userID,
		Role:      role,
		Details:   details,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Entries reads the full audit trail in append order. A missing file
// is an empty trail.
func (l *Log) Entries() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse audit log: %w", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return events, nil
}
