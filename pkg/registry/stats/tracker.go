// Package stats tracks per-skill download and install counters. Events
// are appended to a JSONL file and aggregated in memory; a GitHub
// release poller can augment download counts.
package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/owlhub/platform/pkg/registry/index"
)

// activeWindow is the lookback for "active installs": distinct user
// ids seen in this window.
const activeWindow = 30 * 24 * time.Hour

// EventType is a counted skill interaction.
type EventType string

const (
	EventDownload EventType = "download"
	EventInstall  EventType = "install"
)

// Event is one counted interaction, stored as one JSON line.
type Event struct {
	Type      EventType `json:"type"`
	Publisher string    `json:"publisher"`
	Skill     string    `json:"skill"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the aggregate for one (publisher, skill).
type Record struct {
	Publisher       string    `json:"publisher"`
	Skill           string    `json:"skill"`
	TotalDownloads  int64     `json:"total_downloads"`
	RecentDownloads int64     `json:"recent_downloads"`
	TotalInstalls   int64     `json:"total_installs"`
	ActiveInstalls  int64     `json:"active_installs"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Tracker appends events to a JSONL file under a file-scope lock and
// answers aggregate queries from memory.
type Tracker struct {
	mu     sync.Mutex
	path   string
	events []Event
	loaded bool
	now    func() time.Time
}

// NewTracker creates a tracker backed by path. Existing events are
// replayed on first use.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path, now: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (t *Tracker) SetNowFunc(now func() time.Time) { t.now = now }

// RecordDownload counts one artifact download.
func (t *Tracker) RecordDownload(publisher, skill, userID string) error {
	return t.record(Event{Type: EventDownload, Publisher: publisher, Skill: skill, UserID: userID})
}

// RecordInstall counts one completed install.
func (t *Tracker) RecordInstall(publisher, skill, userID string) error {
	return t.record(Event{Type: EventInstall, Publisher: publisher, Skill: skill, UserID: userID})
}

func (t *Tracker) record(event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return err
	}

	event.Timestamp = t.now().UTC()
	if err := t.append(event); err != nil {
		return err
	}
	t.events = append(t.events, event)
	return nil
}

// Snapshot returns the aggregate record for one skill. Recent counts
// use the 30-day active window ending now.
func (t *Tracker) Snapshot(publisher, skill string) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return nil, err
	}

	cutoff := t.now().UTC().Add(-activeWindow)
	record := &Record{Publisher: publisher, Skill: skill}
	activeUsers := make(map[string]bool)

	for _, event := range t.events {
		if event.Publisher != publisher || event.Skill != skill {
			continue
		}
		if event.Timestamp.After(record.LastUpdated) {
			record.LastUpdated = event.Timestamp
		}
		switch event.Type {
		case EventDownload:
			record.TotalDownloads++
			if event.Timestamp.After(cutoff) {
				record.RecentDownloads++
			}
		case EventInstall:
			record.TotalInstalls++
			if event.UserID != "" && event.Timestamp.After(cutoff) {
				activeUsers[event.UserID] = true
			}
		}
	}

	record.ActiveInstalls = int64(len(activeUsers))
	return record, nil
}

// All returns aggregates for every skill with at least one event.
func (t *Tracker) All() ([]Record, error) {
	t.mu.Lock()
	seen := make(map[[2]string]bool)
	var keys [][2]string
	if err := t.load(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	for _, event := range t.events {
		key := [2]string{event.Publisher, event.Skill}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	t.mu.Unlock()

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		record, err := t.Snapshot(key[0], key[1])
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// IndexStatistics adapts the tracker to the index builder: a lookup
// from skill id "publisher/name@version" to statistics.
func (t *Tracker) IndexStatistics() func(id string) *index.Statistics {
	return func(id string) *index.Statistics {
		publisher, skill, ok := splitID(id)
		if !ok {
			return nil
		}
		record, err := t.Snapshot(publisher, skill)
		if err != nil || record.LastUpdated.IsZero() {
			return nil
		}
		return &index.Statistics{
			Downloads:      int(record.TotalDownloads),
			Installs:       int(record.TotalInstalls),
			ActiveInstalls: int(record.ActiveInstalls),
		}
	}
}

func (t *Tracker) load() error {
	if t.loaded {
		return nil
	}

	file, err := os.Open(t.path)
	if os.IsNotExist(err) {
		t.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("open statistics log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("parse statistics log: %w", err)
		}
		t.events = append(t.events, event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read statistics log: %w", err)
	}
	t.loaded = true
	return nil
}

func (t *Tracker) append(event Event) error {
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create statistics dir: %w", err)
		}
	}

	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open statistics log: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode statistics event: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append statistics event: %w", err)
	}
	return nil
}

// splitID parses "publisher/name@version" into publisher and name.
func splitID(id string) (publisher, name string, ok bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			rest := id[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '@' {
					return id[:i], rest[:j], true
				}
			}
			return id[:i], rest, true
		}
	}
	return "", "", false
}
