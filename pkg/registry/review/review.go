// Package review tracks the publish review workflow: every submitted
// skill version gets a pending record that a reviewer approves or
// rejects, and rejected records can collect appeals.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the review workflow state.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

var (
	// ErrNotFound is returned when no review matches an id.
	ErrNotFound = errors.New("review not found")
	// ErrConflictingVerdict is returned when a decided review receives
	// the opposite verdict.
	ErrConflictingVerdict = errors.New("review already decided with a different verdict")
	// ErrNotRejected is returned when an appeal targets a review that
	// was not rejected.
	ErrNotRejected = errors.New("only rejected reviews can be appealed")
)

// Appeal records one objection to a rejection. Appeals never change
// the review state.
type Appeal struct {
	UserID     string    `json:"user_id"`
	Message    string    `json:"message"`
	AppealedAt time.Time `json:"appealed_at"`
}

// Record is one review workflow entry.
type Record struct {
	ID          string     `json:"id"`
	SkillID     string     `json:"skill_id"`
	SubmittedBy string     `json:"submitted_by"`
	State       State      `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Reviewer    string     `json:"reviewer,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Appeals     []Appeal   `json:"appeals,omitempty"`
}

// Store persists review records as a JSON file. All mutations go
// through the store's lock and are flushed atomically.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record
	loaded  bool
	now     func() time.Time
}

// NewStore creates a store backed by path. The file is created on
// first write.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (s *Store) SetNowFunc(now func() time.Time) { s.now = now }

// Submit opens a pending review for a skill version.
func (s *Store) Submit(skillID, submittedBy string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	record := &Record{
		ID:          uuid.NewString(),
		SkillID:     skillID,
		SubmittedBy: submittedBy,
		State:       StatePending,
		SubmittedAt: s.now().UTC(),
	}
	s.records[record.ID] = record
	if err := s.flush(); err != nil {
		return nil, err
	}
	return cloneRecord(record), nil
}

// Approve moves a pending review to approved. Approving an already
// approved review is a no-op; approving a rejected one is an error.
func (s *Store) Approve(id, reviewer, reason string) (*Record, error) {
	return s.decide(id, reviewer, reason, StateApproved)
}

// Reject moves a pending review to rejected. Rejecting an already
// rejected review is a no-op; rejecting an approved one is an error.
func (s *Store) Reject(id, reviewer, reason string) (*Record, error) {
	return s.decide(id, reviewer, reason, StateRejected)
}

func (s *Store) decide(id, reviewer, reason string, verdict State) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch record.State {
	case verdict:
		return cloneRecord(record), nil
	case StatePending:
		// fall through to the transition
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrConflictingVerdict, id, record.State)
	}

	decidedAt := s.now().UTC()
	record.State = verdict
	record.DecidedAt = &decidedAt
	record.Reviewer = reviewer
	record.Reason = reason
	if err := s.flush(); err != nil {
		return nil, err
	}
	return cloneRecord(record), nil
}

// Appeal records an objection against a rejected review. The state
// stays rejected.
func (s *Store) Appeal(id, userID, message string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if record.State != StateRejected {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRejected, id, record.State)
	}

	record.Appeals = append(record.Appeals, Appeal{
		UserID:     userID,
		Message:    message,
		AppealedAt: s.now().UTC(),
	})
	if err := s.flush(); err != nil {
		return nil, err
	}
	return cloneRecord(record), nil
}

// Get returns one review by id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRecord(record), nil
}

// Pending lists open reviews ordered by submission time.
func (s *Store) Pending() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	var pending []Record
	for _, record := range s.records {
		if record.State == StatePending {
			pending = append(pending, *cloneRecord(record))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].SubmittedAt.Equal(pending[j].SubmittedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
	})
	return pending, nil
}

// load reads the backing file once; a missing file is an empty store.
func (s *Store) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read review store: %w", err)
	}

	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse review store: %w", err)
	}
	for _, record := range records {
		s.records[record.ID] = record
	}
	s.loaded = true
	return nil
}

// flush writes all records to a sibling file and renames it over the
// target.
func (s *Store) flush() error {
	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode review store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create review store dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write review store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace review store: %w", err)
	}
	return nil
}

func cloneRecord(record *Record) *Record {
	out := *record
	if record.DecidedAt != nil {
		decidedAt := *record.DecidedAt
		out.DecidedAt = &decidedAt
	}
	out.Appeals = append([]Appeal(nil), record.Appeals...)
	return &out
}
