// Package moderation maintains the blacklist and takedown flags that
// hide skills from the index without deleting them. Flags flow into the
// published index through the mutating index writer, and every change
// clears the hub loader cache so clients refetch.
package moderation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/owlhub/platform/pkg/registry/index"
)

// ErrEntryNotFound is returned when a blacklist removal targets an
// unknown entry.
var ErrEntryNotFound = errors.New("blacklist entry not found")

// CacheClearer invalidates a client-side index cache after a
// moderation change.
type CacheClearer interface {
	ClearCache() error
}

// BlacklistEntry is one moderated target: a full skill id
// ("publisher/name@version") or a bare publisher, which covers every
// version that publisher shipped.
type BlacklistEntry struct {
	Target  string    `json:"target"`
	Reason  string    `json:"reason,omitempty"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// Service applies moderation decisions to the index.
type Service struct {
	mu      sync.Mutex
	path    string
	writer  *index.Writer
	caches  []CacheClearer
	entries []BlacklistEntry
	loaded  bool
	now     func() time.Time
}

// NewService creates a moderation service. path persists the blacklist;
// writer mutates the published index; caches are cleared after every
// change.
func NewService(path string, writer *index.Writer, caches ...CacheClearer) *Service {
	return &Service{path: path, writer: writer, caches: caches, now: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// Blacklist flags a skill id or publisher and pushes the flag into the
// index.
func (s *Service) Blacklist(target, reason, addedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}

	if s.find(target) < 0 {
		s.entries = append(s.entries, BlacklistEntry{
			Target:  target,
			Reason:  reason,
			AddedBy: addedBy,
			AddedAt: s.now().UTC(),
		})
		if err := s.flush(); err != nil {
			return err
		}
	}

	if err := s.applyBlacklist(target, true); err != nil {
		return err
	}
	s.clearCaches()
	slog.Info("Blacklisted", "target", target, "by", addedBy)
	return nil
}

// Unblacklist removes a blacklist entry and clears the flag in the
// index.
func (s *Service) Unblacklist(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}

	i := s.find(target)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, target)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	if err := s.flush(); err != nil {
		return err
	}

	if err := s.applyBlacklist(target, false); err != nil {
		return err
	}
	s.clearCaches()
	return nil
}

// Takedown sets or clears the takedown flag on one skill version.
// Lock entries of users who already installed it are untouched.
func (s *Service) Takedown(id string, flag bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.SetTakedown(id, flag); err != nil {
		return err
	}
	s.clearCaches()
	slog.Info("Takedown flag updated", "skill", id, "takedown", flag)
	return nil
}

// Entries lists the blacklist sorted by target.
func (s *Service) Entries() ([]BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	out := append([]BlacklistEntry(nil), s.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

// applyBlacklist flags one skill id, or every version of a publisher
// when target has no "/".
func (s *Service) applyBlacklist(target string, flag bool) error {
	if strings.Contains(target, "/") {
		return s.writer.SetBlacklisted(target, flag)
	}

	idx, err := index.LoadFile(s.writer.Path())
	if err != nil {
		return err
	}
	for i := range idx.Skills {
		if idx.Skills[i].Publisher != target {
			continue
		}
		if err := s.writer.SetBlacklisted(idx.Skills[i].ID(), flag); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearCaches() {
	for _, cache := range s.caches {
		if err := cache.ClearCache(); err != nil {
			slog.Warn("Failed to clear index cache after moderation change", "error", err)
		}
	}
}

func (s *Service) find(target string) int {
	for i := range s.entries {
		if s.entries[i].Target == target {
			return i
		}
	}
	return -1
}

func (s *Service) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read blacklist: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("parse blacklist: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *Service) flush() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode blacklist: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create blacklist dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blacklist: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace blacklist: %w", err)
	}
	return nil
}
