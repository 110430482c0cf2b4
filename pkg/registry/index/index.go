// Package index builds and mutates the machine-readable skill index.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/owlhub/platform/pkg/registry/manifest"
)

// FormatVersion identifies the index layout.
const FormatVersion = "1.0"

// Statistics is the usage block attached to an index entry.
type Statistics struct {
	Downloads      int `json:"downloads"`
	Installs       int `json:"installs"`
	ActiveInstalls int `json:"active_installs"`
}

// Entry is one published skill version: the manifest plus distribution
// and moderation metadata.
type Entry struct {
	manifest.Manifest

	DownloadURL string      `json:"download_url"`
	Checksum    string      `json:"checksum"`
	PublishedAt time.Time   `json:"published_at,omitzero"`
	UpdatedAt   time.Time   `json:"updated_at,omitzero"`
	Statistics  *Statistics `json:"statistics,omitempty"`
	Blacklisted bool        `json:"blacklisted,omitempty"`
	Takedown    bool        `json:"takedown,omitempty"`
}

// SearchRecord is the sidecar search entry for one skill version.
type SearchRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Publisher  string   `json:"publisher"`
	Version    string   `json:"version"`
	Tags       []string `json:"tags,omitempty"`
	SearchText string   `json:"search_text"`
}

// Index is the published registry document.
type Index struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	TotalSkills int            `json:"total_skills"`
	Skills      []Entry        `json:"skills"`
	SearchIndex []SearchRecord `json:"search_index"`
}

// Find returns the entry with the given skill id, or nil.
func (idx *Index) Find(id string) *Entry {
	for i := range idx.Skills {
		if idx.Skills[i].ID() == id {
			return &idx.Skills[i]
		}
	}
	return nil
}

// LoadFile reads an index document from disk.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return Parse(data)
}

// Parse decodes an index document.
func Parse(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &idx, nil
}

// WriteFile persists the index atomically: write a sibling file, then
// rename over the target.
func WriteFile(path string, idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// ErrEntryNotFound is returned by the writer for unknown skill ids.
var ErrEntryNotFound = errors.New("index entry not found")

// Writer mutates moderation flags on a persisted index file.
type Writer struct {
	path string
}

// NewWriter creates a writer over the index file at path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the index file the writer mutates.
func (w *Writer) Path() string { return w.path }

// SetBlacklisted flips the blacklist flag on one skill version.
func (w *Writer) SetBlacklisted(id string, flag bool) error {
	return w.mutate(id, func(e *Entry) { e.Blacklisted = flag })
}

// SetVersionState updates the lifecycle state of one skill version.
func (w *Writer) SetVersionState(id string, state manifest.VersionState) error {
	return w.mutate(id, func(e *Entry) { e.VersionState = state })
}

// SetTakedown flips the takedown flag on one skill version.
func (w *Writer) SetTakedown(id string, flag bool) error {
	return w.mutate(id, func(e *Entry) { e.Takedown = flag })
}

func (w *Writer) mutate(id string, apply func(*Entry)) error {
	idx, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	entry := idx.Find(id)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	apply(entry)
	return WriteFile(w.path, idx)
}
