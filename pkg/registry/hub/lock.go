package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/owlhub/platform/pkg/registry/manifest"
)

// lockFormatVersion identifies the lock file layout.
const lockFormatVersion = "1.0"

// LockEntry records one installed skill version: where its artifact
// came from and where it was extracted.
type LockEntry struct {
	Name         string                `json:"name"`
	Publisher    string                `json:"publisher"`
	Version      string                `json:"version"`
	DownloadURL  string                `json:"download_url"`
	Checksum     string                `json:"checksum"`
	InstallPath  string                `json:"install_path"`
	VersionState manifest.VersionState `json:"version_state"`
	InstalledAt  time.Time             `json:"installed_at"`
}

// LockFile is the installed-skills manifest, sorted by name.
type LockFile struct {
	Version     string      `json:"version"`
	GeneratedAt time.Time   `json:"generated_at"`
	Skills      []LockEntry `json:"skills"`
}

// readLock loads the lock file; a missing file is an empty lock.
func readLock(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LockFile{Version: lockFormatVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	var lock LockFile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &lock, nil
}

// writeLock persists the lock atomically: generation time stamped,
// entries sorted by name, written to a sibling file, then renamed over
// the target.
func writeLock(path string, lock *LockFile) error {
	lock.GeneratedAt = time.Now().UTC()
	sort.Slice(lock.Skills, func(i, j int) bool {
		return lock.Skills[i].Name < lock.Skills[j].Name
	})

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace lock file: %w", err)
	}
	return nil
}

// upsert replaces the entry with the same name or appends a new one.
func (l *LockFile) upsert(entry LockEntry) {
	for i := range l.Skills {
		if l.Skills[i].Name == entry.Name {
			l.Skills[i] = entry
			return
		}
	}
	l.Skills = append(l.Skills, entry)
}

// find returns the entry for name, or nil.
func (l *LockFile) find(name string) *LockEntry {
	for i := range l.Skills {
		if l.Skills[i].Name == name {
			return &l.Skills[i]
		}
	}
	return nil
}
