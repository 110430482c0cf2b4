package hub

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/registry/index"
	"github.com/owlhub/platform/pkg/registry/manifest"
	"github.com/owlhub/platform/pkg/registry/resolver"
)

// ErrSkillNotFound is returned when no visible entry matches a name.
var ErrSkillNotFound = errors.New("skill not found")

// ErrChecksumMismatch is returned when a downloaded artifact does not
// match the indexed digest and force is not set.
var ErrChecksumMismatch = errors.New("artifact checksum mismatch")

// manifestFiles are the files any installed skill must ship one of.
var manifestFiles = []string{"manifest.yaml", "SKILL.md"}

// TagMode selects how multiple search tags combine.
type TagMode string

const (
	TagModeAnd TagMode = "and"
	TagModeOr  TagMode = "or"
)

// SearchOptions narrow a search. Zero values match everything visible.
type SearchOptions struct {
	Query        string
	Tags         []string
	TagMode      TagMode
	IncludeDraft bool
}

// InstallOptions tune one install.
type InstallOptions struct {
	// Version pins an exact version; empty installs the latest.
	Version string
	// NoDeps skips dependency resolution.
	NoDeps bool
	// Force bypasses checksum verification with a warning.
	Force bool
}

// Client installs and searches skills against a published index.
type Client struct {
	loader     *Loader
	installDir string
	lockPath   string
	http       *http.Client
	now        func() time.Time
}

// NewClient creates a hub client from the registry configuration.
func NewClient(cfg *config.RegistryClientConfig) *Client {
	return &Client{
		loader:     NewLoader(cfg.IndexURL, cfg.CacheDir, cfg.NoCache),
		installDir: cfg.InstallDir,
		lockPath:   cfg.LockFile,
		http:       &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
	}
}

// Loader exposes the index loader, e.g. so moderation can clear its
// cache.
func (c *Client) Loader() *Loader { return c.loader }

// Search returns visible index entries matching the options. Drafts
// are hidden unless requested; takedown and blacklisted versions are
// always hidden.
func (c *Client) Search(ctx context.Context, opts SearchOptions) ([]index.Entry, error) {
	idx, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	var matched []index.Entry
	for _, entry := range idx.Skills {
		if !visible(&entry, opts.IncludeDraft) {
			continue
		}
		if query != "" && !strings.Contains(searchText(idx, &entry), query) {
			continue
		}
		if len(opts.Tags) > 0 && !matchTags(entry.Tags, opts.Tags, opts.TagMode) {
			continue
		}
		matched = append(matched, entry)
	}
	return matched, nil
}

// Install downloads a skill (and its dependencies unless no_deps) into
// install_dir/name/version and records it in the lock file.
func (c *Client) Install(ctx context.Context, name string, opts InstallOptions) (*LockEntry, error) {
	idx, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := pickVersion(idx, name, opts.Version)
	if err != nil {
		return nil, err
	}

	plan := []*index.Entry{entry}
	if !opts.NoDeps {
		resolved, err := resolver.Resolve(ctx, &entry.Manifest, indexCandidates(idx))
		if err != nil {
			return nil, fmt.Errorf("resolve dependencies of %s: %w", entry.ID(), err)
		}
		plan = plan[:0]
		for _, m := range resolved {
			planEntry := idx.Find(m.ID())
			if planEntry == nil {
				return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, m.ID())
			}
			plan = append(plan, planEntry)
		}
	}

	var installed *LockEntry
	for _, item := range plan {
		lockEntry, err := c.installOne(ctx, item, opts.Force)
		if err != nil {
			return nil, err
		}
		if item.Name == name {
			installed = lockEntry
		}
	}
	return installed, nil
}

// Update upgrades the named installed skill — or all installed skills
// when name is empty — to the latest indexed version that compares
// greater by semver. It returns the names that were upgraded.
func (c *Client) Update(ctx context.Context, name string) ([]string, error) {
	lock, err := readLock(c.lockPath)
	if err != nil {
		return nil, err
	}
	idx, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	var upgraded []string
	for _, current := range lock.Skills {
		if name != "" && current.Name != name {
			continue
		}

		latest, err := pickVersion(idx, current.Name, "")
		if err != nil {
			continue
		}
		installedVersion, err := semver.StrictNewVersion(current.Version)
		if err != nil {
			continue
		}
		latestVersion, err := semver.StrictNewVersion(latest.Version)
		if err != nil || !latestVersion.GreaterThan(installedVersion) {
			continue
		}

		if _, err := c.installOne(ctx, latest, false); err != nil {
			return upgraded, err
		}
		upgraded = append(upgraded, current.Name)
	}
	return upgraded, nil
}

// ListInstalled reads the lock file.
func (c *Client) ListInstalled() ([]LockEntry, error) {
	lock, err := readLock(c.lockPath)
	if err != nil {
		return nil, err
	}
	return lock.Skills, nil
}

// installOne downloads, verifies, and extracts one entry, then upserts
// the lock. A failed extraction removes the partial install directory.
func (c *Client) installOne(ctx context.Context, entry *index.Entry, force bool) (*LockEntry, error) {
	artifact, err := c.download(ctx, entry.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", entry.ID(), err)
	}

	if digest := index.Checksum(artifact); digest != entry.Checksum {
		if !force {
			return nil, fmt.Errorf("%w: %s: got %s want %s", ErrChecksumMismatch, entry.ID(), digest, entry.Checksum)
		}
		slog.Warn("Installing despite checksum mismatch",
			"skill", entry.ID(), "got", digest, "want", entry.Checksum)
	}

	target := filepath.Join(c.installDir, entry.Name, entry.Version)
	if err := extractZip(artifact, target); err != nil {
		_ = os.RemoveAll(target)
		return nil, fmt.Errorf("extract %s: %w", entry.ID(), err)
	}
	if !hasManifestFile(target) {
		_ = os.RemoveAll(target)
		return nil, fmt.Errorf("install %s: artifact ships no manifest file", entry.ID())
	}

	lock, err := readLock(c.lockPath)
	if err != nil {
		return nil, err
	}
	lockEntry := LockEntry{
		Name:         entry.Name,
		Publisher:    entry.Publisher,
		Version:      entry.Version,
		DownloadURL:  entry.DownloadURL,
		Checksum:     entry.Checksum,
		InstallPath:  target,
		VersionState: entry.VersionState,
		InstalledAt:  c.now().UTC(),
	}
	lock.upsert(lockEntry)
	if err := writeLock(c.lockPath, lock); err != nil {
		return nil, err
	}

	slog.Info("Installed skill", "skill", entry.ID(), "dir", target)
	return &lockEntry, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// pickVersion selects the visible entry for name: an exact version when
// pinned, otherwise the highest by semver.
func pickVersion(idx *index.Index, name, version string) (*index.Entry, error) {
	var best *index.Entry
	var bestVersion *semver.Version

	for i := range idx.Skills {
		entry := &idx.Skills[i]
		if entry.Name != name || !visible(entry, false) {
			continue
		}
		if version != "" {
			if entry.Version == version {
				return entry, nil
			}
			continue
		}
		v, err := semver.StrictNewVersion(entry.Version)
		if err != nil {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best = entry
			bestVersion = v
		}
	}

	if best == nil {
		if version != "" {
			return nil, fmt.Errorf("%w: %s@%s", ErrSkillNotFound, name, version)
		}
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return best, nil
}

// indexCandidates adapts visible index entries to the resolver.
func indexCandidates(idx *index.Index) resolver.CandidateProvider {
	return resolver.CandidateFunc(func(_ context.Context, name string) ([]*manifest.Manifest, error) {
		var out []*manifest.Manifest
		for i := range idx.Skills {
			entry := &idx.Skills[i]
			if entry.Name == name && visible(entry, false) {
				out = append(out, entry.Manifest.Clone())
			}
		}
		return out, nil
	})
}

func visible(entry *index.Entry, includeDraft bool) bool {
	if entry.Takedown || entry.Blacklisted {
		return false
	}
	if entry.VersionState == manifest.StateDraft && !includeDraft {
		return false
	}
	return true
}

// searchText prefers the sidecar record; entries without one fall back
// to a recomputed text.
func searchText(idx *index.Index, entry *index.Entry) string {
	id := entry.ID()
	for _, record := range idx.SearchIndex {
		if record.ID == id {
			return record.SearchText
		}
	}
	parts := append([]string{entry.Name, entry.Description}, entry.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

func matchTags(entryTags, wanted []string, mode TagMode) bool {
	have := make(map[string]bool, len(entryTags))
	for _, tag := range entryTags {
		have[strings.ToLower(tag)] = true
	}

	matches := 0
	for _, tag := range wanted {
		if have[strings.ToLower(tag)] {
			matches++
		}
	}
	if mode == TagModeOr {
		return matches > 0
	}
	return matches == len(wanted)
}

// extractZip unpacks archive bytes under target, rejecting entries that
// escape it.
func extractZip(archive []byte, target string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	for _, file := range reader.File {
		dest := filepath.Join(target, filepath.Clean(file.Name))
		if !strings.HasPrefix(dest, filepath.Clean(target)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes install dir", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func hasManifestFile(dir string) bool {
	for _, name := range manifestFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
