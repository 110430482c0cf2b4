package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/owlhub/platform/pkg/registry/manifest"
)

// Builder assembles an Index from validated manifests. Manifests that
// fail validation are skipped so they can never be retrieved from the
// published index.
type Builder struct {
	// BaseURL prefixes generated artifact download URLs.
	BaseURL string
	// Artifacts returns the artifact bytes for a manifest when one is
	// shipped. Nil or a false return falls back to the identity checksum.
	Artifacts func(m *manifest.Manifest) ([]byte, bool)
	// Statistics returns the usage block for a skill id, or nil.
	Statistics func(id string) *Statistics
	// Timestamps returns published/updated times for a manifest. Nil
	// leaves both unset, keeping identical inputs byte-identical.
	Timestamps func(m *manifest.Manifest) (published, updated time.Time)

	now func() time.Time
}

// NewBuilder creates a builder generating download URLs under baseURL.
func NewBuilder(baseURL string) *Builder {
	return &Builder{
		BaseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (b *Builder) SetNowFunc(now func() time.Time) { b.now = now }

// Build produces the index document for the given manifests. Entries
// are sorted by skill id so identical inputs yield identical output
// bytes modulo generated_at.
func (b *Builder) Build(manifests []*manifest.Manifest) *Index {
	idx := &Index{
		Version:     FormatVersion,
		GeneratedAt: b.now().UTC(),
	}

	sorted := make([]*manifest.Manifest, len(manifests))
	copy(sorted, manifests)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	for _, m := range sorted {
		if err := manifest.Validate(m); err != nil {
			slog.Warn("Skipping invalid manifest", "skill", m.ID(), "error", err)
			continue
		}

		entry := Entry{
			Manifest:    *m.Clone(),
			DownloadURL: b.downloadURL(m),
			Checksum:    b.checksum(m),
		}
		if b.Statistics != nil {
			entry.Statistics = b.Statistics(m.ID())
		}
		if b.Timestamps != nil {
			entry.PublishedAt, entry.UpdatedAt = b.Timestamps(m)
		}

		idx.Skills = append(idx.Skills, entry)
		idx.SearchIndex = append(idx.SearchIndex, searchRecord(m))
	}

	idx.TotalSkills = len(idx.Skills)
	return idx
}

func (b *Builder) downloadURL(m *manifest.Manifest) string {
	return fmt.Sprintf("%s/%s/%s-%s.zip", b.BaseURL, m.Publisher, m.Name, m.Version)
}

// checksum digests the artifact bytes when one is shipped, otherwise
// the deterministic identity string publisher:name:version.
func (b *Builder) checksum(m *manifest.Manifest) string {
	if b.Artifacts != nil {
		if data, ok := b.Artifacts(m); ok {
			return Checksum(data)
		}
	}
	identity := fmt.Sprintf("%s:%s:%s", m.Publisher, m.Name, m.Version)
	return Checksum([]byte(identity))
}

// Checksum returns the sha256:hex digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// searchRecord derives the sidecar record: search_text is the
// lowercased name, description, and tags joined by spaces.
func searchRecord(m *manifest.Manifest) SearchRecord {
	parts := append([]string{m.Name, m.Description}, m.Tags...)
	return SearchRecord{
		ID:         m.ID(),
		Name:       m.Name,
		Publisher:  m.Publisher,
		Version:    m.Version,
		Tags:       append([]string(nil), m.Tags...),
		SearchText: strings.ToLower(strings.Join(parts, " ")),
	}
}
