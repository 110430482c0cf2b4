package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlhub/platform/pkg/registry/manifest"
)

func sampleManifest(name, version string) *manifest.Manifest {
	return &manifest.Manifest{
		Name:         name,
		Version:      version,
		Publisher:    "acme",
		Description:  "a sample skill for indexing",
		License:      "MIT",
		Tags:         []string{"sample", "Testing"},
		VersionState: manifest.StateReleased,
	}
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder("https://skills.example.com/artifacts/")
	b.SetNowFunc(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })
	b.Artifacts = func(m *manifest.Manifest) ([]byte, bool) {
		if m.Name == "with-artifact" {
			return []byte("artifact-bytes"), true
		}
		return nil, false
	}
	b.Statistics = func(id string) *Statistics {
		return &Statistics{Downloads: 7}
	}

	idx := b.Build([]*manifest.Manifest{
		sampleManifest("zeta", "1.0.0"),
		sampleManifest("with-artifact", "2.0.0"),
	})

	assert.Equal(t, "1.0", idx.Version)
	assert.Equal(t, 2, idx.TotalSkills)
	require.Len(t, idx.Skills, 2)

	// Sorted by skill id.
	assert.Equal(t, "with-artifact", idx.Skills[0].Name)
	assert.Equal(t, "zeta", idx.Skills[1].Name)

	assert.Equal(t, Checksum([]byte("artifact-bytes")), idx.Skills[0].Checksum)
	assert.Equal(t, Checksum([]byte("acme:zeta:1.0.0")), idx.Skills[1].Checksum)
	assert.Equal(t, "https://skills.example.com/artifacts/acme/zeta-1.0.0.zip", idx.Skills[1].DownloadURL)
	assert.Equal(t, 7, idx.Skills[0].Statistics.Downloads)

	require.Len(t, idx.SearchIndex, 2)
	record := idx.SearchIndex[1]
	assert.Equal(t, "acme/zeta@1.0.0", record.ID)
	assert.Equal(t, "zeta a sample skill for indexing sample testing", record.SearchText)
}

func TestBuilder_SkipsInvalidManifests(t *testing.T) {
	b := NewBuilder("https://skills.example.com")
	bad := sampleManifest("bad", "not-semver")

	idx := b.Build([]*manifest.Manifest{sampleManifest("good", "1.0.0"), bad})
	assert.Equal(t, 1, idx.TotalSkills)
	assert.Equal(t, "good", idx.Skills[0].Name)
}

func TestBuilder_DeterministicModuloGeneratedAt(t *testing.T) {
	build := func() []byte {
		b := NewBuilder("https://skills.example.com")
		b.SetNowFunc(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })
		idx := b.Build([]*manifest.Manifest{
			sampleManifest("beta", "1.0.0"),
			sampleManifest("alpha", "2.0.0"),
		})
		data, err := json.Marshal(idx)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, build(), build())
}

func TestChecksum_Stable(t *testing.T) {
	first := Checksum([]byte("payload"))
	assert.Equal(t, first, Checksum([]byte("payload")))
	assert.Contains(t, first, "sha256:")
	assert.Len(t, first, len("sha256:")+64)
}

func TestWriter_ModerationFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	b := NewBuilder("https://skills.example.com")
	idx := b.Build([]*manifest.Manifest{sampleManifest("tool", "1.0.0")})
	require.NoError(t, WriteFile(path, idx))

	w := NewWriter(path)
	require.NoError(t, w.SetBlacklisted("acme/tool@1.0.0", true))
	require.NoError(t, w.SetTakedown("acme/tool@1.0.0", true))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	entry := loaded.Find("acme/tool@1.0.0")
	require.NotNil(t, entry)
	assert.True(t, entry.Blacklisted)
	assert.True(t, entry.Takedown)

	require.ErrorIs(t, w.SetBlacklisted("acme/missing@1.0.0", true), ErrEntryNotFound)
}

func TestCrawler_FrontMatter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "skills", "parser"), 0o755))

	skillDoc := `---
name: "  log-parser "
version: 1.0.0
publisher: acme
description: Parses structured logs into fields.
license: MIT
tags: ["logs", "", "  parsing  "]
dependencies:
  regex-lib: " ^1.0.0 "
---

# Log parser

Usage notes.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skills", "parser", "SKILL.md"), []byte(skillDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# no front matter\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("---\nname: x\n---\n"), 0o644))

	manifests, err := NewCrawler(dir).Crawl()
	require.NoError(t, err)
	require.Len(t, manifests, 1)

	m := manifests[0]
	assert.Equal(t, "log-parser", m.Name)
	assert.Equal(t, []string{"logs", "parsing"}, m.Tags)
	assert.Equal(t, "^1.0.0", m.Dependencies["regex-lib"])
}

func TestCrawler_MalformedFrontMatterFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"),
		[]byte("---\nname: [unclosed\n---\n"), 0o644))

	_, err := NewCrawler(dir).Crawl()
	require.Error(t, err)
}
