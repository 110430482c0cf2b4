package index

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/owlhub/platform/pkg/registry/manifest"
)

const frontMatterDelimiter = "---"

// Crawler scans a repository tree for skill manifests written as YAML
// front-matter in markdown files.
type Crawler struct {
	root string
}

// NewCrawler creates a crawler rooted at dir.
func NewCrawler(dir string) *Crawler {
	return &Crawler{root: dir}
}

// Crawl walks the tree and returns every parsed manifest, normalized.
// Files without front-matter are skipped silently; malformed
// front-matter fails the crawl.
func (c *Crawler) Crawl() ([]*manifest.Manifest, error) {
	var manifests []*manifest.Manifest

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		block, ok := frontMatter(string(data))
		if !ok {
			return nil
		}

		var m manifest.Manifest
		if err := yaml.Unmarshal([]byte(block), &m); err != nil {
			return fmt.Errorf("parse front-matter of %s: %w", path, err)
		}
		manifests = append(manifests, normalize(&m))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifests, nil
}

// frontMatter extracts the YAML block between the leading pair of
// "---" lines.
func frontMatter(content string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelimiter {
		return "", false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelimiter {
			return strings.Join(lines[1:i], "\n"), true
		}
	}
	return "", false
}

// normalize trims identity fields, drops empty tags, and trims
// dependency constraints.
func normalize(m *manifest.Manifest) *manifest.Manifest {
	m.Name = strings.TrimSpace(m.Name)
	m.Publisher = strings.TrimSpace(m.Publisher)
	m.Version = strings.TrimSpace(m.Version)
	m.Description = strings.TrimSpace(m.Description)
	m.License = strings.TrimSpace(m.License)

	var tags []string
	for _, tag := range m.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	m.Tags = tags

	if m.Dependencies != nil {
		deps := make(map[string]string, len(m.Dependencies))
		for name, constraint := range m.Dependencies {
			deps[strings.TrimSpace(name)] = strings.TrimSpace(constraint)
		}
		m.Dependencies = deps
	}
	return m
}
