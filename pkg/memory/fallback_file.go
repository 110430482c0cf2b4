package memory

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/owlhub/platform/pkg/memory/store"
)

// fallbackFile appends entries to a human-readable file when the store
// is unavailable. Each record is a six-line YAML-like block; fields are
// sanitized so each stays on its line: newlines in content are escaped
// and commas in tags replaced.
type fallbackFile struct {
	mu   sync.Mutex
	path string
}

func newFallbackFile(path string) *fallbackFile {
	return &fallbackFile{path: path}
}

// Append writes one record and returns the id assigned to it.
func (f *fallbackFile) Append(entry *store.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	tags := make([]string, len(entry.Tags))
	for i, t := range entry.Tags {
		tags[i] = strings.ReplaceAll(t, ",", ";")
	}
	content := strings.ReplaceAll(entry.Content, "\n", "\\n")

	record := fmt.Sprintf("- id: %s\n  tenant_id: %s\n  agent_id: %s\n  security_level: %s\n  tags: [%s]\n  content: %s\n",
		id, entry.TenantID, entry.AgentID, entry.SecurityLevel, strings.Join(tags, ", "), content)

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open fallback file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(record); err != nil {
		return "", fmt.Errorf("append fallback record: %w", err)
	}
	return id, nil
}
