// Package manifest defines the skill manifest model and its validator.
package manifest

import (
	"fmt"
)

// VersionState is the publication state of one skill version.
type VersionState string

const (
	StateDraft      VersionState = "draft"
	StateReleased   VersionState = "released"
	StateDeprecated VersionState = "deprecated"
)

// IsValid reports whether s is a known version state.
func (s VersionState) IsValid() bool {
	switch s {
	case StateDraft, StateReleased, StateDeprecated:
		return true
	}
	return false
}

// Manifest describes one skill version.
type Manifest struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version" yaml:"version"`
	Publisher   string            `json:"publisher" yaml:"publisher"`
	Description string            `json:"description" yaml:"description"`
	License     string            `json:"license" yaml:"license"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Repository  string            `json:"repository,omitempty" yaml:"repository,omitempty"`
	Homepage    string            `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	VersionState VersionState     `json:"version_state,omitempty" yaml:"version_state,omitempty"`
}

// ID is the canonical skill identity: publisher/name@version.
func (m *Manifest) ID() string {
	return fmt.Sprintf("%s/%s@%s", m.Publisher, m.Name, m.Version)
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	out := *m
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.Dependencies != nil {
		out.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			out.Dependencies[k] = v
		}
	}
	return &out
}
