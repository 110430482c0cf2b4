package manifest

import (
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	return &Manifest{
		Name:        "log-parser",
		Version:     "1.2.3",
		Publisher:   "acme-tools",
		Description: "Parses structured logs into fields.",
		License:     "Apache-2.0",
		Tags:        []string{"logs", "parsing"},
		Dependencies: map[string]string{
			"regex-lib": "^1.0.0",
		},
		VersionState: StateReleased,
	}
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, Validate(validManifest()))
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	m := &Manifest{
		Name:        "Bad_Name",
		Version:     "1.2",
		Publisher:   "",
		Description: "too short",
		License:     "",
		Dependencies: map[string]string{
			"dep": ">1.0.0",
		},
	}

	err := Validate(m)
	require.Error(t, err)
	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs.Violations, 6)
	assert.Contains(t, err.Error(), "kebab-case")
	assert.Contains(t, err.Error(), "strict semver")
}

func TestValidate_FieldRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		message string
	}{
		{"uppercase name", func(m *Manifest) { m.Name = "LogParser" }, "kebab-case"},
		{"trailing hyphen", func(m *Manifest) { m.Name = "log-" }, "kebab-case"},
		{"version with v prefix", func(m *Manifest) { m.Version = "v1.2.3" }, "strict semver"},
		{"partial version", func(m *Manifest) { m.Version = "1.2" }, "strict semver"},
		{"description too long", func(m *Manifest) { m.Description = strings.Repeat("x", 501) }, "outside"},
		{"unknown state", func(m *Manifest) { m.VersionState = "published" }, "version_state"},
		{"bad constraint", func(m *Manifest) { m.Dependencies = map[string]string{"dep": "1.x"} }, "constraint"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := validManifest()
			tc.mutate(m)
			err := Validate(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestParseConstraint_Semantics(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"=1.2.3", "1.2.3", true},
		{"=1.2.3", "1.2.4", false},
		{"1.2.3", "1.2.3", true},
		{"^1.2.3", "1.9.0", true},
		{"^1.2.3", "2.0.0", false},
		{"^1.2.3", "1.2.2", false},
		{"~1.2.3", "1.2.9", true},
		{"~1.2.3", "1.3.0", false},
		{">=1.0.0,<2.0.0", "1.0.0", true},
		{">=1.0.0,<2.0.0", "1.9.9", true},
		{">=1.0.0,<2.0.0", "2.0.0", false},
	}

	for _, tc := range tests {
		c, err := ParseConstraint(tc.constraint)
		require.NoError(t, err, tc.constraint)
		v := semver.MustParse(tc.version)
		assert.Equal(t, tc.want, c.Satisfies(v), "%s vs %s", tc.constraint, tc.version)
	}
}

func TestParseConstraint_RejectsOtherForms(t *testing.T) {
	for _, raw := range []string{">1.0.0", "1.x", "*", ">=1.0.0", "<2.0.0", "^1.2", "~1", ""} {
		_, err := ParseConstraint(raw)
		assert.Error(t, err, raw)
	}
}

func TestConstraint_IgnoresPrereleaseMetadata(t *testing.T) {
	c, err := ParseConstraint("^1.2.0")
	require.NoError(t, err)
	v := semver.MustParse("1.3.0-beta.1+build.5")
	assert.True(t, c.Satisfies(v))
}

func TestManifestID(t *testing.T) {
	m := validManifest()
	assert.Equal(t, "acme-tools/log-parser@1.2.3", m.ID())
}

func TestManifestClone_Independent(t *testing.T) {
	m := validManifest()
	c := m.Clone()
	c.Tags[0] = "changed"
	c.Dependencies["regex-lib"] = "=9.9.9"
	assert.Equal(t, "logs", m.Tags[0])
	assert.Equal(t, "^1.0.0", m.Dependencies["regex-lib"])
}
