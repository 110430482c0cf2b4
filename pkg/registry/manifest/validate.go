package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	minDescriptionLength = 10
	maxDescriptionLength = 500
)

// kebabCase matches skill and publisher names.
var kebabCase = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidationErrors collects every violation found in one pass.
type ValidationErrors struct {
	Violations []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("invalid manifest: %s", strings.Join(e.Violations, "; "))
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// Validate checks m against the manifest rules and reports all
// violations at once.
func Validate(m *Manifest) error {
	errs := &ValidationErrors{}

	if m.Name == "" {
		errs.add("name is required")
	} else if !kebabCase.MatchString(m.Name) {
		errs.add("name %q must be kebab-case", m.Name)
	}

	if m.Publisher == "" {
		errs.add("publisher is required")
	} else if !kebabCase.MatchString(m.Publisher) {
		errs.add("publisher %q must be kebab-case", m.Publisher)
	}

	if m.Version == "" {
		errs.add("version is required")
	} else if _, err := semver.StrictNewVersion(m.Version); err != nil {
		errs.add("version %q is not strict semver", m.Version)
	}

	if m.Description == "" {
		errs.add("description is required")
	} else if n := len(m.Description); n < minDescriptionLength || n > maxDescriptionLength {
		errs.add("description length %d outside [%d, %d]", n, minDescriptionLength, maxDescriptionLength)
	}

	if m.License == "" {
		errs.add("license is required")
	}

	if m.VersionState != "" && !m.VersionState.IsValid() {
		errs.add("version_state %q must be draft, released, or deprecated", m.VersionState)
	}

	for name, constraint := range m.Dependencies {
		if !kebabCase.MatchString(name) {
			errs.add("dependency name %q must be kebab-case", name)
		}
		if _, err := ParseConstraint(constraint); err != nil {
			errs.add("dependency %s: %v", name, err)
		}
	}

	if len(errs.Violations) > 0 {
		return errs
	}
	return nil
}
