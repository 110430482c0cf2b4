package manifest

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Constraint grammar: exactly one of `=X.Y.Z` (or bare `X.Y.Z`),
// `^X.Y.Z`, `~X.Y.Z`, `>=A,<B`. Checked syntactically before handing
// off to the semver constraint engine.
var (
	exactConstraint = regexp.MustCompile(`^=?(\d+\.\d+\.\d+)$`)
	caretConstraint = regexp.MustCompile(`^\^(\d+\.\d+\.\d+)$`)
	tildeConstraint = regexp.MustCompile(`^~(\d+\.\d+\.\d+)$`)
	rangeConstraint = regexp.MustCompile(`^>=(\d+\.\d+\.\d+),<(\d+\.\d+\.\d+)$`)
)

// Constraint is a parsed version constraint.
type Constraint struct {
	// Raw is the constraint as written in the manifest.
	Raw   string
	check *semver.Constraints
}

// ParseConstraint parses one of the four supported constraint forms.
func ParseConstraint(raw string) (*Constraint, error) {
	var expr string
	switch {
	case exactConstraint.MatchString(raw):
		expr = "=" + exactConstraint.FindStringSubmatch(raw)[1]
	case caretConstraint.MatchString(raw):
		expr = raw
	case tildeConstraint.MatchString(raw):
		expr = raw
	case rangeConstraint.MatchString(raw):
		parts := rangeConstraint.FindStringSubmatch(raw)
		expr = fmt.Sprintf(">=%s, <%s", parts[1], parts[2])
	default:
		return nil, fmt.Errorf("constraint %q must be =X.Y.Z, ^X.Y.Z, ~X.Y.Z, or >=A,<B", raw)
	}

	check, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("constraint %q: %w", raw, err)
	}
	return &Constraint{Raw: raw, check: check}, nil
}

// Satisfies reports whether version meets the constraint. Pre-release
// and build metadata are ignored for the comparison.
func (c *Constraint) Satisfies(version *semver.Version) bool {
	core, err := version.SetPrerelease("")
	if err != nil {
		return c.check.Check(version)
	}
	core, err = core.SetMetadata("")
	if err != nil {
		return c.check.Check(version)
	}
	return c.check.Check(&core)
}
