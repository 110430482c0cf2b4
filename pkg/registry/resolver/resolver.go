// Package resolver computes topologically ordered install plans from
// skill dependency graphs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/owlhub/platform/pkg/registry/manifest"
)

// ErrCircularDependency marks a cycle in the dependency graph.
var ErrCircularDependency = errors.New("circular dependency")

// ErrDependencyConflict marks two constraints no single version can
// satisfy.
var ErrDependencyConflict = errors.New("dependency conflict")

// CandidateProvider supplies all known versions of a named skill.
type CandidateProvider interface {
	GetCandidates(ctx context.Context, name string) ([]*manifest.Manifest, error)
}

// CandidateFunc adapts a function to CandidateProvider.
type CandidateFunc func(ctx context.Context, name string) ([]*manifest.Manifest, error)

func (f CandidateFunc) GetCandidates(ctx context.Context, name string) ([]*manifest.Manifest, error) {
	return f(ctx, name)
}

type resolution struct {
	ctx      context.Context
	provider CandidateProvider
	// selected maps name to the manifest chosen for it.
	selected map[string]*manifest.Manifest
	// visiting tracks the active DFS path for cycle detection.
	visiting map[string]bool
	plan     []*manifest.Manifest
}

// Resolve walks root's dependency graph depth-first and returns the
// install plan in post-order: every dependency precedes its dependents,
// and root is last.
func Resolve(ctx context.Context, root *manifest.Manifest, provider CandidateProvider) ([]*manifest.Manifest, error) {
	r := &resolution{
		ctx:      ctx,
		provider: provider,
		selected: map[string]*manifest.Manifest{root.Name: root},
		visiting: make(map[string]bool),
	}
	if err := r.visit(root); err != nil {
		return nil, err
	}
	return r.plan, nil
}

func (r *resolution) visit(m *manifest.Manifest) error {
	r.visiting[m.Name] = true
	defer delete(r.visiting, m.Name)

	// Deterministic traversal order.
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		constraint, err := manifest.ParseConstraint(m.Dependencies[name])
		if err != nil {
			return fmt.Errorf("%s depends on %s: %w", m.ID(), name, err)
		}

		if r.visiting[name] {
			return fmt.Errorf("%w: %s -> %s", ErrCircularDependency, m.Name, name)
		}

		if chosen, ok := r.selected[name]; ok {
			// Already resolved elsewhere in the graph: the current
			// constraint must still hold for the chosen version.
			version, err := semver.StrictNewVersion(chosen.Version)
			if err != nil {
				return fmt.Errorf("resolved %s has invalid version %q", name, chosen.Version)
			}
			if !constraint.Satisfies(version) {
				return fmt.Errorf("%w: %s requires %s %s but %s is selected",
					ErrDependencyConflict, m.ID(), name, constraint.Raw, chosen.Version)
			}
			continue
		}

		chosen, err := r.pick(name, constraint)
		if err != nil {
			return fmt.Errorf("%s depends on %s: %w", m.ID(), name, err)
		}
		r.selected[name] = chosen
		if err := r.visit(chosen); err != nil {
			return err
		}
	}

	r.plan = append(r.plan, m)
	return nil
}

// pick selects the highest candidate version satisfying the constraint.
func (r *resolution) pick(name string, constraint *manifest.Constraint) (*manifest.Manifest, error) {
	candidates, err := r.provider.GetCandidates(r.ctx, name)
	if err != nil {
		return nil, err
	}

	var best *manifest.Manifest
	var bestVersion *semver.Version
	for _, candidate := range candidates {
		if candidate.Name != name {
			continue
		}
		version, err := semver.StrictNewVersion(candidate.Version)
		if err != nil {
			continue
		}
		if !constraint.Satisfies(version) {
			continue
		}
		if bestVersion == nil || version.GreaterThan(bestVersion) {
			best = candidate
			bestVersion = version
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no candidate satisfies %s", constraint.Raw)
	}
	return best, nil
}
