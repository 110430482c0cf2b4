// Package version reports the build's identity for logs and
// user-agent strings.
//
// The commit hash comes from -ldflags when injected, falling back to
// the VCS revision the Go toolchain embeds, then to "dev".
package version

import "runtime/debug"

// AppName prefixes every version string the platform emits.
const AppName = "owlhub"

// gitCommitOverride is injected with
// -ldflags "-X .../pkg/version.gitCommitOverride=<sha>" for builds
// without a .git directory.
var gitCommitOverride string

// GitCommit is the short (8 character) commit hash, or "dev" when no
// build metadata is available.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "owlhub/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
