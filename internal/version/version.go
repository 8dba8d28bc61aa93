// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the semantic version of the flowwatch binary.
	Version = "dev"
	// Commit is the git commit hash of the build.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
