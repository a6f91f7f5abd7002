package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Program name, used for the binary, logger prefix, and XDG subdirectories.
	Name = "kilnd"

	// Placeholder for a linker variable that was not set.
	undefined = "(undefined)"

	// Reported instead of a version string for developer builds.
	localBuild = "(local)"

	// Release branch. Builds from it omit the stage suffix.
	releaseBranch = "main"
)

var (
	version   = "" // Release version, e.g. "0.4.1" or "v0.4.1".
	stage     = "" // Branch the binary was built from.
	gitCommit = "" // Short commit hash.

	rawQuiet   = "false" // Default for quiet mode.
	rawDebug   = "false" // Default for debug mode.
	rawVerbose = "false" // Default for verbose mode.
)

// Returns the release version without a leading "v".
//
// Returns "(undefined)" when the version was not injected at link time.
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return undefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the branch the binary was built from, lowercased.
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return undefined
	}
	return strings.ToLower(s)
}

// Returns the commit hash the binary was built from.
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return undefined
	}
	return c
}

// Returns the architecture the binary was compiled for.
func Arch() string {
	return runtime.GOARCH
}

// Reports whether this binary was built outside the release pipeline.
//
// The pipeline injects version, stage, and commit together; a missing value
// means a developer build.
func IsLocal() bool {
	for _, v := range []string{version, stage, gitCommit} {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// Returns the human-readable build identifier.
//
// Developer builds report "(local)". Pipeline builds report
// "<version>[+<stage>] <commit> [<arch>]", where the stage is omitted for
// release-branch builds.
func VersionString() string {
	if IsLocal() {
		return localBuild
	}

	suffix := ""
	if s := Stage(); s != releaseBranch {
		suffix = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s]", Version(), suffix, GitCommit(), Arch())
}
