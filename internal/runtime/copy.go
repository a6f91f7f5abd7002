package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, path string) error {
	return c.mustExec(ctx, "mkdir", nil, "mkdir", "-p", path)
}

// Extracts a tar stream into the container's filesystem.
//
// The contents of r are piped to "tar xf - -C destDir" inside the container,
// so entry ownership and modes are those recorded in the archive.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, "tar", "xf", "-", "-C", destDir)
}

// Runs a helper command inside the container, failing with desc and the
// captured stderr when it exits non-zero.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, args ...string) error {
	res, err := c.exec(ctx, execRequest{args: args, stdin: stdin})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrRuntime, desc, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
