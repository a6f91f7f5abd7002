package cli

import (
	"context"
	"os"

	"github.com/emberhq/kilnd/internal/protocol"
)

// Represents the 'kilnd run' command.
type RunCmd struct {
	Image    string `arg:"" help:"Image to run."`
	Platform string `short:"p" help:"Platform variant of the image."`
}

// Executes the run command.
//
// The container's output is copied to this process's stdout and stderr, and
// its exit status becomes this process's exit status. Interrupting the
// command stops the container.
func (c *RunCmd) Run(ctx context.Context) error {
	req := &protocol.RunRequest{Image: c.Image, Platform: c.Platform}

	var res protocol.RunResult
	if err := daemon().Stream(ctx, protocol.CmdRun, req, &res, os.Stdout, os.Stderr); err != nil {
		return err
	}

	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}
