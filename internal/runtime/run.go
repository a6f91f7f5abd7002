package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/errdefs"
)

// Time a cancelled run is given to exit after SIGTERM before it is killed.
const stopGracePeriod = 10 * time.Second

// Exit code reported when the entrypoint executable cannot be started,
// matching the shell convention for "command not found".
const ExitEntrypointMissing = 127

// Starts a container from image running its configured entrypoint, waits
// for it to exit, and returns the exit code.
//
// The entrypoint is started exactly once. Output is streamed to stdout and
// stderr. If the image has no entrypoint or its executable is missing the
// container never runs and [ExitEntrypointMissing] is returned with an error
// wrapping [ErrEntrypoint]. Other start failures wrap [ErrRuntime]. A
// non-zero exit of a started entrypoint is returned as the code, not as an
// error. Cancelling ctx sends SIGTERM, followed by SIGKILL after a grace
// period. The container is removed before returning.
func (rt *Runtime) RunImage(ctx context.Context, image, id, platform string, stdout, stderr io.Writer) (int, error) {
	if err := rt.unpackImage(ctx, image, platform); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	img, err := rt.resolveImage(ctx, image, platform)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	spec, err := img.Spec(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if len(spec.Config.Entrypoint) == 0 && len(spec.Config.Cmd) == 0 {
		return ExitEntrypointMissing, fmt.Errorf("%w: image %s defines no entrypoint", ErrEntrypoint, image)
	}

	c := rt.container(id, platform)
	c.Destroy(ctx)

	ctr, err := c.create(ctx, img)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer c.Destroy(context.WithoutCancel(ctx))

	task, err := ctr.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, stdout, stderr)))
	if err != nil {
		return startError(err)
	}

	statusC, err := task.Wait(context.WithoutCancel(ctx))
	if err != nil {
		task.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return startError(err)
	}

	slog.Info("container running", "id", id, "image", image)

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		status = stopTask(context.WithoutCancel(ctx), task, statusC)
	}

	task.Delete(context.WithoutCancel(ctx))

	code, _, err := status.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("container exited", "id", id, "code", code)
	return int(code), nil
}

// Substrings of OCI runtime errors reporting a missing entrypoint
// executable. runc reports these through the shim as plain messages.
var missingExecutable = []string{
	"executable file not found",
	"no such file or directory",
}

// Classifies a failure to create or start the entrypoint task.
//
// A missing executable is an entrypoint failure with
// [ExitEntrypointMissing]. Anything else, such as a cgroup or shim error, is
// a runtime failure with no exit code.
func startError(err error) (int, error) {
	if errdefs.IsNotFound(err) {
		return ExitEntrypointMissing, fmt.Errorf("%w: %w", ErrEntrypoint, err)
	}
	msg := err.Error()
	for _, s := range missingExecutable {
		if strings.Contains(msg, s) {
			return ExitEntrypointMissing, fmt.Errorf("%w: %w", ErrEntrypoint, err)
		}
	}
	return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
}

// Signals a task to terminate and waits for its exit status, escalating to
// SIGKILL once the grace period passes.
func stopTask(ctx context.Context, task containerd.Task, statusC <-chan containerd.ExitStatus) containerd.ExitStatus {
	task.Kill(ctx, syscall.SIGTERM)

	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()

	select {
	case status := <-statusC:
		return status
	case <-timer.C:
		task.Kill(ctx, syscall.SIGKILL)
		return <-statusC
	}
}
