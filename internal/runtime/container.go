package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// A running build container backed by containerd.
type Container struct {
	client      *containerd.Client // Containerd client for managing the container.
	id          string             // Containerd container ID, also the snapshot key.
	platform    string             // OCI platform (e.g., "linux/amd64").
	snapshotter string             // Snapshotter holding the container filesystem.
	ociRuntime  string             // Runtime shim for the container task.
}

// Stops the container's task.
//
// The running task is killed and deleted. The container and its snapshot are
// preserved so the filesystem can still be committed. Calling Stop on an
// already-stopped container is not an error.
func (c *Container) Stop(ctx context.Context) error {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := killTask(ctx, ctr); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return nil
}

// Removes the container and its snapshot.
//
// Failures are logged rather than returned since Destroy runs on cleanup
// paths, including before a container is created under a reused ID. After
// destruction the handle is invalid.
func (c *Container) Destroy(ctx context.Context) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if errdefs.IsNotFound(err) {
		return
	}
	if err != nil {
		slog.Warn("failed to load container for destruction", "id", c.id, "error", err)
		return
	}

	if err := killTask(ctx, ctr); err != nil {
		slog.Warn("failed to stop container task", "id", c.id, "error", err)
	}
	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to delete container", "id", c.id, "error", err)
	}
}

// Kills and deletes the task of ctr, if it has one.
func killTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.Task(ctx, nil)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
		slog.Debug("kill failed, deleting task anyway", "container", ctr.ID(), "error", err)
	}
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Creates the containerd container with the given process arguments.
//
// Networking uses the host namespace and resolv.conf so package installers
// can reach their indexes. With no args the image's own entrypoint and
// command are used.
func (c *Container) create(ctx context.Context, image containerd.Image, args ...string) (containerd.Container, error) {
	opts := []oci.SpecOpts{
		oci.WithDefaultSpecForPlatform(c.platform),
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostResolvconf,
	}
	if len(args) > 0 {
		opts = append(opts, oci.WithProcessArgs(args...))
	}

	return c.client.NewContainer(ctx, c.id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(c.snapshotter),
		containerd.WithNewSnapshot(c.id, image),
		containerd.WithRuntime(c.ociRuntime, nil),
		containerd.WithNewSpec(opts...),
	)
}

// Starts the long-running task of a build container. Steps attach their own
// processes to it, so the task itself has no IO.
func (c *Container) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}
