package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strings"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Snapshotter used when the configuration leaves it empty.
	defaultSnapshotter = "fuse-overlayfs"

	// OCI runtime shim used when the configuration leaves it empty.
	defaultOCIRuntime = "io.containerd.runc.v2"
)

// Connection settings for [New].
type Config struct {
	Address     string // Containerd socket address.
	Namespace   string // Containerd namespace scoping all images and containers.
	Snapshotter string // Snapshotter for container filesystems.
	OCIRuntime  string // Runtime shim for tasks.
}

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for all unpacks and containers.
	ociRuntime  string             // Runtime shim for all tasks.
}

// A resolved image: its containerd name and the digest of its root descriptor.
type Image struct {
	Name   string
	Digest digest.Digest
}

// Creates a runtime connected to the containerd socket in cfg.
//
// The runtime must be closed when no longer needed.
func New(cfg Config) (*Runtime, error) {
	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	rt := &Runtime{
		client:      client,
		snapshotter: cfg.Snapshotter,
		ociRuntime:  cfg.OCIRuntime,
	}
	if rt.snapshotter == "" {
		rt.snapshotter = defaultSnapshotter
	}
	if rt.ociRuntime == "" {
		rt.ociRuntime = defaultOCIRuntime
	}
	return rt, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Makes a base image available for the target platform.
//
// When ref names an existing file it is imported as an OCI archive and
// tagged with a name derived from the path. Otherwise ref is a registry
// reference: it is normalised (for example "python:3.12-slim" becomes
// "docker.io/library/python:3.12-slim"), used as-is when already present in
// the namespace, and pulled when not. Either way the layers for the platform
// are unpacked. Every failure wraps [ErrResolve].
func (rt *Runtime) ResolveBase(ctx context.Context, ref, platform string) (Image, error) {
	var (
		img images.Image
		err error
	)

	if info, statErr := os.Stat(ref); statErr == nil && info.Mode().IsRegular() {
		img, err = rt.importBase(ctx, ref)
	} else {
		img, err = rt.pullBase(ctx, ref, platform)
	}
	if err != nil {
		return Image{}, fmt.Errorf("%w %q: %w", ErrResolve, ref, err)
	}

	if err := rt.unpackImage(ctx, img.Name, platform); err != nil {
		return Image{}, fmt.Errorf("%w %q: %w", ErrResolve, ref, err)
	}

	slog.Debug("base image resolved", "ref", ref, "image", img.Name, "digest", img.Target.Digest)
	return Image{Name: img.Name, Digest: img.Target.Digest}, nil
}

// Imports an OCI archive and tags it under a name derived from its path.
func (rt *Runtime) importBase(ctx context.Context, path string) (images.Image, error) {
	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return images.Image{}, err
	}

	tag := imageTag(path)
	if err := rt.putImage(ctx, tag, source); err != nil {
		return images.Image{}, err
	}

	source.Name = tag
	return source, nil
}

// Returns a registry image, pulling it only when the stored record lacks
// content for platform. Pulls are limited to one platform, so a record left
// by a build for another platform still needs a pull.
func (rt *Runtime) pullBase(ctx context.Context, ref, platform string) (images.Image, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return images.Image{}, err
	}
	name := named.String()

	p, err := platforms.Parse(platform)
	if err != nil {
		return images.Image{}, err
	}

	img, err := rt.client.ImageService().Get(ctx, name)
	switch {
	case err == nil:
		complete, err := platformComplete(ctx, rt.client.ContentStore(), img.Target, p)
		if err != nil {
			return images.Image{}, err
		}
		if complete {
			return img, nil
		}
		slog.Debug("stored base image lacks platform content", "image", name, "platform", platform)
	case !errdefs.IsNotFound(err):
		return images.Image{}, err
	}

	slog.Info("pulling base image", "image", name, "platform", platform)

	pulled, err := rt.client.Pull(ctx, name,
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return images.Image{}, err
	}

	return pulled.Metadata(), nil
}

// Reports whether the manifest, config and layers target needs on platform
// are all present in provider.
func platformComplete(ctx context.Context, provider content.Provider, target ocispec.Descriptor, platform ocispec.Platform) (bool, error) {
	available, _, _, missing, err := images.Check(ctx, provider, target, platforms.Only(platform))
	if err != nil {
		return false, err
	}
	return available && len(missing) == 0, nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// (a single index referencing per-platform manifests) are supported.
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	switch len(imported) {
	case 0:
		return images.Image{}, ErrEmptyArchive
	case 1:
		return imported[0], nil
	default:
		return images.Image{}, ErrMultipleImages
	}
}

// Points the image record name at source's target, creating or updating it.
//
// A differently named source record is removed to avoid duplicates.
func (rt *Runtime) putImage(ctx context.Context, name string, source images.Image) error {
	if err := storeImage(ctx, rt.client, name, source.Target); err != nil {
		return err
	}
	if source.Name != "" && source.Name != name {
		_ = rt.client.ImageService().Delete(ctx, source.Name)
	}
	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
//
// Layers whose snapshots already exist are skipped, so unpacking a committed
// image only applies the layers it added.
func (rt *Runtime) unpackImage(ctx context.Context, name, platform string) error {
	image, err := rt.resolveImage(ctx, name, platform)
	if err != nil {
		return err
	}
	return image.Unpack(ctx, rt.snapshotter)
}

// Looks up an image record and selects the manifest for the given platform.
func (rt *Runtime) resolveImage(ctx context.Context, name, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Reports whether an image record with the given name exists.
func (rt *Runtime) ImageExists(ctx context.Context, name string) (bool, error) {
	_, err := rt.client.ImageService().Get(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errdefs.IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
}

// Unpacks an image and starts a build container from it.
//
// Any existing container with the same ID is removed first. The container
// runs a long-lived "sleep infinity" task so that [Container.Exec] has a
// process to attach to. Building for a platform other than the host requires
// QEMU / binfmt_misc support in the kernel.
func (rt *Runtime) StartContainer(ctx context.Context, image, id, platform string) (*Container, error) {
	if err := rt.unpackImage(ctx, image, platform); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := rt.container(id, platform)
	c.Destroy(ctx)

	img, err := rt.resolveImage(ctx, image, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	ctr, err := c.create(ctx, img, "sleep", "infinity")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", image, "platform", platform)
	return c, nil
}

// Returns a container handle bound to this runtime's settings.
func (rt *Runtime) container(id, platform string) *Container {
	return &Container{
		client:      rt.client,
		id:          id,
		platform:    platform,
		snapshotter: rt.snapshotter,
		ociRuntime:  rt.ociRuntime,
	}
}

// Removes an image and every container created from it.
//
// Each container's task is killed before the container and its snapshot are
// deleted. A missing image is not an error.
func (rt *Runtime) DestroyImage(ctx context.Context, name string) error {
	ctrs, err := rt.client.Containers(ctx, fmt.Sprintf("image==%s", name))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %w", ErrRuntime, err)
		}
	}

	if err := rt.client.ImageService().Delete(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("image destroyed", "image", name)
	return nil
}

// Deletes every image whose name starts with prefix followed by a slash.
//
// Returns the number of images removed. Content is reclaimed by containerd's
// garbage collector once no record references it.
func (rt *Runtime) PruneImages(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: empty prune prefix", ErrRuntime)
	}

	is := rt.client.ImageService()
	all, err := is.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	var errs []error
	removed := 0
	for _, img := range all {
		if !strings.HasPrefix(img.Name, prefix+"/") {
			continue
		}
		if err := is.Delete(ctx, img.Name); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: %w", ErrRuntime, errors.Join(errs...))
	}
	return removed, nil
}

// Produces an image name for an archive path.
//
// The path is hashed so the name is a valid reference whatever characters
// the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Returns the OCI platform for the host architecture.
func DefaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
