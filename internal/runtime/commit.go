package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Commits the container's filesystem changes as a new image.
//
// The diff between the container's snapshot and its parent becomes a layer
// appended to the parent image, cfg is applied to the config, and the result
// is stored under name, replacing any record with that name. The parent image
// record is never modified. The container should be stopped first so the
// snapshot is quiescent.
func (c *Container) Commit(ctx context.Context, name string, cfg ImageConfig) (Image, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer done(context.WithoutCancel(ctx))

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	editor := &manifestEditor{client: c.client, platform: c.platform}
	target, err := editor.edit(ctx, info.Image, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		manifest.Layers = append(manifest.Layers, layer)
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)
		cfg.apply(config)
	})
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := storeImage(ctx, c.client, name, target); err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container committed", "id", c.id, "image", name, "layer", layer.Digest)
	return Image{Name: name, Digest: target.Digest}, nil
}

// Computes the diff between the container's snapshot and its parent,
// returning the layer descriptor and its uncompressed diff ID.
func (c *Container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Stores a copy of src under dst with cfg applied to its config.
//
// No layer is added. This is how metadata (working directory, environment,
// exposed ports, entrypoint) is attached to a finished image.
func (rt *Runtime) Configure(ctx context.Context, src, dst, platform string, cfg ImageConfig) (Image, error) {
	ctx, done, err := rt.client.WithLease(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer done(context.WithoutCancel(ctx))

	editor := &manifestEditor{client: rt.client, platform: platform}
	target, err := editor.edit(ctx, src, func(_ *ocispec.Manifest, config *ocispec.Image) {
		cfg.apply(config)
	})
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := storeImage(ctx, rt.client, dst, target); err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("image configured", "source", src, "image", dst)
	return Image{Name: dst, Digest: target.Digest}, nil
}

// Writes an image to an OCI tar archive at path.
//
// Only the manifest for platform is included. The archive is written to a
// temporary file beside path and renamed into place, so a failed export
// leaves no partial archive behind.
func (rt *Runtime) Export(ctx context.Context, image, platform, path string) error {
	img, err := rt.client.ImageService().Get(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	err = rt.client.Export(ctx, tmp,
		archive.WithManifest(img.Target, image),
		archive.WithPlatform(platforms.Only(p)),
	)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("image exported", "image", image, "path", path)
	return nil
}
