package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	"github.com/emberhq/kilnd/internal/buildctx"
	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/google/uuid"
)

// Filename of the OCI archive written per platform.
const exportFilename = "image.tar"

// Holds shared state for building a recipe on every platform.
type pipeline struct {
	rt     Runtime           // Container runtime for image and container operations.
	bc     *buildctx.Context // Build context for COPY sources.
	opts   Options           // Normalized build options.
	id     string            // Build identifier, used as a prefix for container IDs.
	result *Result           // Accumulated result.
}

// Creates a new [pipeline] from the given options.
func newPipeline(rt Runtime, bc *buildctx.Context, opts Options) *pipeline {
	return &pipeline{
		rt:   rt,
		bc:   bc,
		opts: opts,
		id:   uuid.NewString()[:8],
		result: &Result{
			Output:       opts.Output,
			ExposedPorts: opts.Recipe.ExposedPorts(),
		},
	}
}

// Builds the recipe for every platform in order.
func (p *pipeline) build(ctx context.Context) (*Result, error) {
	for _, platform := range p.opts.Platforms {
		if err := p.buildPlatform(ctx, platform); err != nil {
			return nil, err
		}
	}
	return p.result, nil
}

// Runs the step sequence for one platform, then tags and exports the image.
//
// The final image is configured and exported only after every step has
// succeeded.
func (p *pipeline) buildPlatform(ctx context.Context, platform string) error {
	slog.Info("building platform", "platform", platform)

	base, err := p.rt.ResolveBase(ctx, p.baseRef(), platform)
	if err != nil {
		return fmt.Errorf("%w: platform %s: %w: %w", ErrBuild, platform, ErrResolve, err)
	}

	x := &execution{
		pipeline: p,
		platform: platform,
		parent:   base.Name,
		key:      baseKey(platform, base.Digest),
		state:    newStepState(p.opts.Shell),
		copied:   make(map[string]string),
	}

	total := len(p.opts.Recipe.Steps)
	for i, step := range p.opts.Recipe.Steps {
		slog.Info(fmt.Sprintf("step %d/%d: %s", i+1, total, step), "platform", platform)

		if err := x.step(ctx, i, step); err != nil {
			return fmt.Errorf("%w: platform %s, step %d (%s): %w", ErrBuild, platform, i+1, stepLabel(step), err)
		}
	}

	name, err := p.imageName(platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuild, err)
	}

	img, err := p.rt.Configure(ctx, x.parent, name, platform, x.imageConfig())
	if err != nil {
		return fmt.Errorf("%w: platform %s: %w", ErrBuild, platform, err)
	}

	if p.opts.Output != "" {
		output := p.platformOutput(platform)
		if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
		if err := p.rt.Export(ctx, img.Name, platform, filepath.Join(output, exportFilename)); err != nil {
			return fmt.Errorf("%w: platform %s: %w", ErrBuild, platform, err)
		}
	}

	p.result.Images = append(p.result.Images, img)
	p.result.Entrypoint = x.entrypoint()
	return nil
}

// Returns the base reference to resolve. Relative archive paths are taken
// from the build context.
func (p *pipeline) baseRef() string {
	from := p.opts.Recipe.From
	if recipe.IsArchive(from) && !filepath.IsAbs(from) {
		return filepath.Join(p.bc.Root(), filepath.FromSlash(from))
	}
	return from
}

// Returns the final image name for a platform.
//
// Multi-platform builds suffix the tag with the platform slug so each
// platform keeps its own record (e.g., "ratings:dev-linux-arm64").
func (p *pipeline) imageName(platform string) (string, error) {
	if len(p.opts.Platforms) == 1 {
		return p.opts.Tag, nil
	}

	named, err := reference.ParseDockerRef(p.opts.Tag)
	if err != nil {
		return "", err
	}

	tag := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}

	suffixed, err := reference.WithTag(reference.TrimNamed(named), tag+"-"+platformSlug(platform))
	if err != nil {
		return "", err
	}
	return suffixed.String(), nil
}

// Returns a container ID unique to this build, platform, and step.
func (p *pipeline) containerID(platform string, index int) string {
	return fmt.Sprintf("kilnd-%s-%s-step-%d", p.id, platformSlug(platform), index+1)
}

// Returns the output directory for a specific platform.
//
// A single-platform build writes to the output directory itself, so the
// archive is {output}/image.tar. Multi-platform builds use a subdirectory per
// platform (e.g., {output}/linux-amd64).
func (p *pipeline) platformOutput(platform string) string {
	if len(p.opts.Platforms) == 1 {
		return p.opts.Output
	}
	return filepath.Join(p.opts.Output, platformSlug(platform))
}

// Converts a platform string to a filesystem-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}

// Returns a label for error messages, preferring the recipe line.
func stepLabel(step recipe.Step) string {
	if step.Line > 0 {
		return fmt.Sprintf("line %d, %s", step.Line, step.Kind)
	}
	return string(step.Kind)
}
