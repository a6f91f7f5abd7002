package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/distribution/reference"
	"github.com/emberhq/kilnd/internal/buildctx"
	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/emberhq/kilnd/internal/runtime"
)

// Cache prefix used when [Options.CachePrefix] is empty.
const defaultCachePrefix = "kilnd-cache"

// Controls recipe execution.
type Options struct {
	Recipe      *recipe.Recipe // Recipe to execute.
	Tag         string         // Name of the final image (e.g., "ratings:dev").
	Output      string         // Directory for exported archives. Empty skips export.
	Root        string         // Build context directory, for resolving COPY sources.
	Platforms   []string       // Target platforms (e.g., ["linux/amd64"]). Defaults to host.
	NoCache     bool           // Execute every layer step even when a cache image exists.
	Strict      bool           // Abort on lint findings instead of logging them.
	CachePrefix string         // Repository prefix of cache images.
	Shell       string         // Shell for shell-form RUN steps.
}

// Returned after successful recipe execution.
type Result struct {
	Output       string          // Directory containing the exported archives.
	Images       []runtime.Image // Final image per platform, in platform order.
	Steps        []StepResult    // Executed steps across all platforms.
	CacheHits    int             // Layer steps skipped because a cache image existed.
	ExposedPorts []string        // Declared ports in "port/proto" form. Advisory only.
	Entrypoint   []string        // Argv a container of the image starts with.
	Duration     time.Duration   // Wall time of the build.
}

// Outcome of a single step on one platform.
type StepResult struct {
	Platform    string      // Platform the step ran for.
	Index       int         // 1-based position in the recipe.
	Line        int         // Recipe line, 0 for synthesised recipes.
	Instruction recipe.Kind // Instruction keyword.
	Text        string      // Canonical instruction text.
	Cached      bool        // Layer step satisfied from the cache.
	Image       string      // Image produced by a layer step.
}

// Executes a recipe against the container runtime.
//
// Each platform is built independently and in order. The recipe is linted
// first; with [Options.Strict] any finding aborts before the runtime is
// touched. On success every platform's final image is stored under the tag
// and, when an output directory is set, exported as an OCI archive.
func Run(ctx context.Context, rt Runtime, opts Options) (*Result, error) {
	start := time.Now()

	if err := normalize(&opts); err != nil {
		return nil, err
	}

	if err := lint(opts.Recipe, opts.Strict); err != nil {
		return nil, err
	}

	bc, err := buildctx.Open(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	slog.Info("executing recipe",
		"tag", opts.Tag,
		"context", bc.Root(),
		"output", opts.Output,
		"steps", len(opts.Recipe.Steps),
		"platforms", opts.Platforms,
	)

	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
	}

	result, err := newPipeline(rt, bc, opts).build(ctx)
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	slog.Info("build complete",
		"tag", opts.Tag,
		"cache_hits", result.CacheHits,
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// Validates options and fills in defaults.
func normalize(opts *Options) error {
	if opts.Recipe == nil {
		return fmt.Errorf("%w: no recipe", ErrInvalidOptions)
	}
	if opts.Tag == "" {
		return fmt.Errorf("%w: no tag", ErrInvalidOptions)
	}

	named, err := reference.ParseDockerRef(opts.Tag)
	if err != nil {
		return fmt.Errorf("%w: tag %q: %w", ErrInvalidOptions, opts.Tag, err)
	}
	opts.Tag = named.String()

	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{runtime.DefaultPlatform()}
	}
	if opts.CachePrefix == "" {
		opts.CachePrefix = defaultCachePrefix
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	return nil
}

// Reports lint findings, failing in strict mode.
func lint(r *recipe.Recipe, strict bool) error {
	findings := recipe.Lint(r)
	for _, f := range findings {
		slog.Warn("recipe lint", "rule", f.Rule, "line", f.Line, "message", f.Message)
	}
	if strict && len(findings) > 0 {
		return fmt.Errorf("%w: %w: %d finding(s), first: %s", ErrBuild, ErrLint, len(findings), findings[0])
	}
	return nil
}
