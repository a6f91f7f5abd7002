// Package build executes recipes against a container runtime.
//
// A recipe is a base image followed by an ordered list of steps. Steps that
// change the filesystem (COPY and RUN) each run in a fresh container started
// from the previous step's image, and the result is committed as a cache
// image named after a key chained from the base image digest and every
// layer step so far. When the cache image already exists the step is
// skipped. Metadata steps (WORKDIR, ENV, EXPOSE, CMD, ENTRYPOINT, LABEL) only
// update the step state and the final image config, so editing them never
// invalidates a cached layer.
//
// Ordering a dependency manifest COPY and its install RUN before the COPY of
// the remaining source keeps the install layer cached across source edits.
// A COPY of a directory skips files an earlier COPY already placed at the
// same path from the same source.
//
// The first failing step aborts the build. The failing step is never
// committed, and neither the final tag nor the output archive is produced.
// Multi-platform builds repeat the pipeline per platform, writing each
// archive to a platform-specific output directory.
//
// Example usage:
//
//	r, err := recipe.ParseFile("Containerfile")
//	if err != nil {
//	    return err
//	}
//
//	result, err := build.Run(ctx, build.FromContainerd(rt), build.Options{
//	    Recipe:    r,
//	    Tag:       "ratings:dev",
//	    Output:    "dist",
//	    Root:      ".",
//	    Platforms: []string{"linux/amd64"},
//	})
//	if err != nil {
//	    return err
//	}
package build
