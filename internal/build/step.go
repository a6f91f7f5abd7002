package build

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/emberhq/kilnd/internal/runtime"
	"github.com/opencontainers/go-digest"
)

// Per-platform progress through the recipe.
type execution struct {
	*pipeline
	platform string            // Target platform.
	parent   string            // Image the next layer step starts from.
	key      digest.Digest     // Cache key of parent.
	state    *stepState        // Accumulated WORKDIR, ENV and shell.
	copied   map[string]string // Image path to context source of every file copied so far.
	config   runtime.ImageConfig
}

// Executes a single step, dispatching on its instruction.
//
// Layer steps produce a committed image; every other step only updates the
// step state or the final image config.
func (x *execution) step(ctx context.Context, index int, step recipe.Step) error {
	if step.Layer() {
		if step.Kind == recipe.KindCopy {
			return x.copy(ctx, index, step)
		}
		return x.run(ctx, index, step)
	}

	switch step.Kind {
	case recipe.KindWorkdir:
		x.state.setWorkdir(step.Args[0])

	case recipe.KindEnv:
		x.state.setEnv(step.Pairs)

	case recipe.KindExpose:
		x.config.ExposedPorts = append(x.config.ExposedPorts, step.Args...)

	case recipe.KindCmd:
		x.config.Cmd = step.Argv(x.state.shell)
		x.config.SetCmd = true

	case recipe.KindEntrypoint:
		x.config.Entrypoint = step.Argv(x.state.shell)
		x.config.SetEntrypoint = true

	case recipe.KindLabel:
		if x.config.Labels == nil {
			x.config.Labels = make(map[string]string, len(step.Pairs))
		}
		for _, p := range step.Pairs {
			x.config.Labels[p.Key] = p.Value
		}

	default:
		return fmt.Errorf("%w: unsupported instruction %s", ErrBuild, step.Kind)
	}

	x.config.History = append(x.config.History, step.String())
	x.record(index, step, false, "")
	return nil
}

// Copies files from the build context into a new layer.
//
// Sources are resolved before any container starts, so a missing file
// aborts the build without touching the runtime. The layer also creates the
// working directory, so the directory is part of its key.
func (x *execution) copy(ctx context.Context, index int, step recipe.Step) error {
	plan, err := planCopy(x.bc, step, x.state, x.copied)
	if err != nil {
		return err
	}

	key := chainKey(x.key, step.String(), x.state.workdir, plan.digest.String())
	return x.layer(ctx, index, step, key, func(ctr Container) error {
		if x.state.workdir != "" {
			if err := ctr.MkdirAll(ctx, x.state.workdir); err != nil {
				return fmt.Errorf("%w: %w", ErrCopy, err)
			}
		}
		return executeCopy(ctx, ctr, plan)
	})
}

// Runs a command in a new layer. A non-zero exit fails the step.
func (x *execution) run(ctx context.Context, index int, step recipe.Step) error {
	argv := step.Argv(x.state.shell)
	env := x.state.environ()
	workdir := x.state.workdir

	fields := append([]string{step.String(), x.state.shell, workdir}, env...)
	key := chainKey(x.key, fields...)

	return x.layer(ctx, index, step, key, func(ctr Container) error {
		if workdir != "" {
			if err := ctr.MkdirAll(ctx, workdir); err != nil {
				return err
			}
		}

		slog.Debug("run", "args", argv, "workdir", workdir)
		result, err := ctr.Exec(ctx, argv, env, workdir)
		if err != nil {
			return err
		}
		if result.Stdout != "" {
			slog.Debug("run output", "stdout", strings.TrimSpace(result.Stdout))
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("%w: exit code %d: %s", ErrCommandFailed, result.ExitCode, strings.TrimSpace(result.Stderr))
		}
		return nil
	})
}

// Produces the layer for key, reusing the cache image when it exists.
//
// On a miss a container is started from the parent image, apply runs in
// it, and the container is committed under the cache name. The container is
// destroyed whatever the outcome, and nothing is committed when apply fails.
func (x *execution) layer(ctx context.Context, index int, step recipe.Step, key digest.Digest, apply func(Container) error) error {
	name := cacheImage(x.opts.CachePrefix, key)

	if !x.opts.NoCache {
		exists, err := x.rt.ImageExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			slog.Info("using cache", "step", index+1, "image", name)
			x.advance(name, key)
			x.result.CacheHits++
			x.record(index, step, true, name)
			return nil
		}
	}

	ctr, err := x.rt.StartContainer(ctx, x.parent, x.containerID(x.platform, index), x.platform)
	if err != nil {
		return err
	}
	defer ctr.Destroy(context.WithoutCancel(ctx))

	if err := apply(ctr); err != nil {
		return err
	}

	if err := ctr.Stop(ctx); err != nil {
		return err
	}

	if _, err := ctr.Commit(ctx, name, runtime.ImageConfig{History: []string{step.String()}}); err != nil {
		return err
	}

	x.advance(name, key)
	x.record(index, step, false, name)
	return nil
}

// Moves the parent to a committed layer.
func (x *execution) advance(name string, key digest.Digest) {
	x.parent = name
	x.key = key
}

// Appends a step outcome to the result.
func (x *execution) record(index int, step recipe.Step, cached bool, image string) {
	x.result.Steps = append(x.result.Steps, StepResult{
		Platform:    x.platform,
		Index:       index + 1,
		Line:        step.Line,
		Instruction: step.Kind,
		Text:        step.String(),
		Cached:      cached,
		Image:       image,
	})
}

// Returns the config applied to the final image.
func (x *execution) imageConfig() runtime.ImageConfig {
	cfg := x.config
	cfg.WorkingDir = x.state.workdir
	cfg.Env = x.state.environ()
	cfg.EmptyLayer = true
	return cfg
}

// Returns the argv a container of the final image starts with, as far as
// the recipe determines it.
func (x *execution) entrypoint() []string {
	return append(append([]string(nil), x.config.Entrypoint...), x.config.Cmd...)
}
