package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/emberhq/kilnd/internal"
	"github.com/emberhq/kilnd/internal/build"
	"github.com/emberhq/kilnd/internal/metrics"
	"github.com/emberhq/kilnd/internal/protocol"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/emberhq/kilnd/internal/runtime"
	"github.com/google/uuid"
)

// Handles a build command.
//
// Parses the recipe sent by the CLI and executes it against the container
// runtime. Recipe and path errors are reported before the runtime is used.
func (s *Server) handleBuild(ctx context.Context, w *responder, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		w.fail(err, 0)
		return
	}

	opts, err := s.buildOptions(req)
	if err != nil {
		w.fail(err, 0)
		return
	}

	finish := s.metrics.BuildStarted()
	result, err := build.Run(ctx, s.builder, opts)
	finish(err)
	if err != nil {
		slog.Error("build failed", "tag", req.Tag, "error", err)
		w.fail(err, 0)
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	for _, step := range result.Steps {
		s.metrics.RecordStep(string(step.Instruction), stepCache(step))
	}

	w.ok(buildResult(result))
}

// Converts a build request into pipeline options, applying daemon defaults.
func (s *Server) buildOptions(req *protocol.BuildRequest) (build.Options, error) {
	if !filepath.IsAbs(req.Root) {
		return build.Options{}, fmt.Errorf("%w: build context %q is not absolute", ErrInvalidRequest, req.Root)
	}
	if req.Output != "" && !filepath.IsAbs(req.Output) {
		return build.Options{}, fmt.Errorf("%w: output %q is not absolute", ErrInvalidRequest, req.Output)
	}

	rec, err := recipe.Parse(strings.NewReader(req.Recipe))
	if err != nil {
		return build.Options{}, err
	}

	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = []string{s.settings.Build.Platform}
	}

	return build.Options{
		Recipe:      rec,
		Tag:         req.Tag,
		Output:      req.Output,
		Root:        req.Root,
		Platforms:   platforms,
		NoCache:     req.NoCache,
		Strict:      req.Strict,
		CachePrefix: s.settings.Build.CachePrefix,
		Shell:       s.settings.Build.Shell,
	}, nil
}

// Handles a run command.
//
// The image's entrypoint runs once; its output is streamed back as output
// events until it exits or the client disconnects.
func (s *Server) handleRun(ctx context.Context, w *responder, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.RunRequest](payload)
	if err != nil {
		w.fail(err, 0)
		return
	}

	name, err := normalizeImage(req.Image)
	if err != nil {
		w.fail(err, 0)
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = s.settings.Build.Platform
	}

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	id := "kilnd-run-" + uuid.NewString()[:8]
	code, err := s.runtime.RunImage(ctx, name, id, platform, w.stream(protocol.StreamStdout), w.stream(protocol.StreamStderr))
	switch {
	case errors.Is(err, runtime.ErrEntrypoint):
		s.metrics.RecordRun(metrics.StatusFailure)
		w.fail(err, code)
	case err != nil:
		s.metrics.RecordRun(metrics.StatusFailure)
		w.fail(err, 0)
	default:
		s.metrics.RecordRun(runStatus(code))
		w.ok(&protocol.RunResult{ExitCode: code})
	}
}

// Handles an image destroy command.
func (s *Server) handleImageDestroy(ctx context.Context, w *responder, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.ImageRequest](payload)
	if err != nil {
		w.fail(err, 0)
		return
	}

	name, err := normalizeImage(req.Name)
	if err != nil {
		w.fail(err, 0)
		return
	}

	if err := s.runtime.DestroyImage(ctx, name); err != nil {
		w.fail(err, 0)
		return
	}

	w.ok(nil)
}

// Handles a cache prune command.
func (s *Server) handleCachePrune(ctx context.Context, w *responder) {
	removed, err := s.runtime.PruneImages(ctx, s.settings.Build.CachePrefix)
	if err != nil {
		w.fail(err, 0)
		return
	}

	slog.Info("build cache pruned", "removed", removed)
	w.ok(&protocol.PruneResult{Removed: removed})
}

// Handles a status command.
func (s *Server) handleStatus(w *responder) {
	s.mu.Lock()
	builds, runs := s.builds, s.runs
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	w.ok(&protocol.StatusResult{
		Running:   true,
		Version:   internal.VersionString(),
		Pid:       os.Getpid(),
		Uptime:    uptime.String(),
		Builds:    builds,
		Runs:      runs,
		Namespace: s.settings.Containerd.Namespace,
		Platform:  s.settings.Build.Platform,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(w *responder) {
	w.ok(nil)
	slog.Info("shutdown requested")

	go s.Stop()
}

// Normalizes an image name as containerd stores it.
func normalizeImage(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: no image name", ErrInvalidRequest)
	}
	named, err := reference.ParseDockerRef(name)
	if err != nil {
		return "", fmt.Errorf("%w: image %q: %w", ErrInvalidRequest, name, err)
	}
	return named.String(), nil
}

// Returns the cache label of a step result.
func stepCache(step build.StepResult) string {
	switch {
	case step.Image == "":
		return metrics.CacheNone
	case step.Cached:
		return metrics.CacheHit
	default:
		return metrics.CacheMiss
	}
}

// Returns the run label for an exit code.
func runStatus(code int) string {
	if code == 0 {
		return metrics.StatusSuccess
	}
	return metrics.RunExitNonZero
}

// Converts a build result to its wire form.
func buildResult(r *build.Result) *protocol.BuildResult {
	out := &protocol.BuildResult{
		Output:       r.Output,
		CacheHits:    r.CacheHits,
		ExposedPorts: r.ExposedPorts,
		Entrypoint:   r.Entrypoint,
		Duration:     r.Duration.Round(time.Millisecond).String(),
	}
	for _, img := range r.Images {
		out.Images = append(out.Images, protocol.ImageInfo{Name: img.Name, Digest: img.Digest.String()})
	}
	for _, step := range r.Steps {
		out.Steps = append(out.Steps, protocol.StepInfo{
			Platform:    step.Platform,
			Index:       step.Index,
			Instruction: string(step.Instruction),
			Text:        step.Text,
			Cached:      step.Cached,
		})
	}
	return out
}
