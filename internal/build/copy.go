package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/emberhq/kilnd/internal/buildctx"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// The entries a COPY step writes and their content digest.
type copyPlan struct {
	entries []buildctx.Entry
	digest  digest.Digest
}

// Selects the files a COPY step writes.
//
// Sources are resolved in the build context. When the destination ends in a
// slash, is ".", or more than one source is given, it names a directory and
// file sources land inside it under their base name. A directory source
// skips files that an earlier COPY already wrote to the same path from the
// same source; copied records every entry selected here.
func planCopy(bc *buildctx.Context, step recipe.Step, state *stepState, copied map[string]string) (*copyPlan, error) {
	srcs, dest := step.CopyPaths()
	if len(srcs) == 0 {
		return nil, fmt.Errorf("%w: expected source and destination", ErrCopy)
	}

	target := state.resolve(dest)
	intoDir := len(srcs) > 1 || strings.HasSuffix(dest, "/") || dest == "." || strings.HasSuffix(dest, "/.")

	var entries []buildctx.Entry
	for _, src := range srcs {
		info, err := bc.Stat(src)
		if err != nil {
			return nil, copyError(err)
		}

		if !info.IsDir() {
			to := target
			if intoDir {
				to = path.Join(target, path.Base("/"+src))
			}
			found, err := bc.Collect(src, to)
			if err != nil {
				return nil, copyError(err)
			}
			entries = append(entries, found...)
			continue
		}

		found, err := bc.Collect(src, target)
		if err != nil {
			return nil, copyError(err)
		}
		entries = append(entries, excludeCopied(found, copied)...)
	}

	for _, e := range entries {
		if !e.Info.IsDir() {
			copied[e.Name] = e.Source
		}
	}

	d, err := buildctx.Digest(entries)
	if err != nil {
		return nil, copyError(err)
	}

	return &copyPlan{entries: entries, digest: d}, nil
}

// Drops non-directory entries already written from the same source.
func excludeCopied(entries []buildctx.Entry, copied map[string]string) []buildctx.Entry {
	kept := entries[:0:0]
	for _, e := range entries {
		if !e.Info.IsDir() && copied[e.Name] == e.Source {
			slog.Debug("already copied", "source", e.Source, "dest", "/"+e.Name)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// Streams the planned entries into the container, extracting at "/".
func executeCopy(ctx context.Context, ctr Container, plan *copyPlan) error {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := buildctx.WriteTar(pw, plan.entries)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := ctr.CopyTo(gctx, pr, "/")
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	return nil
}

// Classifies a build context failure.
func copyError(err error) error {
	if errors.Is(err, buildctx.ErrMissingFile) {
		return fmt.Errorf("%w: %w", ErrMissingFile, err)
	}
	return fmt.Errorf("%w: %w", ErrCopy, err)
}
