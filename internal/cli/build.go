package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emberhq/kilnd/internal/protocol"
	"github.com/emberhq/kilnd/internal/recipe"
)

// Recipe file looked up in the build context when -f is not given.
const defaultRecipeFile = "Containerfile"

// Represents the 'kilnd build' command.
type BuildCmd struct {
	Context  string   `arg:"" optional:"" default:"." help:"Build context directory." type:"path"`
	File     string   `short:"f" help:"Recipe file. Defaults to Containerfile in the context." placeholder:"PATH" type:"path"`
	Python   string   `help:"Build the conventional Python service recipe for this version instead of a file." placeholder:"VERSION"`
	Tag      string   `short:"t" required:"" help:"Name of the final image."`
	Output   string   `short:"o" help:"Directory receiving the exported image archive." type:"path"`
	Platform []string `short:"p" help:"Target platform. Repeat for multi-platform builds."`
	NoCache  bool     `help:"Execute every step, ignoring cached layers."`
	Strict   bool     `help:"Fail when the recipe has lint findings."`
}

// Executes the build command.
//
// The recipe is resolved locally and sent as text, so the daemon never reads
// recipe files on the caller's behalf. Only the build context is read by the
// daemon.
func (c *BuildCmd) Run(ctx context.Context) error {
	req, err := c.request()
	if err != nil {
		return err
	}

	var res protocol.BuildResult
	if err := daemon().Call(ctx, protocol.CmdBuild, req, &res); err != nil {
		return err
	}

	printBuild(os.Stdout, &res)
	return nil
}

// Assembles the build request with absolute paths.
func (c *BuildCmd) request() (*protocol.BuildRequest, error) {
	root, err := filepath.Abs(c.Context)
	if err != nil {
		return nil, err
	}

	text, err := c.recipe(root)
	if err != nil {
		return nil, err
	}

	output := c.Output
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return nil, err
		}
	}

	return &protocol.BuildRequest{
		Recipe:    text,
		Tag:       c.Tag,
		Root:      root,
		Output:    output,
		Platforms: c.Platform,
		NoCache:   c.NoCache,
		Strict:    c.Strict,
	}, nil
}

// Returns the recipe text, either synthesised from --python or read from the
// recipe file. The text is parsed here so syntax errors are reported without
// contacting the daemon.
func (c *BuildCmd) recipe(root string) (string, error) {
	if c.Python != "" {
		if c.File != "" {
			return "", errors.New("--python and --file are mutually exclusive")
		}
		rec, err := recipe.Synthesize(recipe.Python(c.Python))
		if err != nil {
			return "", err
		}
		return recipe.Render(rec), nil
	}

	path := c.File
	if path == "" {
		path = filepath.Join(root, defaultRecipeFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if _, err := recipe.Parse(strings.NewReader(string(data))); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return string(data), nil
}

// Writes a human-readable build summary.
func printBuild(w io.Writer, res *protocol.BuildResult) {
	for _, s := range res.Steps {
		status := ""
		if s.Cached {
			status = " (cached)"
		}
		fmt.Fprintf(w, "[%s] step %d: %s%s\n", s.Platform, s.Index, s.Text, status)
	}

	for _, img := range res.Images {
		fmt.Fprintf(w, "image %s %s\n", img.Name, img.Digest)
	}
	if len(res.ExposedPorts) > 0 {
		fmt.Fprintf(w, "exposes %s\n", strings.Join(res.ExposedPorts, ", "))
	}
	if len(res.Entrypoint) > 0 {
		fmt.Fprintf(w, "entrypoint %s\n", strings.Join(res.Entrypoint, " "))
	}
	if res.Output != "" {
		fmt.Fprintf(w, "archive written to %s\n", res.Output)
	}
	fmt.Fprintf(w, "built in %s, %d cached steps\n", res.Duration, res.CacheHits)
}
