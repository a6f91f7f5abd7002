package recipe

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Describes a conventional application image.
//
// A profile expands to the canonical seven-step recipe: base runtime,
// working directory, dependency manifest copy, dependency install, source
// copy, exposed port, and entrypoint. The manifest is always copied and
// installed before the rest of the source so the install layer is only
// rebuilt when the manifest changes.
type Profile struct {
	Base       string   // Pinned base runtime image, e.g. "python:3.12-slim".
	Workdir    string   // Absolute working directory inside the image.
	Manifest   string   // Dependency manifest, relative to the build context root.
	Install    string   // Shell command that installs the manifest's dependencies.
	Port       int      // Declared listening port. Advisory only.
	Entrypoint []string // Process started when a container runs the image.
}

const (
	defaultWorkdir    = "/app"
	defaultPythonPort = 5001
)

// Returns the profile for a Python web service launched as "python app.py".
func Python(version string) Profile {
	if version == "" {
		version = "3.12"
	}
	return Profile{
		Base:       fmt.Sprintf("python:%s-slim", version),
		Workdir:    defaultWorkdir,
		Manifest:   "requirements.txt",
		Install:    "pip install --no-cache-dir -r requirements.txt",
		Port:       defaultPythonPort,
		Entrypoint: []string{"python", "app.py"},
	}
}

// Checks that every field needed by [Synthesize] is usable.
func (p Profile) Validate() error {
	switch {
	case strings.TrimSpace(p.Base) == "":
		return fmt.Errorf("%w: base image is empty", ErrInvalidRecipe)
	case !path.IsAbs(p.Workdir):
		return fmt.Errorf("%w: workdir %q is not absolute", ErrInvalidRecipe, p.Workdir)
	case strings.TrimSpace(p.Manifest) == "":
		return fmt.Errorf("%w: dependency manifest is empty", ErrInvalidRecipe)
	case path.IsAbs(p.Manifest) || strings.HasPrefix(path.Clean(p.Manifest), ".."):
		return fmt.Errorf("%w: manifest %q must be inside the build context", ErrInvalidRecipe, p.Manifest)
	case strings.TrimSpace(p.Install) == "":
		return fmt.Errorf("%w: install command is empty", ErrInvalidRecipe)
	case len(p.Entrypoint) == 0 || p.Entrypoint[0] == "":
		return fmt.Errorf("%w: entrypoint is empty", ErrInvalidRecipe)
	}
	if _, err := ParsePort(strconv.Itoa(p.Port)); err != nil {
		return err
	}
	return nil
}

// Expands a profile into its recipe.
func Synthesize(p Profile) (*Recipe, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	port, _ := ParsePort(strconv.Itoa(p.Port))

	return &Recipe{
		From: p.Base,
		Steps: []Step{
			{Kind: KindWorkdir, Args: []string{p.Workdir}},
			{Kind: KindCopy, Args: []string{p.Manifest, "."}},
			{Kind: KindRun, Args: []string{p.Install}},
			{Kind: KindCopy, Args: []string{".", "."}},
			{Kind: KindExpose, Args: []string{port}},
			{Kind: KindCmd, Args: append([]string(nil), p.Entrypoint...), Exec: true},
		},
	}, nil
}
