package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/emberhq/kilnd/internal/settings"
)

// Patterns written to a new .kilnignore.
const defaultIgnore = `.git
.kilnignore
__pycache__
*.pyc
.venv
`

// Represents the 'kilnd init' command.
type InitCmd struct {
	Dir      string `arg:"" optional:"" default:"." help:"Project directory." type:"path"`
	Python   string `default:"3.12" help:"Python version of the base image."`
	Force    bool   `help:"Overwrite existing files."`
	Settings bool   `help:"Also write a default settings file."`
}

// Executes the init command.
//
// Writes the conventional Python service recipe and an ignore file into the
// project directory, and optionally the daemon settings file.
func (c *InitCmd) Run(ctx context.Context) error {
	if err := c.writeProject(os.Stdout); err != nil {
		return err
	}
	if !c.Settings {
		return nil
	}

	path := RootCmd.Config
	if path == "" {
		path = paths.ConfigFile()
	}
	return c.writeSettings(os.Stdout, path)
}

// Writes the recipe and ignore file.
func (c *InitCmd) writeProject(w io.Writer) error {
	rec, err := recipe.Synthesize(recipe.Python(c.Python))
	if err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		data string
	}{
		{defaultRecipeFile, recipe.Render(rec)},
		{".kilnignore", defaultIgnore},
	} {
		path := filepath.Join(c.Dir, f.name)
		if err := c.write(path, []byte(f.data)); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	return nil
}

// Writes the default settings as TOML to path.
func (c *InitCmd) writeSettings(w io.Writer, path string) error {
	data, err := settings.Default().Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return err
	}
	if err := c.write(path, data); err != nil {
		return err
	}

	fmt.Fprintf(w, "wrote %s\n", path)
	return nil
}

// Writes a file, refusing to replace an existing one unless forced.
func (c *InitCmd) write(path string, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !c.Force {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, paths.DefaultFileMode)
	if os.IsExist(err) {
		return fmt.Errorf("%w: %s (use --force to overwrite)", ErrFileExists, path)
	}
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}

	slog.Debug("file written", "path", path, "bytes", len(data))
	return f.Close()
}
