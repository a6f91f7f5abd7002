package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/emberhq/kilnd/internal/recipe"
)

// Represents the 'kilnd lint' command.
type LintCmd struct {
	File   string `arg:"" optional:"" default:"Containerfile" help:"Recipe file." type:"path"`
	Strict bool   `help:"Exit non-zero when there are findings."`
}

// Executes the lint command. Runs locally, without the daemon.
func (c *LintCmd) Run(ctx context.Context) error {
	return c.lint(os.Stdout)
}

func (c *LintCmd) lint(w io.Writer) error {
	rec, err := recipe.ParseFile(c.File)
	if err != nil {
		return err
	}

	findings := recipe.Lint(rec)
	for _, f := range findings {
		fmt.Fprintf(w, "%s: %s\n", c.File, f)
	}

	if len(findings) > 0 && c.Strict {
		return fmt.Errorf("%w: %d in %s", ErrLintFindings, len(findings), c.File)
	}
	return nil
}
