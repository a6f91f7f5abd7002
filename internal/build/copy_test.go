package build

import (
	"errors"
	"slices"
	"testing"

	"github.com/emberhq/kilnd/internal/buildctx"
	"github.com/emberhq/kilnd/internal/recipe"
)

func copyStep(args ...string) recipe.Step {
	return recipe.Step{Kind: recipe.KindCopy, Args: args}
}

func entryNames(plan *copyPlan) []string {
	var out []string
	for _, e := range plan.entries {
		out = append(out, e.Name)
	}
	return out
}

func TestPlanCopyDestination(t *testing.T) {
	root := writeContext(t, map[string]string{
		"requirements.txt": "flask\n",
		"app.py":           "x",
		"lib/util.py":      "y",
	})
	bc, err := buildctx.Open(root)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		workdir string
		step    recipe.Step
		want    []string
	}{
		{
			name:    "file into workdir",
			workdir: "/app",
			step:    copyStep("requirements.txt", "."),
			want:    []string{"app/requirements.txt"},
		},
		{
			name:    "file to explicit path",
			workdir: "/app",
			step:    copyStep("requirements.txt", "deps.txt"),
			want:    []string{"app/deps.txt"},
		},
		{
			name: "file into directory with trailing slash",
			step: copyStep("app.py", "/srv/"),
			want: []string{"srv/app.py"},
		},
		{
			name: "multiple sources into directory",
			step: copyStep("app.py", "requirements.txt", "/srv"),
			want: []string{"srv/app.py", "srv/requirements.txt"},
		},
		{
			name:    "directory contents",
			workdir: "/app",
			step:    copyStep("lib", "lib"),
			want:    []string{"app/lib/util.py"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newStepState("")
			if tt.workdir != "" {
				state.setWorkdir(tt.workdir)
			}

			plan, err := planCopy(bc, tt.step, state, map[string]string{})
			if err != nil {
				t.Fatalf("planCopy: %v", err)
			}
			if got := entryNames(plan); !slices.Equal(got, tt.want) {
				t.Errorf("entries = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanCopyExcludesAlreadyCopied(t *testing.T) {
	root := writeContext(t, map[string]string{
		"requirements.txt": "flask\n",
		"app.py":           "x",
	})
	bc, err := buildctx.Open(root)
	if err != nil {
		t.Fatal(err)
	}

	state := newStepState("")
	state.setWorkdir("/app")
	copied := map[string]string{}

	if _, err := planCopy(bc, copyStep("requirements.txt", "."), state, copied); err != nil {
		t.Fatal(err)
	}

	plan, err := planCopy(bc, copyStep(".", "."), state, copied)
	if err != nil {
		t.Fatal(err)
	}
	if got := entryNames(plan); !slices.Equal(got, []string{"app/app.py"}) {
		t.Errorf("entries = %v, want only app.py", got)
	}

	// A different destination is a separate copy.
	plan, err = planCopy(bc, copyStep(".", "/backup"), state, copied)
	if err != nil {
		t.Fatal(err)
	}
	if got := entryNames(plan); !slices.Contains(got, "backup/requirements.txt") {
		t.Errorf("entries = %v, want backup/requirements.txt included", got)
	}
}

func TestPlanCopyMissingSource(t *testing.T) {
	bc, err := buildctx.Open(writeContext(t, map[string]string{"app.py": "x"}))
	if err != nil {
		t.Fatal(err)
	}

	_, err = planCopy(bc, copyStep("requirements.txt", "."), newStepState(""), map[string]string{})
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("error = %v, want ErrMissingFile", err)
	}
	if !errors.Is(err, buildctx.ErrMissingFile) {
		t.Errorf("error = %v, want buildctx.ErrMissingFile in chain", err)
	}
}

func TestPlanCopyDigestFollowsContent(t *testing.T) {
	root := writeContext(t, map[string]string{"requirements.txt": "flask==3.0\n"})
	bc, err := buildctx.Open(root)
	if err != nil {
		t.Fatal(err)
	}

	first, err := planCopy(bc, copyStep("requirements.txt", "/app/"), newStepState(""), map[string]string{})
	if err != nil {
		t.Fatal(err)
	}

	root2 := writeContext(t, map[string]string{"requirements.txt": "flask==3.1\n"})
	bc2, err := buildctx.Open(root2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := planCopy(bc2, copyStep("requirements.txt", "/app/"), newStepState(""), map[string]string{})
	if err != nil {
		t.Fatal(err)
	}

	if first.digest == second.digest {
		t.Error("digest unchanged after manifest edit")
	}
}
