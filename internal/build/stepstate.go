package build

import (
	"path"

	"github.com/emberhq/kilnd/internal/recipe"
)

// Default shell used for shell-form RUN steps.
const defaultShell = "/bin/sh"

// Tracks the state metadata steps accumulate for later steps.
//
// State flows linearly through the recipe. WORKDIR and ENV update it
// permanently; COPY and RUN read it.
type stepState struct {
	shell   string
	workdir string        // Absolute, or empty before the first WORKDIR.
	env     []recipe.Pair // Unique keys in first-declaration order.
}

// Creates a new [stepState], falling back to [defaultShell].
func newStepState(shell string) *stepState {
	if shell == "" {
		shell = defaultShell
	}
	return &stepState{shell: shell}
}

// Changes the working directory. Relative paths resolve against the
// current one.
func (s *stepState) setWorkdir(dir string) {
	s.workdir = s.resolve(dir)
}

// Sets environment variables, replacing existing keys in place.
func (s *stepState) setEnv(pairs []recipe.Pair) {
	for _, p := range pairs {
		replaced := false
		for i := range s.env {
			if s.env[i].Key == p.Key {
				s.env[i].Value = p.Value
				replaced = true
				break
			}
		}
		if !replaced {
			s.env = append(s.env, p)
		}
	}
}

// Resolves a path inside the image against the working directory.
func (s *stepState) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	base := s.workdir
	if base == "" {
		base = "/"
	}
	return path.Join(base, p)
}

// Formats the environment as "key=value" strings for container exec.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for _, p := range s.env {
		env = append(env, p.Key+"="+p.Value)
	}
	return env
}
