package recipe

import (
	"encoding/json"
	"strings"
)

// Instruction keyword of a step.
type Kind string

const (
	KindWorkdir    Kind = "WORKDIR"
	KindCopy       Kind = "COPY"
	KindRun        Kind = "RUN"
	KindEnv        Kind = "ENV"
	KindExpose     Kind = "EXPOSE"
	KindCmd        Kind = "CMD"
	KindEntrypoint Kind = "ENTRYPOINT"
	KindLabel      Kind = "LABEL"
)

// A parsed build recipe.
type Recipe struct {
	From     string // Base image reference or path to an OCI archive.
	FromLine int    // Line of the FROM instruction, 0 when synthesised.
	Steps    []Step // Steps in execution order.
}

// A key/value pair of an ENV or LABEL step.
type Pair struct {
	Key   string
	Value string
}

// A single recipe step.
//
// Args depends on Kind: WORKDIR holds the path, COPY holds the sources
// followed by the destination, EXPOSE holds normalised "port/proto" values,
// and RUN, CMD and ENTRYPOINT hold either the argv (Exec) or a single shell
// command string.
type Step struct {
	Kind  Kind
	Line  int
	Args  []string
	Exec  bool
	Pairs []Pair
}

// Reports whether executing the step changes the image filesystem.
func (s Step) Layer() bool {
	return s.Kind == KindCopy || s.Kind == KindRun
}

// Returns the canonical instruction text.
//
// The text is stable for equal steps and is used both for rendering and as
// the step's contribution to build cache keys.
func (s Step) String() string {
	var b strings.Builder
	b.WriteString(string(s.Kind))
	b.WriteByte(' ')

	switch s.Kind {
	case KindEnv, KindLabel:
		for i, p := range s.Pairs {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(quoteValue(p.Value))
		}
	case KindRun, KindCmd, KindEntrypoint:
		if s.Exec {
			b.WriteString(jsonArray(s.Args))
		} else {
			b.WriteString(strings.Join(s.Args, " "))
		}
	case KindCopy:
		if needsJSON(s.Args) {
			b.WriteString(jsonArray(s.Args))
		} else {
			b.WriteString(strings.Join(s.Args, " "))
		}
	default:
		b.WriteString(strings.Join(s.Args, " "))
	}

	return b.String()
}

// Splits a COPY step into sources and destination.
func (s Step) CopyPaths() (srcs []string, dest string) {
	if s.Kind != KindCopy || len(s.Args) < 2 {
		return nil, ""
	}
	return s.Args[:len(s.Args)-1], s.Args[len(s.Args)-1]
}

// Returns the argv the step runs.
//
// Shell-form commands are wrapped as "shell -c command".
func (s Step) Argv(shell string) []string {
	if s.Exec {
		return append([]string(nil), s.Args...)
	}
	return []string{shell, "-c", strings.Join(s.Args, " ")}
}

// Returns the ports declared by all EXPOSE steps, deduplicated, in
// declaration order.
func (r *Recipe) ExposedPorts() []string {
	seen := make(map[string]bool)
	var ports []string
	for _, s := range r.Steps {
		if s.Kind != KindExpose {
			continue
		}
		for _, p := range s.Args {
			if !seen[p] {
				seen[p] = true
				ports = append(ports, p)
			}
		}
	}
	return ports
}

// Returns the last step of the given kind, or nil.
func (r *Recipe) Last(kind Kind) *Step {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Kind == kind {
			return &r.Steps[i]
		}
	}
	return nil
}

func jsonArray(args []string) string {
	if args == nil {
		args = []string{}
	}
	b, _ := json.Marshal(args)
	return string(b)
}

func needsJSON(args []string) bool {
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			return true
		}
	}
	return false
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"'\\$") {
		return v
	}
	b, _ := json.Marshal(v)
	return string(b)
}
