package recipe

import (
	"fmt"
	"path"
	"strings"

	"github.com/distribution/reference"
	"mvdan.cc/sh/v3/syntax"
)

// Lint rule identifiers.
const (
	RuleSourceBeforeInstall = "source-before-install"
	RuleUnpinnedBase        = "unpinned-base"
	RuleMissingEntrypoint   = "missing-entrypoint"
	RuleRelativeWorkdir     = "relative-workdir"
	RuleShellSyntax         = "shell-syntax"
)

// A layout problem found by [Lint].
type Finding struct {
	Rule    string
	Line    int
	Message string
}

func (f Finding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("line %d: %s (%s)", f.Line, f.Message, f.Rule)
	}
	return fmt.Sprintf("%s (%s)", f.Message, f.Rule)
}

// Reports recipe layouts that break caching or reproducibility.
//
// Findings do not make a recipe invalid. The builder logs them and refuses
// to build only in strict mode.
func Lint(r *Recipe) []Finding {
	var findings []Finding

	if f, ok := lintBase(r); ok {
		findings = append(findings, f)
	}
	findings = append(findings, lintOrdering(r)...)
	findings = append(findings, lintShell(r)...)

	if w := firstOf(r, KindWorkdir); w != nil && !path.IsAbs(w.Args[0]) {
		findings = append(findings, Finding{
			Rule:    RuleRelativeWorkdir,
			Line:    w.Line,
			Message: fmt.Sprintf("first WORKDIR %q is not absolute", w.Args[0]),
		})
	}

	if r.Last(KindCmd) == nil && r.Last(KindEntrypoint) == nil {
		findings = append(findings, Finding{
			Rule:    RuleMissingEntrypoint,
			Message: "no CMD or ENTRYPOINT; containers will run the base image's command",
		})
	}

	return findings
}

// Flags a base image that is not pinned to a tag or digest.
//
// Local archive paths are content-addressed by the runtime and never flagged.
func lintBase(r *Recipe) (Finding, bool) {
	if IsArchive(r.From) {
		return Finding{}, false
	}

	named, err := reference.ParseNormalizedNamed(r.From)
	if err != nil {
		return Finding{Rule: RuleUnpinnedBase, Line: r.FromLine, Message: fmt.Sprintf("base %q is not a valid reference", r.From)}, true
	}
	if _, ok := named.(reference.Digested); ok {
		return Finding{}, false
	}
	if tagged, ok := named.(reference.Tagged); ok && tagged.Tag() != "latest" {
		return Finding{}, false
	}

	return Finding{
		Rule:    RuleUnpinnedBase,
		Line:    r.FromLine,
		Message: fmt.Sprintf("base %q is not pinned to a version", r.From),
	}, true
}

// Flags a whole-context COPY that precedes a RUN step.
//
// Copying the full source before installing dependencies ties the install
// layer to every source edit.
func lintOrdering(r *Recipe) []Finding {
	var findings []Finding
	var bulk *Step

	for i := range r.Steps {
		s := &r.Steps[i]
		switch s.Kind {
		case KindCopy:
			if bulk == nil && copiesWholeContext(*s) {
				bulk = s
			}
		case KindRun:
			if bulk != nil {
				findings = append(findings, Finding{
					Rule:    RuleSourceBeforeInstall,
					Line:    bulk.Line,
					Message: fmt.Sprintf("source tree copied before RUN at line %d; copy the dependency manifest and install first", s.Line),
				})
				return findings
			}
		}
	}

	return findings
}

func copiesWholeContext(s Step) bool {
	srcs, _ := s.CopyPaths()
	for _, src := range srcs {
		if path.Clean(strings.TrimPrefix(src, "./")) == "." {
			return true
		}
	}
	return false
}

func firstOf(r *Recipe, kind Kind) *Step {
	for i := range r.Steps {
		if r.Steps[i].Kind == kind {
			return &r.Steps[i]
		}
	}
	return nil
}

// Reports whether a FROM value names a local OCI archive rather than a
// registry reference.
func IsArchive(from string) bool {
	return strings.HasSuffix(from, ".tar") || strings.HasPrefix(from, "/") || strings.HasPrefix(from, "./")
}

// Flags shell-form commands that a POSIX shell cannot parse. Such a RUN
// fails only after a container has been started for it.
func lintShell(r *Recipe) []Finding {
	var findings []Finding
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))

	for _, s := range r.Steps {
		if s.Exec || (s.Kind != KindRun && s.Kind != KindCmd && s.Kind != KindEntrypoint) {
			continue
		}
		script := strings.Join(s.Args, " ")
		if _, err := parser.Parse(strings.NewReader(script), ""); err != nil {
			findings = append(findings, Finding{
				Rule:    RuleShellSyntax,
				Line:    s.Line,
				Message: fmt.Sprintf("%s command does not parse: %v", s.Kind, err),
			})
		}
	}

	return findings
}
