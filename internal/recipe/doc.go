// Package recipe describes the linear build recipe for an application image.
//
// A recipe is a single base image followed by an ordered list of steps. It is
// either parsed from Containerfile syntax or synthesised from a [Profile]
// describing a conventional application layout: base runtime, working
// directory, dependency manifest, install command, source copy, exposed port,
// and entrypoint.
//
// Only the instructions needed for a single-stage application image are
// accepted: FROM, WORKDIR, COPY, RUN, ENV, EXPOSE, CMD, ENTRYPOINT and LABEL.
// Everything else is rejected with [ErrInvalidRecipe] rather than ignored, so
// a recipe never builds differently from how it reads.
//
// [Lint] reports layouts that defeat layer caching, most importantly copying
// the whole source tree before dependencies are installed.
//
// Example usage:
//
//	r, err := recipe.ParseFile("Containerfile")
//	if err != nil {
//	    return err
//	}
//	for _, f := range recipe.Lint(r) {
//	    slog.Warn(f.Message, "rule", f.Rule, "line", f.Line)
//	}
package recipe
