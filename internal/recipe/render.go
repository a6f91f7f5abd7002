package recipe

import "strings"

// Writes the recipe as Containerfile text.
//
// The output parses back to an equivalent recipe.
func Render(r *Recipe) string {
	var b strings.Builder
	b.WriteString("FROM ")
	b.WriteString(r.From)
	b.WriteByte('\n')

	for _, s := range r.Steps {
		b.WriteString(s.String())
		b.WriteByte('\n')
	}

	return b.String()
}
