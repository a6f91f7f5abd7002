package recipe

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Parses a recipe file.
func ParseFile(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parses Containerfile syntax into a [Recipe].
//
// The first instruction must be FROM and it must be the only one. Flags,
// heredocs, and unsupported instructions are rejected with the offending line.
func Parse(r io.Reader) (*Recipe, error) {
	result, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}

	nodes := result.AST.Children
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no instructions", ErrInvalidRecipe)
	}

	rec := &Recipe{}
	for i, node := range nodes {
		if err := checkNode(node); err != nil {
			return nil, err
		}

		kind := strings.ToUpper(node.Value)

		if i == 0 {
			if kind != "FROM" {
				return nil, lineErr(node, "first instruction must be FROM, got %s", kind)
			}
			from, err := parseFrom(node)
			if err != nil {
				return nil, err
			}
			rec.From = from
			rec.FromLine = node.StartLine
			continue
		}

		step, err := parseStep(Kind(kind), node)
		if err != nil {
			return nil, err
		}
		rec.Steps = append(rec.Steps, step)
	}

	return rec, nil
}

// Rejects parser features the builder does not implement.
func checkNode(node *parser.Node) error {
	if len(node.Flags) > 0 {
		return lineErr(node, "flags are not supported: %s", strings.Join(node.Flags, " "))
	}
	if len(node.Heredocs) > 0 {
		return lineErr(node, "heredocs are not supported")
	}
	return nil
}

func parseFrom(node *parser.Node) (string, error) {
	args := nodeArgs(node)
	switch {
	case len(args) == 0:
		return "", lineErr(node, "FROM requires an image")
	case len(args) > 1:
		return "", lineErr(node, "multi-stage builds are not supported")
	case strings.EqualFold(args[0], "scratch"):
		return "", lineErr(node, "FROM scratch has no runtime to install dependencies into")
	}
	return args[0], nil
}

func parseStep(kind Kind, node *parser.Node) (Step, error) {
	step := Step{Kind: kind, Line: node.StartLine}
	args := nodeArgs(node)

	switch kind {
	case "FROM":
		return step, lineErr(node, "multi-stage builds are not supported")

	case KindWorkdir:
		if len(args) != 1 || (!quoted(args[0]) && len(strings.Fields(args[0])) != 1) {
			return step, lineErr(node, "WORKDIR requires exactly one path")
		}
		dir, err := literal(node, args[0])
		if err != nil {
			return step, err
		}
		if dir == "" {
			return step, lineErr(node, "WORKDIR requires exactly one path")
		}
		step.Args = []string{dir}

	case KindCopy:
		if len(args) < 2 {
			return step, lineErr(node, "COPY requires at least one source and a destination")
		}
		for _, a := range args {
			if _, err := literal(node, a); err != nil {
				return step, err
			}
		}
		step.Args = args

	case KindRun, KindCmd, KindEntrypoint:
		step.Exec = node.Attributes["json"]
		if len(args) == 0 || (!step.Exec && strings.TrimSpace(args[0]) == "") {
			return step, lineErr(node, "%s requires a command", kind)
		}
		step.Args = args

	case KindEnv, KindLabel:
		pairs, err := nodePairs(node)
		if err != nil {
			return step, err
		}
		step.Pairs = pairs

	case KindExpose:
		if len(args) == 0 {
			return step, lineErr(node, "EXPOSE requires a port")
		}
		for _, a := range args {
			if _, err := literal(node, a); err != nil {
				return step, err
			}
			port, err := ParsePort(a)
			if err != nil {
				return step, lineErr(node, "%v", err)
			}
			step.Args = append(step.Args, port)
		}

	default:
		return step, lineErr(node, "unsupported instruction %s", kind)
	}

	return step, nil
}

// Collects the values of the argument chain following an instruction node.
func nodeArgs(node *parser.Node) []string {
	var args []string
	for n := node.Next; n != nil; n = n.Next {
		args = append(args, n.Value)
	}
	return args
}

// Decodes the key, value, separator triples the parser produces for ENV and
// LABEL.
func nodePairs(node *parser.Node) ([]Pair, error) {
	var pairs []Pair
	for n := node.Next; n != nil; {
		if n.Next == nil {
			return nil, lineErr(node, "%s requires key=value pairs", strings.ToUpper(node.Value))
		}
		key, err := literal(node, n.Value)
		if err != nil {
			return nil, err
		}
		value, err := literal(node, n.Next.Value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: key, Value: value})

		n = n.Next.Next
		if n != nil {
			n = n.Next // skip separator
		}
	}
	if len(pairs) == 0 {
		return nil, lineErr(node, "%s requires key=value pairs", strings.ToUpper(node.Value))
	}
	return pairs, nil
}

// Normalises a port declaration to "port/proto".
//
// The protocol defaults to tcp. Only tcp, udp, and sctp are accepted.
func ParsePort(s string) (string, error) {
	num, proto, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		proto = "tcp"
	}
	proto = strings.ToLower(proto)

	switch proto {
	case "tcp", "udp", "sctp":
	default:
		return "", fmt.Errorf("%w: unknown protocol %q in %q", ErrInvalidPort, proto, s)
	}

	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}

	return fmt.Sprintf("%d/%s", n, proto), nil
}

// Returns the literal value of an argument with its quotes removed.
//
// Variable references are not expanded, so an unescaped "$" outside single
// quotes is rejected rather than kept verbatim. "\$" yields a literal "$".
func literal(node *parser.Node, v string) (string, error) {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1], nil
	}
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\':
			i++
		case '$':
			return "", lineErr(node, "variable references are not supported: %s", v)
		}
	}
	return strings.ReplaceAll(unquote(v), `\$`, "$"), nil
}

// Reports whether v is wrapped in matching single or double quotes.
func quoted(v string) bool {
	return len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0]
}

// Strips one level of matching quotes from a value.
func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	switch {
	case v[0] == '"' && v[len(v)-1] == '"':
		if u, err := strconv.Unquote(v); err == nil {
			return u
		}
		return v[1 : len(v)-1]
	case v[0] == '\'' && v[len(v)-1] == '\'':
		return v[1 : len(v)-1]
	}
	return v
}

func lineErr(node *parser.Node, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrInvalidRecipe, node.StartLine, fmt.Sprintf(format, args...))
}
