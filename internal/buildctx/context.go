package buildctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// Ignore files, in order of preference.
var ignoreFiles = []string{".kilnignore", ".dockerignore"}

// A build context rooted at a host directory.
type Context struct {
	root    string                         // Absolute path to the context directory.
	matcher *patternmatcher.PatternMatcher // Nil when no ignore file exists.
}

// A single file, directory, or symlink selected for copying.
type Entry struct {
	Path   string      // Absolute host path.
	Source string      // Slash-separated path relative to the context root.
	Name   string      // Slash-separated destination inside the image, without a leading slash.
	Info   fs.FileInfo // Lstat result for Path.
	Link   string      // Symlink target, when Info is a symlink.
}

// Opens the build context at root and loads its ignore file.
func Open(root string) (*Context, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrContext, abs)
	}

	patterns, err := readIgnore(abs)
	if err != nil {
		return nil, err
	}

	c := &Context{root: abs}
	if len(patterns) > 0 {
		pm, err := patternmatcher.New(patterns)
		if err != nil {
			return nil, fmt.Errorf("%w: ignore patterns: %w", ErrContext, err)
		}
		c.matcher = pm
	}

	return c, nil
}

// Returns the absolute context root.
func (c *Context) Root() string {
	return c.root
}

// Reads the first ignore file present in dir.
func readIgnore(dir string) ([]string, error) {
	for _, name := range ignoreFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContext, err)
		}
		defer f.Close()

		patterns, err := ignorefile.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrContext, name, err)
		}
		return patterns, nil
	}
	return nil, nil
}

// Reports whether a slash-separated context path is excluded.
func (c *Context) Ignored(rel string) (bool, error) {
	if c.matcher == nil || rel == "." {
		return false, nil
	}
	return c.matcher.MatchesOrParentMatches(filepath.FromSlash(rel))
}

// Resolves a COPY source against the context root.
//
// Leading slashes are dropped, matching the convention that COPY sources are
// always context-relative.
func (c *Context) resolve(src string) (rel, abs string, err error) {
	rel = path.Clean(strings.TrimLeft(filepath.ToSlash(src), "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideContext, src)
	}
	return rel, filepath.Join(c.root, filepath.FromSlash(rel)), nil
}

// Returns the Lstat result for a COPY source.
//
// A missing or ignored source fails with [ErrMissingFile].
func (c *Context) Stat(src string) (fs.FileInfo, error) {
	_, _, info, err := c.lookup(src)
	return info, err
}

// Resolves a COPY source and stats it.
func (c *Context) lookup(src string) (rel, abs string, info fs.FileInfo, err error) {
	rel, abs, err = c.resolve(src)
	if err != nil {
		return "", "", nil, err
	}

	ignored, err := c.Ignored(rel)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	info, err = os.Lstat(abs)
	if ignored || errors.Is(err, os.ErrNotExist) {
		return "", "", nil, fmt.Errorf("%w: %s", ErrMissingFile, src)
	}
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	return rel, abs, info, nil
}

// Selects the entries a COPY of src to dest would write.
//
// dest is the absolute destination inside the image: the file path when src
// is a file, or the directory whose contents mirror src when src is a
// directory. A missing or ignored source fails with [ErrMissingFile].
// Entries are returned in lexical order.
func (c *Context) Collect(src, dest string) ([]Entry, error) {
	rel, abs, info, err := c.lookup(src)
	if err != nil {
		return nil, err
	}

	destName := strings.TrimPrefix(path.Clean("/"+dest), "/")

	if !info.IsDir() {
		e, ok, err := newEntry(abs, rel, destName, info)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a regular file, directory, or symlink", ErrContext, src)
		}
		return []Entry{e}, nil
	}

	return c.collectDir(abs, rel, destName)
}

// Walks a source directory, mapping every entry under it to destDir.
func (c *Context) collectDir(abs, rel, destDir string) ([]Entry, error) {
	var entries []Entry
	hasExclusions := c.matcher != nil && c.matcher.Exclusions()

	err := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == abs {
			return nil
		}

		sub, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		sub = filepath.ToSlash(sub)
		source := path.Join(rel, sub)

		ignored, err := c.Ignored(source)
		if err != nil {
			return err
		}
		if ignored {
			if d.IsDir() && !hasExclusions {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e, ok, err := newEntry(p, source, path.Join(destDir, sub), info)
		if err != nil || !ok {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContext, err)
	}

	return entries, nil
}

// Builds an entry, reporting false for types that cannot be copied.
func newEntry(abs, source, name string, info fs.FileInfo) (Entry, bool, error) {
	e := Entry{Path: abs, Source: source, Name: name, Info: info}

	switch mode := info.Mode(); {
	case mode.IsRegular(), mode.IsDir():
	case mode&fs.ModeSymlink != 0:
		link, err := os.Readlink(abs)
		if err != nil {
			return e, false, fmt.Errorf("%w: %w", ErrContext, err)
		}
		e.Link = link
	default:
		return e, false, nil
	}

	return e, true, nil
}
