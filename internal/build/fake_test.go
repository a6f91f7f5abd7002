package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/emberhq/kilnd/internal/runtime"
	"github.com/opencontainers/go-digest"
)

// An in-memory image: file contents keyed by path without a leading slash.
type fakeImage struct {
	files  map[string]string
	config runtime.ImageConfig
}

// Records every runtime call and keeps images in memory.
type fakeRuntime struct {
	mu sync.Mutex

	images     map[string]fakeImage
	resolveErr error
	execFunc   func(args []string) (*runtime.ExecResult, error)

	resolved   []string
	started    []string
	execs      [][]string
	workdirs   []string
	envs       [][]string
	commits    []string
	destroyed  int
	configured map[string]runtime.ImageConfig
	exported   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		images:     make(map[string]fakeImage),
		configured: make(map[string]runtime.ImageConfig),
	}
}

func (f *fakeRuntime) ResolveBase(_ context.Context, ref, platform string) (runtime.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolved = append(f.resolved, ref)
	if f.resolveErr != nil {
		return runtime.Image{}, fmt.Errorf("%w: %w", runtime.ErrResolve, f.resolveErr)
	}

	name := "base/" + ref + "/" + platform
	if _, ok := f.images[name]; !ok {
		f.images[name] = fakeImage{files: map[string]string{}}
	}
	return runtime.Image{Name: name, Digest: digest.FromString(ref)}, nil
}

func (f *fakeRuntime) ImageExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[name]
	return ok, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, image, id, _ string) (Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	img, ok := f.images[image]
	if !ok {
		return nil, fmt.Errorf("%w: image %s not found", runtime.ErrRuntime, image)
	}
	f.started = append(f.started, id)
	return &fakeContainer{rt: f, files: maps.Clone(img.files)}, nil
}

func (f *fakeRuntime) Configure(_ context.Context, src, dst, _ string, cfg runtime.ImageConfig) (runtime.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	img, ok := f.images[src]
	if !ok {
		return runtime.Image{}, fmt.Errorf("%w: image %s not found", runtime.ErrRuntime, src)
	}
	f.images[dst] = fakeImage{files: maps.Clone(img.files), config: cfg}
	f.configured[dst] = cfg
	return runtime.Image{Name: dst, Digest: digest.FromString(dst)}, nil
}

func (f *fakeRuntime) Export(_ context.Context, image, _, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.images[image]; !ok {
		return fmt.Errorf("%w: image %s not found", runtime.ErrRuntime, image)
	}
	f.exported = append(f.exported, path)
	return os.WriteFile(path, []byte(image), 0644)
}

// A container whose filesystem is a map.
type fakeContainer struct {
	rt    *fakeRuntime
	files map[string]string
}

func (c *fakeContainer) Exec(_ context.Context, args []string, env []string, workdir string) (*runtime.ExecResult, error) {
	c.rt.mu.Lock()
	c.rt.execs = append(c.rt.execs, args)
	c.rt.envs = append(c.rt.envs, env)
	c.rt.workdirs = append(c.rt.workdirs, workdir)
	fn := c.rt.execFunc
	c.rt.mu.Unlock()

	if fn != nil {
		return fn(args)
	}
	return &runtime.ExecResult{}, nil
}

// Records the directory as a path with a trailing slash.
func (c *fakeContainer) MkdirAll(_ context.Context, path string) error {
	c.files[strings.Trim(path, "/")+"/"] = ""
	return nil
}

func (c *fakeContainer) CopyTo(_ context.Context, r io.Reader, destDir string) error {
	if destDir != "/" {
		return fmt.Errorf("unexpected extraction directory %q", destDir)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		c.files[hdr.Name] = string(b)
	}
	_, err := io.Copy(io.Discard, r)
	return err
}

func (c *fakeContainer) Stop(context.Context) error {
	return nil
}

func (c *fakeContainer) Commit(_ context.Context, name string, cfg runtime.ImageConfig) (runtime.Image, error) {
	c.rt.mu.Lock()
	defer c.rt.mu.Unlock()

	c.rt.images[name] = fakeImage{files: maps.Clone(c.files), config: cfg}
	c.rt.commits = append(c.rt.commits, name)
	return runtime.Image{Name: name, Digest: digest.FromString(name)}, nil
}

func (c *fakeContainer) Destroy(context.Context) {
	c.rt.mu.Lock()
	defer c.rt.mu.Unlock()
	c.rt.destroyed++
}
