package build

import (
	"context"
	"io"

	"github.com/emberhq/kilnd/internal/runtime"
)

// Image and container operations the pipeline needs.
//
// [FromContainerd] adapts a containerd-backed [runtime.Runtime].
type Runtime interface {
	ResolveBase(ctx context.Context, ref, platform string) (runtime.Image, error)
	ImageExists(ctx context.Context, name string) (bool, error)
	StartContainer(ctx context.Context, image, id, platform string) (Container, error)
	Configure(ctx context.Context, src, dst, platform string, cfg runtime.ImageConfig) (runtime.Image, error)
	Export(ctx context.Context, image, platform, path string) error
}

// A running build container.
type Container interface {
	Exec(ctx context.Context, args []string, env []string, workdir string) (*runtime.ExecResult, error)
	MkdirAll(ctx context.Context, path string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	Stop(ctx context.Context) error
	Commit(ctx context.Context, name string, cfg runtime.ImageConfig) (runtime.Image, error)
	Destroy(ctx context.Context)
}

type containerdRuntime struct {
	*runtime.Runtime
}

// Returns a [Runtime] backed by containerd.
func FromContainerd(rt *runtime.Runtime) Runtime {
	return containerdRuntime{rt}
}

func (r containerdRuntime) StartContainer(ctx context.Context, image, id, platform string) (Container, error) {
	ctr, err := r.Runtime.StartContainer(ctx, image, id, platform)
	if err != nil {
		return nil, err
	}
	return ctr, nil
}
