package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Bytes of stdout and stderr kept per exec. Earlier output is dropped.
const maxCapturedOutput = 64 << 10

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Output of a command execution inside a container.
//
// Stdout and Stderr hold at most the last 64 KiB of each stream.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// A process to start in a running container.
type execRequest struct {
	args    []string  // Argv, executed without a shell.
	env     []string  // Merged over the container's environment.
	workdir string    // Replaces the container's working directory when set.
	stdin   io.Reader // Closed on the process side once drained. May be nil.
}

// Runs a command inside the container.
//
// args is executed directly; shell-form commands arrive already wrapped as
// "shell -c command". env is merged over the container's environment and a
// non-empty workdir replaces its working directory, for this execution only.
// A non-zero exit code is reported in the result, not as an error.
func (c *Container) Exec(ctx context.Context, args []string, env []string, workdir string) (*ExecResult, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrRuntime)
	}
	return c.exec(ctx, execRequest{args: args, env: env, workdir: workdir})
}

// Starts req as an additional process of the container's task and waits for
// it to exit.
func (c *Container) exec(ctx context.Context, req execRequest) (*ExecResult, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	pspec, err := processSpec(ctx, ctr, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	stdout := newTailBuffer(maxCapturedOutput)
	stderr := newTailBuffer(maxCapturedOutput)

	stdin, drained := watchEOF(req.stdin)

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	code, err := awaitProcess(ctx, process, drained)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Derives the process spec of req from the container's own OCI spec.
func processSpec(ctx context.Context, ctr containerd.Container, req execRequest) (*specs.Process, error) {
	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = req.args

	if len(req.env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, req.env)
	}
	if req.workdir != "" {
		pspec.Cwd = req.workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
//
// Keys keep the position of their first occurrence and new keys are appended
// in override order. Entries without "=" are dropped.
func mergeEnv(base, overrides []string) []string {
	result := make([]string, 0, len(base)+len(overrides))
	index := make(map[string]int, len(base)+len(overrides))

	for _, entry := range append(append([]string(nil), base...), overrides...) {
		k, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if i, seen := index[k]; seen {
			result[i] = entry
			continue
		}
		index[k] = len(result)
		result = append(result, entry)
	}
	return result
}

// Starts an exec process and blocks until it exits.
//
// If drained is non-nil the process stdin is closed when it fires. The
// containerd shim holds both ends of the stdin FIFO open and does not
// propagate EOF on its own. The process is always deleted before returning.
func awaitProcess(ctx context.Context, process containerd.Process, drained <-chan struct{}) (int, error) {
	defer process.Delete(context.WithoutCancel(ctx))

	statusC, err := process.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if drained != nil {
		go func() {
			<-drained
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	code, _, err := (<-statusC).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return int(code), nil
}

// Wraps r so the returned channel is closed once r reports [io.EOF]. A nil
// reader yields a nil reader and channel.
func watchEOF(r io.Reader) (io.Reader, <-chan struct{}) {
	if r == nil {
		return nil, nil
	}
	done := make(chan struct{})
	var once sync.Once
	return readerFunc(func(p []byte) (int, error) {
		n, err := r.Read(p)
		if err == io.EOF {
			once.Do(func() { close(done) })
		}
		return n, err
	}), done
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// An [io.Writer] that keeps only the last limit bytes written.
//
// Writes come from the containerd FIFO copier, so access is serialized.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		t.truncated = true
		return n, nil
	}
	if over := len(t.buf) + n - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

// Returns the retained output, prefixed with a marker when earlier output
// was dropped.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.truncated {
		return "[output truncated]\n" + string(t.buf)
	}
	return string(t.buf)
}
