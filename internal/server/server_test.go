package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/emberhq/kilnd/internal/build"
	"github.com/emberhq/kilnd/internal/protocol"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/emberhq/kilnd/internal/runtime"
	"github.com/emberhq/kilnd/internal/settings"
)

func testServer() *Server {
	s := settings.Default()
	s.Build.Platform = "linux/amd64"
	return newServer("/nonexistent/kilnd.sock", s)
}

// Sends one request through handle and returns the final response.
func exchange(t *testing.T, s *Server, request string) (*protocol.Envelope, []byte) {
	t.Helper()
	env, payload, _ := converse(t, s, request)
	return env, payload
}

// Sends one request through handle and collects every output event sent
// before the final response.
func converse(t *testing.T, s *Server, request string) (*protocol.Envelope, []byte, []protocol.OutputEvent) {
	t.Helper()

	client, conn := net.Pipe()
	defer client.Close()

	go s.handle(conn)

	if _, err := client.Write([]byte(request + "\n")); err != nil {
		t.Fatal(err)
	}

	var events []protocol.OutputEvent
	reader := bufio.NewReader(client)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			t.Fatal(err)
		}
		env, payload, err := protocol.Decode(line)
		if err != nil {
			t.Fatal(err)
		}
		if env.Command.Final() {
			return env, payload, events
		}
		ev, err := protocol.DecodePayload[protocol.OutputEvent](payload)
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, *ev)
	}
}

// Records image operations and replays canned results.
type fakeRuntime struct {
	runs    []string // Images passed to RunImage.
	stderr  string   // Written to stderr by RunImage.
	code    int      // Exit code returned by RunImage.
	err     error    // Error returned by every operation.
	removed []string // Images passed to DestroyImage.
	pruned  []string // Prefixes passed to PruneImages.
}

func (f *fakeRuntime) RunImage(ctx context.Context, image, id, platform string, stdout, stderr io.Writer) (int, error) {
	f.runs = append(f.runs, image)
	if f.stderr != "" {
		io.WriteString(stderr, f.stderr)
	}
	return f.code, f.err
}

func (f *fakeRuntime) DestroyImage(ctx context.Context, name string) error {
	f.removed = append(f.removed, name)
	return f.err
}

func (f *fakeRuntime) PruneImages(ctx context.Context, prefix string) (int, error) {
	f.pruned = append(f.pruned, prefix)
	return 3, f.err
}

func (f *fakeRuntime) Close() error { return nil }

func encode(t *testing.T, cmd protocol.Command, payload any) string {
	t.Helper()
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func errorMessage(t *testing.T, env *protocol.Envelope, payload []byte) string {
	t.Helper()
	if env.Command != protocol.CmdError {
		t.Fatalf("command = %q, want error", env.Command)
	}
	res, err := protocol.DecodePayload[protocol.ErrorResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	return res.Message
}

func TestHandleStatus(t *testing.T) {
	s := testServer()

	env, payload := exchange(t, s, `{"command":"status"}`)
	if env.Command != protocol.CmdOK {
		t.Fatalf("command = %q, want ok", env.Command)
	}

	res, err := protocol.DecodePayload[protocol.StatusResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Running || res.Pid == 0 {
		t.Errorf("status = %+v", res)
	}
	if res.Namespace != settings.DefaultContainerdNamespace || res.Platform != "linux/amd64" {
		t.Errorf("status = %+v", res)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	env, payload := exchange(t, testServer(), `{"command":"container-exec"}`)
	if msg := errorMessage(t, env, payload); !strings.Contains(msg, "unknown command: container-exec") {
		t.Errorf("message = %q", msg)
	}
}

func TestHandleMalformedRequest(t *testing.T) {
	env, payload := exchange(t, testServer(), `not json`)
	if msg := errorMessage(t, env, payload); !strings.Contains(msg, "protocol error") {
		t.Errorf("message = %q", msg)
	}
}

func TestHandleBuildRejectsInvalidRecipe(t *testing.T) {
	req, err := protocol.Encode(protocol.CmdBuild, &protocol.BuildRequest{
		Recipe: "FROM python:3.12-slim\nADD app.tar.gz /app\n",
		Tag:    "ratings:dev",
		Root:   "/src",
	})
	if err != nil {
		t.Fatal(err)
	}

	s := testServer()
	env, payload := exchange(t, s, string(req))
	if msg := errorMessage(t, env, payload); !strings.Contains(msg, "line 2") {
		t.Errorf("message = %q, want the offending line", msg)
	}
	if s.builds != 0 {
		t.Errorf("builds = %d, want 0", s.builds)
	}
}

func TestHandleRunMissingEntrypoint(t *testing.T) {
	rt := &fakeRuntime{
		code: runtime.ExitEntrypointMissing,
		err:  fmt.Errorf("%w: exec: \"/srv/serve\": no such file or directory", runtime.ErrEntrypoint),
	}
	s := testServer()
	s.runtime = rt

	env, payload := exchange(t, s, encode(t, protocol.CmdRun, &protocol.RunRequest{Image: "ratings:dev"}))
	if env.Command != protocol.CmdError {
		t.Fatalf("command = %q, want error", env.Command)
	}
	res, err := protocol.DecodePayload[protocol.ErrorResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 127 {
		t.Errorf("exit code = %d, want 127", res.ExitCode)
	}
	if len(rt.runs) != 1 || rt.runs[0] != "docker.io/library/ratings:dev" {
		t.Errorf("runs = %q, want one run of the normalized image", rt.runs)
	}
}

func TestHandleRunExitCode(t *testing.T) {
	rt := &fakeRuntime{code: 3, stderr: "database unreachable\n"}
	s := testServer()
	s.runtime = rt

	env, payload, events := converse(t, s, encode(t, protocol.CmdRun, &protocol.RunRequest{Image: "ratings:dev"}))
	if env.Command != protocol.CmdOK {
		t.Fatalf("command = %q, want ok", env.Command)
	}
	res, err := protocol.DecodePayload[protocol.RunResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if len(events) != 1 || events[0].Stream != protocol.StreamStderr || events[0].Data != "database unreachable\n" {
		t.Errorf("events = %+v", events)
	}
	if len(rt.runs) != 1 {
		t.Errorf("runs = %d, want 1", len(rt.runs))
	}
	if s.runs != 1 {
		t.Errorf("run count = %d, want 1", s.runs)
	}
}

func TestHandleRunRuntimeError(t *testing.T) {
	rt := &fakeRuntime{err: fmt.Errorf("%w: cgroup setup failed", runtime.ErrRuntime)}
	s := testServer()
	s.runtime = rt

	env, payload := exchange(t, s, encode(t, protocol.CmdRun, &protocol.RunRequest{Image: "ratings:dev"}))
	if env.Command != protocol.CmdError {
		t.Fatalf("command = %q, want error", env.Command)
	}
	res, err := protocol.DecodePayload[protocol.ErrorResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 || !strings.Contains(res.Message, "cgroup setup failed") {
		t.Errorf("result = %+v", res)
	}
	if len(rt.runs) != 1 {
		t.Errorf("runs = %d, want 1", len(rt.runs))
	}
}

func TestHandleRunInvalidImage(t *testing.T) {
	rt := &fakeRuntime{}
	s := testServer()
	s.runtime = rt

	env, payload := exchange(t, s, encode(t, protocol.CmdRun, &protocol.RunRequest{Image: "Ratings"}))
	errorMessage(t, env, payload)
	if len(rt.runs) != 0 {
		t.Errorf("runs = %d, want 0", len(rt.runs))
	}
}

func TestHandleImageDestroy(t *testing.T) {
	rt := &fakeRuntime{}
	s := testServer()
	s.runtime = rt

	env, _ := exchange(t, s, encode(t, protocol.CmdImageDestroy, &protocol.ImageRequest{Name: "ratings:dev"}))
	if env.Command != protocol.CmdOK {
		t.Fatalf("command = %q, want ok", env.Command)
	}
	if len(rt.removed) != 1 || rt.removed[0] != "docker.io/library/ratings:dev" {
		t.Errorf("removed = %q", rt.removed)
	}
}

func TestHandleCachePrune(t *testing.T) {
	rt := &fakeRuntime{}
	s := testServer()
	s.runtime = rt

	env, payload := exchange(t, s, `{"command":"cache-prune"}`)
	if env.Command != protocol.CmdOK {
		t.Fatalf("command = %q, want ok", env.Command)
	}
	res, err := protocol.DecodePayload[protocol.PruneResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 3 {
		t.Errorf("removed = %d, want 3", res.Removed)
	}
	if len(rt.pruned) != 1 || rt.pruned[0] != settings.DefaultCachePrefix {
		t.Errorf("pruned = %q", rt.pruned)
	}
}

func TestBuildOptions(t *testing.T) {
	s := testServer()
	rec := recipe.Render(mustSynthesize(t))

	opts, err := s.buildOptions(&protocol.BuildRequest{Recipe: rec, Tag: "ratings:dev", Root: "/src"})
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.Platforms) != 1 || opts.Platforms[0] != "linux/amd64" {
		t.Errorf("platforms = %v", opts.Platforms)
	}
	if opts.CachePrefix != settings.DefaultCachePrefix || opts.Shell != settings.DefaultShell {
		t.Errorf("options = %+v", opts)
	}
	if opts.Recipe.From != "python:3.12-slim" {
		t.Errorf("from = %q", opts.Recipe.From)
	}

	if _, err := s.buildOptions(&protocol.BuildRequest{Recipe: rec, Tag: "x", Root: "src"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("relative root error = %v, want ErrInvalidRequest", err)
	}
	if _, err := s.buildOptions(&protocol.BuildRequest{Recipe: rec, Tag: "x", Root: "/src", Output: "dist"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("relative output error = %v, want ErrInvalidRequest", err)
	}
}

func mustSynthesize(t *testing.T) *recipe.Recipe {
	t.Helper()
	r, err := recipe.Synthesize(recipe.Python(""))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNormalizeImage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ratings:dev", want: "docker.io/library/ratings:dev"},
		{in: "ratings", want: "docker.io/library/ratings:latest"},
		{in: "registry.local:5000/team/ratings:1.0", want: "registry.local:5000/team/ratings:1.0"},
		{in: "", wantErr: true},
		{in: "Ratings", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeImage(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("error = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("normalizeImage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStepCache(t *testing.T) {
	tests := []struct {
		step build.StepResult
		want string
	}{
		{build.StepResult{Instruction: recipe.KindExpose}, "none"},
		{build.StepResult{Instruction: recipe.KindRun, Image: "kilnd-cache/ab:latest", Cached: true}, "hit"},
		{build.StepResult{Instruction: recipe.KindCopy, Image: "kilnd-cache/cd:latest"}, "miss"},
	}
	for _, tt := range tests {
		if got := stepCache(tt.step); got != tt.want {
			t.Errorf("stepCache(%+v) = %q, want %q", tt.step, got, tt.want)
		}
	}
}

func TestResponderStream(t *testing.T) {
	var buf bytes.Buffer
	r := newResponder(&buf)

	if _, err := r.stream(protocol.StreamStdout).Write([]byte("serving\n")); err != nil {
		t.Fatal(err)
	}
	r.ok(&protocol.RunResult{ExitCode: 0})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}

	env, payload, err := protocol.Decode([]byte(lines[0]))
	if err != nil {
		t.Fatal(err)
	}
	if env.Command != protocol.CmdOutput {
		t.Fatalf("command = %q", env.Command)
	}
	ev, err := protocol.DecodePayload[protocol.OutputEvent](payload)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Stream != protocol.StreamStdout || ev.Data != "serving\n" {
		t.Errorf("event = %+v", ev)
	}
}
