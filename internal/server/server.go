package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/emberhq/kilnd/internal/build"
	"github.com/emberhq/kilnd/internal/metrics"
	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/protocol"
	"github.com/emberhq/kilnd/internal/runtime"
	"github.com/emberhq/kilnd/internal/settings"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = "kilnd"

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660

	// Time the metrics listener is given to drain on shutdown.
	shutdownTimeout = 5 * time.Second
)

// Holds server configuration.
type Config struct {
	Settings   settings.Settings // Daemon settings.
	SocketPath string            // Override for the Unix socket path. Empty uses the settings, then the default.
}

// Image operations served outside the build pipeline.
//
// Satisfied by [runtime.Runtime].
type imageRuntime interface {
	RunImage(ctx context.Context, image, id, platform string, stdout, stderr io.Writer) (int, error)
	DestroyImage(ctx context.Context, name string) error
	PruneImages(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	socketPath string            // Path to the Unix socket file.
	settings   settings.Settings // Daemon settings.
	runtime    imageRuntime      // Runs and removes images.
	builder    build.Runtime     // Runtime as seen by the build pipeline.
	metrics    *metrics.Registry // Build and run collectors.
	httpServer *http.Server      // Metrics listener, nil when disabled.
	listener   net.Listener      // Listener for incoming connections.
	startedAt  time.Time         // Timestamp when the server started.
	builds     int               // Total number of build commands processed.
	runs       int               // Total number of run commands processed.
	done       chan struct{}     // Channel to signal server shutdown.
	stopOnce   sync.Once         // Guards Stop against concurrent shutdown paths.
	mu         sync.Mutex        // Mutex to protect shared state.
}

// Creates a new server instance.
//
// The containerd connection is established here; the socket is not opened
// until [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	s := cfg.Settings

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = s.Socket
	}
	if socketPath == "" {
		socketPath = paths.Socket()
	}

	if s.Build.Platform == "" {
		s.Build.Platform = runtime.DefaultPlatform()
	}

	rt, err := runtime.New(runtime.Config{
		Address:     s.Containerd.Address,
		Namespace:   s.Containerd.Namespace,
		Snapshotter: s.Containerd.Snapshotter,
		OCIRuntime:  s.Containerd.Runtime,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	srv := newServer(socketPath, s)
	srv.runtime = rt
	srv.builder = build.FromContainerd(rt)
	return srv, nil
}

// Creates a server without a runtime connection.
func newServer(socketPath string, s settings.Settings) *Server {
	return &Server{
		socketPath: socketPath,
		settings:   s,
		metrics:    metrics.New(),
		done:       make(chan struct{}),
	}
}

// Opens the Unix socket and begins accepting connections.
//
// When a metrics address is configured the metrics listener is started too.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if err := writePID(); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	if addr := s.settings.MetricsAddress; addr != "" {
		s.serveMetrics(addr)
	}

	slog.Info("server listening on socket", "path", s.socketPath)

	go s.accept()
	return nil
}

// Serves the metrics handler on addr in the background.
func (s *Server) serveMetrics(addr string) {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics listening", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "address", addr, "error", err)
		}
	}()
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrServer, socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. Any user in the kilnd group
// can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: failed to chmod socket %s: %w", ErrServer, socketPath, err)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Warn("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Shuts down the server and cleans up resources. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			s.listener.Close()
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			s.httpServer.Shutdown(ctx)
			cancel()
		}

		if s.runtime != nil {
			s.runtime.Close()
		}

		os.Remove(s.socketPath)
		os.Remove(paths.PIDFile())
	})
	return nil
}

// Returns a channel closed once the server stops.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, payload, err := protocol.Decode(line)
	if err != nil {
		s.respondError(conn, err)
		return
	}

	slog.Info("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(context.Background(), reader)
	defer cancel()

	s.dispatch(ctx, newResponder(conn), env.Command, payload)
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, w *responder, cmd protocol.Command, payload json.RawMessage) {
	switch cmd {
	case protocol.CmdBuild:
		s.handleBuild(ctx, w, payload)
	case protocol.CmdRun:
		s.handleRun(ctx, w, payload)
	case protocol.CmdImageDestroy:
		s.handleImageDestroy(ctx, w, payload)
	case protocol.CmdCachePrune:
		s.handleCachePrune(ctx, w)
	case protocol.CmdStatus:
		s.handleStatus(w)
	case protocol.CmdShutdown:
		s.handleShutdown(w)
	default:
		w.fail(fmt.Errorf("%w: unknown command: %s", ErrInvalidRequest, cmd), 0)
	}
}

// Writes an error envelope directly to a connection.
func (s *Server) respondError(conn net.Conn, err error) {
	newResponder(conn).fail(err, 0)
}

// Serializes envelopes onto a connection.
//
// Output events and the final response may be written from different
// goroutines, so writes are serialized.
type responder struct {
	mu sync.Mutex
	w  io.Writer
}

func newResponder(w io.Writer) *responder {
	return &responder{w: w}
}

// Writes a single envelope followed by a newline.
func (r *responder) send(cmd protocol.Command, payload any) error {
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(append(data, '\n'))
	return err
}

// Writes a successful final response.
func (r *responder) ok(payload any) {
	r.send(protocol.CmdOK, payload)
}

// Writes a failed final response.
func (r *responder) fail(err error, exitCode int) {
	r.send(protocol.CmdError, &protocol.ErrorResult{Message: err.Error(), ExitCode: exitCode})
}

// Returns a writer that forwards data as output events on stream.
func (r *responder) stream(name string) io.Writer {
	return &streamWriter{r: r, stream: name}
}

type streamWriter struct {
	r      *responder
	stream string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if err := w.r.send(protocol.CmdOutput, &protocol.OutputEvent{Stream: w.stream, Data: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running and send it signals.
func writePID() error {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(paths.PIDFile(), []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine. The read
// blocks until the peer closes the connection, at which point it returns an
// error and the derived context is cancelled. No further data may be
// expected on r for the lifetime of the returned context. The returned
// [context.CancelFunc] must always be called to release resources.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
