package cli

import (
	"context"
	"log/slog"

	"github.com/emberhq/kilnd/internal/server"
)

// Represents the 'kilnd start' command.
type StartCmd struct {
	MetricsAddress string `help:"Serve Prometheus metrics on this address." placeholder:"HOST:PORT"`
}

// Executes the start command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a client requests shutdown.
func (c *StartCmd) Run(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if c.MetricsAddress != "" {
		s.MetricsAddress = c.MetricsAddress
	}

	srv, err := server.New(server.Config{
		Settings:   s,
		SocketPath: RootCmd.Socket,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("kilnd is running")

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
