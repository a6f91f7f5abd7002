// Package server implements the kilnd daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the kilnd CLI. Each connection carries a single exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command and writes the response before closing the connection. A run
// command streams the container's output as intermediate envelopes ahead of
// the final response.
//
// Build commands are delegated to the build package, which drives the
// runtime package against containerd. When a metrics address is configured
// the daemon also serves Prometheus metrics over HTTP.
//
// Example usage:
//
//	srv, err := server.New(server.Config{Settings: settings.Default()})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	<-srv.Done()
package server
