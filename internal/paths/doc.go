// Resolves where kilnd keeps its files on the host.
//
// Runtime files (socket, PID) live under the XDG runtime directory, the
// settings file under the XDG config directory, and container logs under
// the XDG state directory. Every path is scoped by a "kilnd" subdirectory.
package paths
