// Parses flags, configures logging, and runs kilnd commands.
//
// A single binary serves as both daemon and client. "kilnd start" runs the
// daemon; every other command except "version", "init" and "lint" talks to a
// running daemon over its Unix socket.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Unix socket path.
//	-c, --config    Settings file.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity before
// the command runs.
package cli
