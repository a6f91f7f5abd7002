package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/emberhq/kilnd/internal"
	"github.com/emberhq/kilnd/internal/client"
	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/settings"
	"github.com/mattn/go-isatty"
)

// Represents the root command for kilnd.
var RootCmd struct {
	Quiet   bool   `short:"q" help:"Suppress informational output."`
	Verbose bool   `short:"v" help:"Enable verbose output."`
	Debug   bool   `short:"d" help:"Enable debug output."`
	Socket  string `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Config  string `short:"c" help:"Settings file." placeholder:"PATH" type:"path"`

	Start   StartCmd   `cmd:"" help:"Start the daemon."`
	Build   BuildCmd   `cmd:"" help:"Build an image from a recipe."`
	Run     RunCmd     `cmd:"" help:"Run an image's entrypoint to completion."`
	Status  StatusCmd  `cmd:"" help:"Show daemon status."`
	Stop    StopCmd    `cmd:"" help:"Stop the daemon."`
	Rmi     RmiCmd     `cmd:"" help:"Remove an image."`
	Prune   PruneCmd   `cmd:"" help:"Remove all build cache images."`
	Init    InitCmd    `cmd:"" help:"Write a starter recipe and settings."`
	Lint    LintCmd    `cmd:"" help:"Check a recipe for layouts that defeat caching."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("The kiln image builder.\n\nBuilds container images from a recipe with a dependency-first layer cache, and runs them."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())

	logger, ok := slog.Default().Handler().(*log.Logger)
	if !ok {
		return // Not a charm logger, nothing to configure
	}

	switch {
	case internal.IsDebug():
		logger.SetLevel(log.DebugLevel)
	case internal.IsQuiet():
		logger.SetLevel(log.WarnLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	verbose := internal.IsVerbose()
	logger.SetReportTimestamp(verbose)
	logger.SetReportCaller(verbose)

	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logger.SetFormatter(log.JSONFormatter)
	}
}

// Loads daemon settings from the -c path or the default location.
func loadSettings() (settings.Settings, error) {
	path := RootCmd.Config
	if path == "" {
		path = paths.ConfigFile()
	}
	return settings.Load(path)
}

// Returns the socket path: the -s flag, then the settings file, then the
// default.
func socketPath() string {
	if RootCmd.Socket != "" {
		return RootCmd.Socket
	}
	if s, err := loadSettings(); err == nil && s.Socket != "" {
		return s.Socket
	}
	return paths.Socket()
}

// Returns a client for the configured daemon.
func daemon() *client.Client {
	return client.Dial(socketPath())
}
