package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Subdirectory name under each XDG base directory.
	appName = "kilnd"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Directory for runtime files (socket, PID file).
//
//	Linux:   $XDG_RUNTIME_DIR/kilnd or ~/.cache/kilnd/run
//	macOS:   ~/Library/Caches/kilnd/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default Unix socket the daemon listens on.
func Socket() string {
	return filepath.Join(Runtime(), appName+".sock")
}

// Default PID file written by a running daemon.
func PIDFile() string {
	return filepath.Join(Runtime(), appName+".pid")
}

// Default settings file.
//
//	Linux:   $XDG_CONFIG_HOME/kilnd/kilnd.toml
//	macOS:   ~/Library/Application Support/kilnd/kilnd.toml
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, appName+".toml")
}
