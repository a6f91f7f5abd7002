package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/containerd/platforms"
	"github.com/pelletier/go-toml/v2"
)

const (

	// Default containerd socket address.
	DefaultContainerdAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultContainerdNamespace = "kilnd"

	// Default snapshotter. fuse-overlayfs gives overlay semantics without
	// mount(2), so the daemon can run unprivileged.
	DefaultSnapshotter = "fuse-overlayfs"

	// Default OCI runtime shim.
	DefaultOCIRuntime = "io.containerd.runc.v2"

	// Default name prefix for build cache images.
	DefaultCachePrefix = "kilnd-cache"

	// Default shell for shell-form RUN steps.
	DefaultShell = "/bin/sh"
)

// Daemon settings.
type Settings struct {
	Socket         string     `toml:"socket"`          // Unix socket path. Empty uses the XDG default.
	MetricsAddress string     `toml:"metrics_address"` // TCP address for /metrics. Empty disables it.
	Containerd     Containerd `toml:"containerd"`
	Build          Build      `toml:"build"`
}

// Connection to the container engine.
type Containerd struct {
	Address     string `toml:"address"`
	Namespace   string `toml:"namespace"`
	Snapshotter string `toml:"snapshotter"`
	Runtime     string `toml:"runtime"`
}

// Build defaults.
type Build struct {
	Platform    string `toml:"platform"`     // Default target platform. Empty uses the host.
	CachePrefix string `toml:"cache_prefix"` // Name prefix for cached step images.
	Shell       string `toml:"shell"`        // Shell for shell-form RUN steps.
}

// Returns settings populated with defaults.
func Default() Settings {
	return Settings{
		Containerd: Containerd{
			Address:     DefaultContainerdAddress,
			Namespace:   DefaultContainerdNamespace,
			Snapshotter: DefaultSnapshotter,
			Runtime:     DefaultOCIRuntime,
		},
		Build: Build{
			CachePrefix: DefaultCachePrefix,
			Shell:       DefaultShell,
		},
	}
}

// Reads settings from path, layered over [Default].
//
// A missing file yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("%w: %w", ErrSettings, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Checks that required fields are set and the platform parses.
func (s Settings) Validate() error {
	switch {
	case strings.TrimSpace(s.Containerd.Address) == "":
		return fmt.Errorf("%w: containerd.address is empty", ErrSettings)
	case strings.TrimSpace(s.Containerd.Namespace) == "":
		return fmt.Errorf("%w: containerd.namespace is empty", ErrSettings)
	case strings.TrimSpace(s.Build.CachePrefix) == "":
		return fmt.Errorf("%w: build.cache_prefix is empty", ErrSettings)
	case strings.Contains(s.Build.CachePrefix, ":"):
		return fmt.Errorf("%w: build.cache_prefix %q contains ':'", ErrSettings, s.Build.CachePrefix)
	}

	if s.Build.Platform != "" {
		if _, err := platforms.Parse(s.Build.Platform); err != nil {
			return fmt.Errorf("%w: build.platform: %w", ErrSettings, err)
		}
	}
	return nil
}

// Encodes the settings as TOML.
func (s Settings) Marshal() ([]byte, error) {
	return toml.Marshal(s)
}
