// Package settings loads the daemon's TOML settings file.
//
// Every field has a default, so a missing file is not an error. Keys that the
// daemon does not recognise are rejected, which catches typos early.
//
// Example file:
//
//	socket = "/run/user/1000/kilnd/kilnd.sock"
//	metrics_address = "127.0.0.1:9464"
//
//	[containerd]
//	address = "/run/containerd/containerd.sock"
//	namespace = "kilnd"
//	snapshotter = "overlayfs"
//
//	[build]
//	platform = "linux/amd64"
//	cache_prefix = "kilnd-cache"
package settings
