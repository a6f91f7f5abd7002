package runtime

import (
	"maps"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Changes applied to an image config by [Container.Commit] and
// [Runtime.Configure].
//
// Zero fields leave the corresponding config value untouched.
type ImageConfig struct {
	WorkingDir    string            // Working directory for the entrypoint.
	Env           []string          // KEY=value entries merged over the existing environment.
	ExposedPorts  []string          // Ports in "port/proto" form, added to the existing set.
	Entrypoint    []string          // Entrypoint argv, applied when SetEntrypoint is true.
	Cmd           []string          // Default arguments, applied when SetCmd is true.
	SetEntrypoint bool              // Replace the entrypoint (clearing an inherited Cmd unless SetCmd).
	SetCmd        bool              // Replace the default arguments.
	Labels        map[string]string // Labels merged over the existing set.
	History       []string          // Created-by entries appended to the image history.
	EmptyLayer    bool              // Marks the history entries as adding no layer.
}

// Applies the changes to an OCI image config.
func (cfg ImageConfig) apply(img *ocispec.Image) {
	c := &img.Config

	if cfg.WorkingDir != "" {
		c.WorkingDir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		c.Env = mergeEnv(c.Env, cfg.Env)
	}
	if len(cfg.ExposedPorts) > 0 {
		if c.ExposedPorts == nil {
			c.ExposedPorts = make(map[string]struct{}, len(cfg.ExposedPorts))
		}
		for _, port := range cfg.ExposedPorts {
			c.ExposedPorts[port] = struct{}{}
		}
	}

	// An inherited Cmd would otherwise become arguments to the new entrypoint.
	if cfg.SetEntrypoint {
		c.Entrypoint = cfg.Entrypoint
		if !cfg.SetCmd {
			c.Cmd = nil
		}
	}
	if cfg.SetCmd {
		c.Cmd = cfg.Cmd
	}

	if len(cfg.Labels) > 0 {
		if c.Labels == nil {
			c.Labels = make(map[string]string, len(cfg.Labels))
		}
		maps.Copy(c.Labels, cfg.Labels)
	}

	if len(cfg.History) > 0 {
		now := time.Now().UTC()
		img.Created = &now
		for _, createdBy := range cfg.History {
			img.History = append(img.History, ocispec.History{
				Created:    &now,
				CreatedBy:  createdBy,
				EmptyLayer: cfg.EmptyLayer,
			})
		}
	}
}
