package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/plugins/content/local"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Writes data to store and returns its descriptor.
func putBlob(t *testing.T, store content.Store, mediaType string, data []byte) ocispec.Descriptor {
	t.Helper()
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
	if err := content.WriteBlob(context.Background(), store, desc.Digest.String(), bytes.NewReader(data), desc); err != nil {
		t.Fatal(err)
	}
	return desc
}

func putJSON(t *testing.T, store content.Store, mediaType string, v any) ocispec.Descriptor {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return putBlob(t, store, mediaType, data)
}

// Builds a platform manifest. The manifest blob itself is only written when
// store is non-nil; config and layer blobs are written when withLayers is set.
func platformManifest(t *testing.T, store content.Store, p ocispec.Platform, write, withLayers bool) ocispec.Descriptor {
	t.Helper()

	cfgData, _ := json.Marshal(ocispec.Image{Platform: p})
	layerData := []byte("layer " + p.Architecture)
	cfg := ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: digest.FromBytes(cfgData), Size: int64(len(cfgData))}
	layer := ocispec.Descriptor{MediaType: ocispec.MediaTypeImageLayerGzip, Digest: digest.FromBytes(layerData), Size: int64(len(layerData))}

	if withLayers {
		putBlob(t, store, cfg.MediaType, cfgData)
		putBlob(t, store, layer.MediaType, layerData)
	}

	m := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    cfg,
		Layers:    []ocispec.Descriptor{layer},
	}
	m.SchemaVersion = 2

	data, _ := json.Marshal(m)
	desc := ocispec.Descriptor{MediaType: ocispec.MediaTypeImageManifest, Digest: digest.FromBytes(data), Size: int64(len(data))}
	if write {
		putBlob(t, store, desc.MediaType, data)
	}
	desc.Platform = &p
	return desc
}

func TestPlatformComplete(t *testing.T) {
	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	amd64 := ocispec.Platform{OS: "linux", Architecture: "amd64"}
	arm64 := ocispec.Platform{OS: "linux", Architecture: "arm64", Variant: "v8"}
	s390x := ocispec.Platform{OS: "linux", Architecture: "s390x"}

	// A single-platform pull of amd64 stores the index, the amd64 manifest
	// and its blobs. The arm64 manifest is referenced but absent, and the
	// s390x manifest is present without its layers.
	idx := ocispec.Index{
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{
			platformManifest(t, store, amd64, true, true),
			platformManifest(t, store, arm64, false, false),
			platformManifest(t, store, s390x, true, false),
		},
	}
	idx.SchemaVersion = 2
	target := putJSON(t, store, ocispec.MediaTypeImageIndex, idx)

	tests := []struct {
		name     string
		platform ocispec.Platform
		want     bool
	}{
		{"pulled platform", amd64, true},
		{"manifest missing", arm64, false},
		{"layers missing", s390x, false},
		{"platform not in index", ocispec.Platform{OS: "linux", Architecture: "riscv64"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := platformComplete(context.Background(), store, target, tt.platform)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("platformComplete(%s) = %v, want %v", tt.platform.Architecture, got, tt.want)
			}
		})
	}
}
