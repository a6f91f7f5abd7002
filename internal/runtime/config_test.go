package runtime

import (
	"slices"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func baseImage() ocispec.Image {
	return ocispec.Image{
		Config: ocispec.ImageConfig{
			Env:        []string{"PATH=/usr/local/bin:/usr/bin", "LANG=C.UTF-8"},
			Cmd:        []string{"python3"},
			WorkingDir: "/",
		},
	}
}

func TestImageConfigApply(t *testing.T) {
	img := baseImage()

	ImageConfig{
		WorkingDir:   "/app",
		Env:          []string{"LANG=en_US.UTF-8", "FLASK_ENV=production"},
		ExposedPorts: []string{"5001/tcp"},
		Cmd:          []string{"python", "app.py"},
		SetCmd:       true,
		Labels:       map[string]string{"maintainer": "ops"},
		History:      []string{"WORKDIR /app", "EXPOSE 5001"},
		EmptyLayer:   true,
	}.apply(&img)

	c := img.Config
	if c.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", c.WorkingDir)
	}
	wantEnv := []string{"PATH=/usr/local/bin:/usr/bin", "LANG=en_US.UTF-8", "FLASK_ENV=production"}
	if !slices.Equal(c.Env, wantEnv) {
		t.Errorf("Env = %v, want %v", c.Env, wantEnv)
	}
	if _, ok := c.ExposedPorts["5001/tcp"]; !ok || len(c.ExposedPorts) != 1 {
		t.Errorf("ExposedPorts = %v, want only 5001/tcp", c.ExposedPorts)
	}
	if !slices.Equal(c.Cmd, []string{"python", "app.py"}) {
		t.Errorf("Cmd = %v", c.Cmd)
	}
	if c.Labels["maintainer"] != "ops" {
		t.Errorf("Labels = %v", c.Labels)
	}
	if len(img.History) != 2 {
		t.Fatalf("History len = %d, want 2", len(img.History))
	}
	for _, h := range img.History {
		if !h.EmptyLayer {
			t.Errorf("history %q not marked empty", h.CreatedBy)
		}
	}
	if img.Created == nil {
		t.Error("Created not set")
	}
}

func TestImageConfigApplyZeroValue(t *testing.T) {
	img := baseImage()
	ImageConfig{}.apply(&img)

	want := baseImage()
	if img.Config.WorkingDir != want.Config.WorkingDir {
		t.Errorf("WorkingDir changed to %q", img.Config.WorkingDir)
	}
	if !slices.Equal(img.Config.Env, want.Config.Env) {
		t.Errorf("Env changed to %v", img.Config.Env)
	}
	if !slices.Equal(img.Config.Cmd, want.Config.Cmd) {
		t.Errorf("Cmd changed to %v", img.Config.Cmd)
	}
	if len(img.History) != 0 || img.Created != nil {
		t.Error("history recorded for empty config")
	}
}

func TestImageConfigEntrypointClearsInheritedCmd(t *testing.T) {
	img := baseImage()
	ImageConfig{
		Entrypoint:    []string{"gunicorn", "app:app"},
		SetEntrypoint: true,
	}.apply(&img)

	if !slices.Equal(img.Config.Entrypoint, []string{"gunicorn", "app:app"}) {
		t.Errorf("Entrypoint = %v", img.Config.Entrypoint)
	}
	if img.Config.Cmd != nil {
		t.Errorf("Cmd = %v, want nil", img.Config.Cmd)
	}
}

func TestImageConfigEntrypointWithCmd(t *testing.T) {
	img := baseImage()
	ImageConfig{
		Entrypoint:    []string{"python"},
		Cmd:           []string{"app.py"},
		SetEntrypoint: true,
		SetCmd:        true,
	}.apply(&img)

	if !slices.Equal(img.Config.Cmd, []string{"app.py"}) {
		t.Errorf("Cmd = %v, want [app.py]", img.Config.Cmd)
	}
}

func TestImageConfigExposedPortsAccumulate(t *testing.T) {
	img := baseImage()
	img.Config.ExposedPorts = map[string]struct{}{"80/tcp": {}}

	ImageConfig{ExposedPorts: []string{"5001/tcp"}}.apply(&img)

	if len(img.Config.ExposedPorts) != 2 {
		t.Errorf("ExposedPorts = %v, want 80/tcp and 5001/tcp", img.Config.ExposedPorts)
	}
}
