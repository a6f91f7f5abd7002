package internal

import (
	"strings"
	"testing"
)

func withBuildVars(t *testing.T, v, s, c string) {
	t.Helper()
	oldV, oldS, oldC := version, stage, gitCommit
	version, stage, gitCommit = v, s, c
	t.Cleanup(func() { version, stage, gitCommit = oldV, oldS, oldC })
}

func TestVersionStripsPrefix(t *testing.T) {
	withBuildVars(t, " V1.2.3 ", "main", "abc")
	if got := Version(); got != "1.2.3" {
		t.Fatalf("Version() = %q, want 1.2.3", got)
	}
}

func TestVersionStringLocal(t *testing.T) {
	withBuildVars(t, "1.0.0", "", "abc")
	if !IsLocal() {
		t.Fatal("IsLocal() = false with empty stage")
	}
	if got := VersionString(); got != localBuild {
		t.Fatalf("VersionString() = %q, want %q", got, localBuild)
	}
}

func TestVersionStringRelease(t *testing.T) {
	withBuildVars(t, "v1.0.0", "main", "abc123")
	got := VersionString()
	if !strings.HasPrefix(got, "1.0.0 abc123 [") {
		t.Fatalf("VersionString() = %q", got)
	}
}

func TestVersionStringStage(t *testing.T) {
	withBuildVars(t, "1.0.0", "Staging", "abc123")
	got := VersionString()
	if !strings.HasPrefix(got, "1.0.0+staging abc123") {
		t.Fatalf("VersionString() = %q", got)
	}
}

func TestUndefinedVariables(t *testing.T) {
	withBuildVars(t, "", "", "")
	if Version() != undefined || Stage() != undefined || GitCommit() != undefined {
		t.Fatal("expected undefined placeholders")
	}
}
