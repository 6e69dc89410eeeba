package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	return log
}

func TestBuild_Success(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "web"), 0o755); err != nil {
		t.Fatal(err)
	}

	spec := config.BuildSpec{
		PackageCommand: []string{"sh", "-c", "mkdir -p dist && echo artifact > dist/app-1.0.0.tar.gz"},
		PackageOutput:  "dist",
		BundleCommand:  []string{"sh", "-c", "mkdir -p ../webdist && echo index > ../webdist/index.html"},
		BundleDir:      "web",
		BundleOutput:   "webdist",
	}

	artifacts, err := NewBuilder(root, spec, testLogger(t)).Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(artifacts.PackagePath) != "app-1.0.0.tar.gz" {
		t.Errorf("unexpected package path: %s", artifacts.PackagePath)
	}
	if artifacts.BundleDir != filepath.Join(root, "webdist") {
		t.Errorf("unexpected bundle dir: %s", artifacts.BundleDir)
	}
}

func TestBuild_PackageCommandFails(t *testing.T) {
	root := t.TempDir()
	spec := config.BuildSpec{
		PackageCommand: []string{"sh", "-c", "echo broken >&2; exit 3"},
		PackageOutput:  "dist",
		BundleCommand:  []string{"true"},
		BundleDir:      ".",
		BundleOutput:   ".",
	}

	_, err := NewBuilder(root, spec, testLogger(t)).Build(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var derr *deploy.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected classified error, got %T", err)
	}
	if derr.Code != deploy.CodeBuildFailed {
		t.Errorf("expected BUILD_FAILED, got %s", derr.Code)
	}
	if deploy.IsRetryable(err) {
		t.Error("build failures must not be retryable")
	}
}

func TestBuild_NoArtifactProduced(t *testing.T) {
	root := t.TempDir()
	spec := config.BuildSpec{
		PackageCommand: []string{"sh", "-c", "mkdir -p dist"},
		PackageOutput:  "dist",
		BundleCommand:  []string{"true"},
		BundleDir:      ".",
		BundleOutput:   ".",
	}

	_, err := NewBuilder(root, spec, testLogger(t)).Build(context.Background())
	if err == nil {
		t.Fatal("expected error for empty output directory")
	}
	if deploy.CodeOf(err) != deploy.CodeBuildFailed {
		t.Errorf("expected BUILD_FAILED, got %s", deploy.CodeOf(err))
	}
}

func TestNewestArtifact_PicksLatest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "app-0.9.0.tar.gz")
	current := filepath.Join(dir, "app-1.0.0.tar.gz")
	if err := os.WriteFile(old, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(current, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(current, later, later); err != nil {
		t.Fatal(err)
	}

	got, err := newestArtifact(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != current {
		t.Errorf("expected %s, got %s", current, got)
	}
}
