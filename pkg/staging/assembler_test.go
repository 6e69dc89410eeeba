package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testArtifacts(t *testing.T) (*deploy.BuildArtifacts, string) {
	t.Helper()
	root := t.TempDir()
	pkg := filepath.Join(root, "dist", "app-1.0.0.tar.gz")
	writeFile(t, pkg, "package bytes")

	bundle := filepath.Join(root, "webdist")
	writeFile(t, filepath.Join(bundle, "index.html"), "<html/>")
	writeFile(t, filepath.Join(bundle, "assets", "main.js"), "js")
	writeFile(t, filepath.Join(bundle, "README.md"), "docs")
	writeFile(t, filepath.Join(bundle, "tests", "smoke.js"), "test")

	writeFile(t, filepath.Join(root, "app.yaml"), "command: serve")
	return &deploy.BuildArtifacts{PackagePath: pkg, BundleDir: bundle}, root
}

func TestAssemble_CanonicalLayout(t *testing.T) {
	artifacts, root := testArtifacts(t)
	a := NewAssembler(root, []string{"*.md", "tests"}, testLogger(t))
	defer a.Close()

	manifest, err := a.Assemble(context.Background(), artifacts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"app.yaml",
		"packages/app-1.0.0.tar.gz",
		"static/assets/main.js",
		"static/index.html",
	}
	if len(manifest.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(manifest.Entries), manifest.Entries)
	}
	for i, entry := range manifest.Entries {
		if entry.RelPath != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], entry.RelPath)
		}
		if entry.Sha256 == "" || entry.SizeBytes == 0 {
			t.Errorf("entry %s missing hash or size", entry.RelPath)
		}
	}
}

func TestAssemble_ExclusionsNeverStaged(t *testing.T) {
	artifacts, root := testArtifacts(t)
	a := NewAssembler(root, []string{"*.md", "tests"}, testLogger(t))
	defer a.Close()

	manifest, err := a.Assemble(context.Background(), artifacts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, entry := range manifest.Entries {
		if entry.RelPath == "static/README.md" || entry.RelPath == "static/tests/smoke.js" {
			t.Errorf("excluded path reached the staging tree: %s", entry.RelPath)
		}
	}
}

func TestAssemble_ManifestSorted(t *testing.T) {
	artifacts, root := testArtifacts(t)
	a := NewAssembler(root, nil, testLogger(t))
	defer a.Close()

	manifest, err := a.Assemble(context.Background(), artifacts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(manifest.Entries); i++ {
		if manifest.Entries[i-1].RelPath >= manifest.Entries[i].RelPath {
			t.Errorf("manifest not sorted at %d: %s >= %s",
				i, manifest.Entries[i-1].RelPath, manifest.Entries[i].RelPath)
		}
	}
}

func TestClose_RemovesStagingDir(t *testing.T) {
	artifacts, root := testArtifacts(t)
	a := NewAssembler(root, nil, testLogger(t))

	manifest, err := a.Assemble(context.Background(), artifacts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(manifest.Root); !os.IsNotExist(err) {
		t.Errorf("staging directory still exists after Close: %s", manifest.Root)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestExcluded_SegmentAndGlobMatching(t *testing.T) {
	a := NewAssembler("", []string{"*.md", "tests", "__pycache__"}, testLogger(t))

	tests := []struct {
		rel  string
		want bool
	}{
		{"index.html", false},
		{"README.md", true},
		{"docs/guide.md", true},
		{"tests/smoke.js", true},
		{"deep/tests/unit.js", true},
		{"src/__pycache__/mod.pyc", true},
		{"testsuite/run.js", false},
	}
	for _, tt := range tests {
		if got := a.excluded(tt.rel); got != tt.want {
			t.Errorf("excluded(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}
