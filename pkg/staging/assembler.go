// Package staging assembles the canonical local file tree that gets
// synced to the remote workspace: the package artifact under packages/,
// the static bundle under static/, and the app config files from the
// project root. The tree lives in a temporary directory that is removed
// on every exit path.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// PackageDir is the staging subdirectory holding the package artifact.
// The synchronizer prunes stale remote files under this directory even
// when global pruning is off.
const PackageDir = "packages"

// StaticDir is the staging subdirectory holding the asset bundle.
const StaticDir = "static"

// configFiles are project-root files copied into the staging root when
// present.
var configFiles = []string{"app.yaml", "requirements.txt"}

// Assembler builds the staging tree and its manifest.
type Assembler struct {
	projectRoot string
	excludes    []string
	log         *telemetry.Logger

	stagingDir string
	seen       map[string]string
}

// NewAssembler returns an assembler for the given project root and
// exclusion glob patterns.
func NewAssembler(projectRoot string, excludes []string, log *telemetry.Logger) *Assembler {
	return &Assembler{projectRoot: projectRoot, excludes: excludes, log: log}
}

// Assemble creates a fresh staging directory, copies the build artifacts
// and config files into the canonical layout, and returns the sorted
// manifest. Excluded source paths never reach the tree. Two sources
// mapping to one staged path is an assembly bug and fails immediately.
func (a *Assembler) Assemble(ctx context.Context, artifacts *deploy.BuildArtifacts) (*deploy.Manifest, error) {
	dir, err := os.MkdirTemp("", "lakedeploy-staging-*")
	if err != nil {
		return nil, deploy.NewPermanentError("creating staging directory", err).WithCode(deploy.CodeAssemblyFailed)
	}
	a.stagingDir = dir
	a.seen = make(map[string]string)
	a.log.Debugf("staging directory: %s", dir)

	if err := a.populate(ctx, artifacts); err != nil {
		return nil, err
	}

	manifest, err := a.buildManifest(dir)
	if err != nil {
		return nil, err
	}
	a.log.Infof("staged %d files", len(manifest.Entries))
	return manifest, nil
}

// Close removes the staging directory. Safe to call more than once.
func (a *Assembler) Close() error {
	if a.stagingDir == "" {
		return nil
	}
	dir := a.stagingDir
	a.stagingDir = ""
	return os.RemoveAll(dir)
}

func (a *Assembler) populate(ctx context.Context, artifacts *deploy.BuildArtifacts) error {
	if err := ctx.Err(); err != nil {
		return deploy.NewPermanentError("assembly cancelled", err).WithCode(deploy.CodeCancelled)
	}

	dest := path.Join(PackageDir, filepath.Base(artifacts.PackagePath))
	if err := a.copyFile(artifacts.PackagePath, dest); err != nil {
		return err
	}

	if err := a.copyTree(ctx, artifacts.BundleDir, StaticDir); err != nil {
		return err
	}

	for _, name := range configFiles {
		src := filepath.Join(a.projectRoot, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if a.excluded(name) {
			continue
		}
		if err := a.copyFile(src, name); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) copyTree(ctx context.Context, srcRoot, destPrefix string) error {
	return filepath.WalkDir(srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return deploy.NewPermanentError("walking bundle directory", err).WithCode(deploy.CodeAssemblyFailed)
		}
		if err := ctx.Err(); err != nil {
			return deploy.NewPermanentError("assembly cancelled", err).WithCode(deploy.CodeCancelled)
		}
		rel, err := filepath.Rel(srcRoot, p)
		if err != nil {
			return deploy.NewPermanentError("resolving bundle path", err).WithCode(deploy.CodeAssemblyFailed)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if a.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		return a.copyFile(p, path.Join(destPrefix, rel))
	})
}

// copyFile copies src into the staging tree at relDest, failing fast when
// relDest was already written by a different source.
func (a *Assembler) copyFile(src, relDest string) error {
	if prev, ok := a.seen[relDest]; ok {
		return deploy.NewPermanentError("duplicate staged path",
			fmt.Errorf("%s staged from both %s and %s", relDest, prev, src)).WithCode(deploy.CodeAssemblyFailed)
	}
	a.seen[relDest] = src

	destPath := filepath.Join(a.stagingDir, filepath.FromSlash(relDest))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return deploy.NewPermanentError("creating staging subdirectory", err).WithCode(deploy.CodeAssemblyFailed)
	}

	in, err := os.Open(src)
	if err != nil {
		return deploy.NewPermanentError("opening source file", err).WithCode(deploy.CodeAssemblyFailed)
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return deploy.NewPermanentError("creating staged file", err).WithCode(deploy.CodeAssemblyFailed)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return deploy.NewPermanentError("copying staged file", err).WithCode(deploy.CodeAssemblyFailed)
	}
	if err := out.Close(); err != nil {
		return deploy.NewPermanentError("closing staged file", err).WithCode(deploy.CodeAssemblyFailed)
	}
	return nil
}

// excluded matches a slash-separated source-relative path against the
// exclusion patterns. A pattern matches the whole path or any single
// path segment, so "tests" excludes tests/ at any depth and "*.md"
// excludes markdown files anywhere.
func (a *Assembler) excluded(rel string) bool {
	for _, pattern := range a.excludes {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for _, segment := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pattern, segment); ok {
				return true
			}
		}
	}
	return false
}

func (a *Assembler) buildManifest(root string) (*deploy.Manifest, error) {
	var entries []deploy.ManifestEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hash, size, err := hashFile(p)
		if err != nil {
			return err
		}
		entries = append(entries, deploy.ManifestEntry{
			RelPath:   filepath.ToSlash(rel),
			Sha256:    hash,
			SizeBytes: size,
		})
		return nil
	})
	if err != nil {
		return nil, deploy.NewPermanentError("building manifest", err).WithCode(deploy.CodeAssemblyFailed)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return &deploy.Manifest{Root: root, Entries: entries}, nil
}

func hashFile(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}
