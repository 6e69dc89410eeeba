// Package build invokes the external build tools that produce the package
// artifact and the static asset bundle. Build failures are deterministic
// and never retried.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// Builder runs the configured package and bundle builds from a project
// root directory.
type Builder struct {
	projectRoot string
	spec        config.BuildSpec
	log         *telemetry.Logger
}

// NewBuilder returns a builder for the project rooted at projectRoot.
func NewBuilder(projectRoot string, spec config.BuildSpec, log *telemetry.Logger) *Builder {
	return &Builder{projectRoot: projectRoot, spec: spec, log: log}
}

// Build runs the package build and then the bundle build. Either failing
// aborts the run before any remote mutation happens.
func (b *Builder) Build(ctx context.Context) (*deploy.BuildArtifacts, error) {
	packagePath, err := b.buildPackage(ctx)
	if err != nil {
		return nil, err
	}
	bundleDir, err := b.buildBundle(ctx)
	if err != nil {
		return nil, err
	}
	return &deploy.BuildArtifacts{PackagePath: packagePath, BundleDir: bundleDir}, nil
}

func (b *Builder) buildPackage(ctx context.Context) (string, error) {
	b.log.Infof("building package artifact: %s", strings.Join(b.spec.PackageCommand, " "))
	if err := b.run(ctx, b.projectRoot, b.spec.PackageCommand); err != nil {
		return "", deploy.NewPermanentError("package build failed", err).WithCode(deploy.CodeBuildFailed)
	}

	outputDir := filepath.Join(b.projectRoot, b.spec.PackageOutput)
	artifact, err := newestArtifact(outputDir)
	if err != nil {
		return "", deploy.NewPermanentError("package build produced no artifact", err).WithCode(deploy.CodeBuildFailed)
	}
	b.log.Infof("package artifact: %s", artifact)
	return artifact, nil
}

func (b *Builder) buildBundle(ctx context.Context) (string, error) {
	b.log.Infof("building asset bundle: %s", strings.Join(b.spec.BundleCommand, " "))
	workDir := filepath.Join(b.projectRoot, b.spec.BundleDir)
	if err := b.run(ctx, workDir, b.spec.BundleCommand); err != nil {
		return "", deploy.NewPermanentError("bundle build failed", err).WithCode(deploy.CodeBuildFailed)
	}

	bundleDir := filepath.Join(b.projectRoot, b.spec.BundleOutput)
	info, err := os.Stat(bundleDir)
	if err != nil {
		return "", deploy.NewPermanentError("bundle build produced no output directory", err).WithCode(deploy.CodeBuildFailed)
	}
	if !info.IsDir() {
		return "", deploy.NewPermanentError("bundle output is not a directory",
			fmt.Errorf("%s is a regular file", bundleDir)).WithCode(deploy.CodeBuildFailed)
	}
	b.log.Infof("asset bundle: %s", bundleDir)
	return bundleDir, nil
}

func (b *Builder) run(ctx context.Context, dir string, command []string) error {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w\n%s", strings.Join(command, " "), err, tail(stderr.String()))
	}
	b.log.Debugf("build output:\n%s", stdout.String())
	return nil
}

// newestArtifact returns the most recently modified regular file in dir.
// Build tools leave prior artifacts behind, so modification time picks
// the one this run produced.
func newestArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	type candidate struct {
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no files in %s", dir)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime > candidates[j].modTime })
	return candidates[0].path, nil
}

// tail keeps the last few lines of build tool output for the error
// message.
func tail(s string) string {
	const keep = 20
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= keep {
		return strings.TrimSpace(s)
	}
	return strings.Join(lines[len(lines)-keep:], "\n")
}
