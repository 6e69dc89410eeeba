// Package filesync reconciles the staged file tree onto the remote
// workspace file store. Planning compares content hashes against a fresh
// remote listing; applying uploads on a bounded worker pool with retries
// on transient failures.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
	"github.com/lakedeploy/lakedeploy/pkg/staging"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// DefaultWorkers is the upload worker pool size.
const DefaultWorkers = 8

// Options tune the synchronizer.
type Options struct {
	// Workers bounds concurrent uploads. Zero means DefaultWorkers.
	Workers int

	// Prune deletes every remote file absent from the manifest. Off by
	// default; stale package artifacts are pruned regardless.
	Prune bool

	// Retry is the per-upload retry policy.
	Retry deploy.RetryPolicy
}

// Synchronizer implements deploy.Synchronizer against a platform client.
type Synchronizer struct {
	client        platform.Client
	workspacePath string
	opts          Options
	log           *telemetry.Logger
}

// NewSynchronizer returns a synchronizer targeting workspacePath.
func NewSynchronizer(client platform.Client, workspacePath string, opts Options, log *telemetry.Logger) *Synchronizer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = deploy.DefaultRetryPolicy()
	}
	return &Synchronizer{client: client, workspacePath: workspacePath, opts: opts, log: log}
}

// Plan lists remote files fresh and diffs them against the manifest.
// Local state is never trusted across runs; the remote listing is the
// source of truth for what is already uploaded.
func (s *Synchronizer) Plan(ctx context.Context, manifest *deploy.Manifest) (*deploy.SyncPlan, error) {
	remote, err := s.client.ListFiles(ctx, s.workspacePath)
	if err != nil {
		return nil, deploy.FromPlatform("listing remote files", err).WithCode(deploy.CodeSyncFailed)
	}

	remoteHashes := make(map[string]string, len(remote))
	for _, entry := range remote {
		remoteHashes[entry.Path] = entry.Sha256
	}

	local := make(map[string]bool, len(manifest.Entries))
	plan := &deploy.SyncPlan{}
	for _, entry := range manifest.Entries {
		local[entry.RelPath] = true
		if remoteHashes[entry.RelPath] == entry.Sha256 {
			plan.Skip = append(plan.Skip, entry)
		} else {
			plan.Upload = append(plan.Upload, entry)
		}
	}

	for _, entry := range remote {
		if local[entry.Path] {
			continue
		}
		stalePackage := strings.HasPrefix(entry.Path, staging.PackageDir+"/")
		if s.opts.Prune || stalePackage {
			plan.Delete = append(plan.Delete, entry.Path)
		}
	}

	s.log.Infof("sync plan: %d to upload, %d unchanged, %d to delete",
		len(plan.Upload), len(plan.Skip), len(plan.Delete))
	return plan, nil
}

// Apply executes the plan: uploads run concurrently on the worker pool,
// each retried on transient failures; deletions follow once all uploads
// succeed. Cancellation stops dispatching new uploads while in-flight
// ones finish or fail on their own.
func (s *Synchronizer) Apply(ctx context.Context, manifest *deploy.Manifest, plan *deploy.SyncPlan) (*deploy.SyncReport, error) {
	report := &deploy.SyncReport{Skipped: len(plan.Skip)}
	if plan.Empty() {
		return report, nil
	}

	if err := s.client.MkdirAll(ctx, s.workspacePath); err != nil {
		return report, deploy.FromPlatform("creating workspace directory", err).WithCode(deploy.CodeSyncFailed)
	}

	if err := s.uploadAll(ctx, manifest.Root, plan.Upload, report); err != nil {
		return report, err
	}

	for _, rel := range plan.Delete {
		err := s.client.DeleteFile(ctx, path.Join(s.workspacePath, rel))
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			return report, deploy.FromPlatform("deleting stale remote file "+rel, err).WithCode(deploy.CodeSyncFailed)
		}
		report.Deleted++
		s.log.Debugf("deleted %s", rel)
	}
	return report, nil
}

func (s *Synchronizer) uploadAll(ctx context.Context, root string, entries []deploy.ManifestEntry, report *deploy.SyncReport) error {
	jobs := make(chan deploy.ManifestEntry)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				err := s.uploadOne(ctx, root, entry)
				mu.Lock()
				if err != nil {
					report.Failed = append(report.Failed, entry.RelPath)
					if firstErr == nil {
						firstErr = err
					}
				} else {
					report.Uploaded++
				}
				mu.Unlock()
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- entry:
			dispatched++
		}
	}
	close(jobs)
	wg.Wait()

	// Cancellation only fails the sync when entries were left undispatched;
	// a cancel arriving after every upload already finished is not a
	// failure.
	if dispatched < len(entries) && firstErr == nil {
		firstErr = deploy.NewPermanentError("sync cancelled", ctx.Err()).WithCode(deploy.CodeCancelled)
	}
	if firstErr != nil {
		return deploy.NewPermanentError(
			fmt.Sprintf("%d of %d uploads failed", len(report.Failed), len(entries)),
			firstErr).WithCode(deploy.CodeSyncFailed)
	}
	return nil
}

// uploadOne uploads a single manifest entry, reopening the file on each
// retry attempt so a partially consumed reader is never resent.
func (s *Synchronizer) uploadOne(ctx context.Context, root string, entry deploy.ManifestEntry) error {
	remotePath := path.Join(s.workspacePath, entry.RelPath)
	return deploy.Retry(ctx, s.opts.Retry, func() error {
		f, err := os.Open(filepath.Join(root, filepath.FromSlash(entry.RelPath)))
		if err != nil {
			return deploy.NewPermanentError("opening staged file "+entry.RelPath, err).WithCode(deploy.CodeSyncFailed)
		}
		defer f.Close()

		if err := s.client.UploadFile(ctx, remotePath, f, true); err != nil {
			return deploy.FromPlatform("uploading "+entry.RelPath, err)
		}
		s.log.Debugf("uploaded %s (%d bytes)", entry.RelPath, entry.SizeBytes)
		return nil
	})
}
