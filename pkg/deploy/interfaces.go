package deploy

import (
	"context"
)

// BuildArtifacts are the outputs of the artifact build phase.
type BuildArtifacts struct {
	// PackagePath is the built package artifact (e.g. a wheel or tarball).
	PackagePath string `json:"package_path"`

	// BundleDir is the static asset bundle directory.
	BundleDir string `json:"bundle_dir"`
}

// Builder produces the deployable artifacts by invoking external build
// tools. Build failures are deterministic and are never retried.
type Builder interface {
	Build(ctx context.Context) (*BuildArtifacts, error)
}

// ManifestEntry describes one file in the staging tree.
type ManifestEntry struct {
	// RelPath is the path relative to the staging root, slash-separated.
	RelPath string `json:"rel_path"`

	// Sha256 is the hex-encoded content hash.
	Sha256 string `json:"sha256"`

	// SizeBytes is the file size.
	SizeBytes uint64 `json:"size_bytes"`
}

// Manifest is the ordered description of the staging tree, sorted by
// relative path. It is rebuilt from disk on every run and never persisted.
type Manifest struct {
	// Root is the local staging directory the entries live under.
	Root string `json:"root"`

	// Entries are the files, sorted by RelPath with no duplicates.
	Entries []ManifestEntry `json:"entries"`
}

// Assembler builds the canonical staging tree from build artifacts and
// returns its manifest. Close removes the staging directory and must be
// called on every exit path.
type Assembler interface {
	Assemble(ctx context.Context, artifacts *BuildArtifacts) (*Manifest, error)
	Close() error
}

// SyncPlan is the computed difference between the local manifest and the
// remote workspace listing.
type SyncPlan struct {
	// Upload are entries whose remote hash is absent or different.
	Upload []ManifestEntry `json:"upload"`

	// Skip are entries already present remotely with a matching hash.
	Skip []ManifestEntry `json:"skip"`

	// Delete are remote paths to remove: stale package artifacts always,
	// plus any path absent from the manifest when pruning is enabled.
	Delete []string `json:"delete"`
}

// Empty reports whether the plan would touch no remote files.
func (p *SyncPlan) Empty() bool {
	return len(p.Upload) == 0 && len(p.Delete) == 0
}

// SyncReport summarizes an executed sync.
type SyncReport struct {
	Uploaded int      `json:"uploaded"`
	Skipped  int      `json:"skipped"`
	Deleted  int      `json:"deleted"`
	Failed   []string `json:"failed,omitempty"`
}

// Synchronizer reconciles the staging tree onto the remote workspace file
// store. Plan is read-only; Apply performs the uploads and deletions.
type Synchronizer interface {
	Plan(ctx context.Context, manifest *Manifest) (*SyncPlan, error)
	Apply(ctx context.Context, manifest *Manifest, plan *SyncPlan) (*SyncReport, error)
}

// DatabasePlan is the computed set of database actions. The instance,
// schema, and grants sub-resources are reported as separate phase results.
type DatabasePlan struct {
	// Instance is the planned action on the database instance.
	Instance Action `json:"instance"`

	// Schema is the planned action on the schema.
	Schema Action `json:"schema"`

	// Grants is the planned action on the grant set. Grants are
	// additive-only: extra remote grants are never removed here.
	Grants Action `json:"grants"`

	// InstanceStatus is the instance status observed at plan time, empty
	// when the instance does not exist yet. Apply must still wait for a
	// non-terminal instance even when no instance change is planned, so
	// the schema is never created before the instance is READY.
	InstanceStatus string `json:"instance_status,omitempty"`

	// MissingGrants are the desired grants absent remotely, as
	// "principal:level" strings for reporting.
	MissingGrants []string `json:"missing_grants,omitempty"`
}

// DatabaseProvisioner reconciles the managed database instance, schema, and
// grants. Plan fetches remote state fresh and computes actions; Apply
// converges, polling the instance until READY.
type DatabaseProvisioner interface {
	Plan(ctx context.Context) (*DatabasePlan, error)
	Apply(ctx context.Context, plan *DatabasePlan) error

	// PlanTeardown reports whether a teardown would delete the instance.
	PlanTeardown(ctx context.Context) (Action, error)

	// Teardown deletes the instance. Deleting an absent instance is
	// UNCHANGED, not an error.
	Teardown(ctx context.Context) (Action, error)
}

// AppPlan is the computed action on the app resource.
type AppPlan struct {
	// Action is the planned action.
	Action Action `json:"action"`

	// Changes lists the fields that differ, for logging and dry-run output.
	Changes []string `json:"changes,omitempty"`
}

// AppReconciler reconciles the compute+app resource. Plan is read-only;
// Apply issues a single create/update/delete call and polls to a terminal
// state. URL returns the serving URL after a successful apply, if the
// platform reported one.
type AppReconciler interface {
	Plan(ctx context.Context, action string) (*AppPlan, error)
	Apply(ctx context.Context, plan *AppPlan) error
	URL() string
}

// TableBootstrapper creates the application's database tables after the
// schema and grants are in place.
type TableBootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// RunRecorder persists run outcomes for the history command. Recording
// failures must never fail a deployment.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *Report) error
}
