// Package platform defines the capability set of the remote apps platform:
// workspace file storage, managed database instances, and app resources.
// The orchestration layers depend only on the Client interface; the HTTP
// implementation and the in-memory fake both satisfy it.
package platform

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors mapped from the platform's 404 and 409 responses.
var (
	ErrNotFound      = errors.New("platform: resource not found")
	ErrAlreadyExists = errors.New("platform: resource already exists")
)

// FileEntry describes one remote file under a workspace path.
type FileEntry struct {
	// Path is the file path relative to the listing root.
	Path string

	// Sha256 is the hex content hash the platform recorded at upload.
	Sha256 string

	// SizeBytes is the stored size.
	SizeBytes int64
}

// InstanceStatus is the lifecycle status of a database instance.
type InstanceStatus string

const (
	InstanceAbsent   InstanceStatus = "ABSENT"
	InstanceCreating InstanceStatus = "CREATING"
	InstanceUpdating InstanceStatus = "UPDATING"
	InstanceReady    InstanceStatus = "READY"
	InstanceFailed   InstanceStatus = "FAILED"
)

// IsTerminal reports whether polling can stop at this status.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceReady || s == InstanceFailed
}

// DatabaseInstance is the remote state of a managed database instance.
type DatabaseInstance struct {
	Name     string
	Capacity string
	Status   InstanceStatus

	// Host and Port locate the instance for direct SQL connections.
	Host string
	Port int

	// Diagnostic is the platform's verbatim failure detail, set when
	// Status is FAILED.
	Diagnostic string
}

// DatabaseInstanceSpec is the creation request for a database instance.
type DatabaseInstanceSpec struct {
	Name     string
	Capacity string
}

// SchemaGrant associates a principal with a privilege on a schema.
type SchemaGrant struct {
	Principal string
	Privilege string
}

// DatabaseCredential is a short-lived credential for direct SQL access.
type DatabaseCredential struct {
	Token     string
	ExpiresAt string
}

// AppStatus is the lifecycle status of an app resource.
type AppStatus string

const (
	AppAbsent    AppStatus = "ABSENT"
	AppPending   AppStatus = "PENDING"
	AppDeploying AppStatus = "DEPLOYING"
	AppReady     AppStatus = "READY"
	AppFailed    AppStatus = "FAILED"
)

// IsTerminal reports whether polling can stop at this status.
func (s AppStatus) IsTerminal() bool {
	return s == AppReady || s == AppFailed
}

// AppSpec is the desired shape of an app resource.
type AppSpec struct {
	Name        string
	Description string
	ComputeSize string

	// SourcePath is the workspace path serving the app's files.
	SourcePath string

	// EnvVars are passed to the app process, order preserved.
	EnvVars []EnvVarSpec

	// DatabaseInstance and DatabaseSchema bind the app to its database.
	DatabaseInstance string
	DatabaseSchema   string
}

// EnvVarSpec is one app environment variable.
type EnvVarSpec struct {
	Name  string
	Value string
}

// App is the remote state of an app resource.
type App struct {
	Spec   AppSpec
	Status AppStatus

	// URL is the serving endpoint, set once the app is READY.
	URL string

	// Diagnostic is the platform's verbatim failure detail, set when
	// Status is FAILED.
	Diagnostic string
}

// AppGrant associates a principal with a permission level on an app.
type AppGrant struct {
	Principal string
	Level     string
}

// Client is the remote platform capability set. All calls fetch or mutate
// live remote state; implementations must not cache across calls.
type Client interface {
	// CurrentUser returns the authenticated user's name.
	CurrentUser(ctx context.Context) (string, error)

	// MkdirAll ensures a workspace directory path exists.
	MkdirAll(ctx context.Context, path string) error

	// ListFiles lists files recursively under a workspace path. A missing
	// path yields an empty listing, not an error.
	ListFiles(ctx context.Context, path string) ([]FileEntry, error)

	// UploadFile writes the contents of r to the workspace path,
	// replacing any existing file when overwrite is set.
	UploadFile(ctx context.Context, path string, r io.Reader, overwrite bool) error

	// DeleteFile removes a workspace file. Deleting an absent file
	// returns ErrNotFound.
	DeleteFile(ctx context.Context, path string) error

	// GetDatabaseInstance fetches a database instance by name, or
	// ErrNotFound.
	GetDatabaseInstance(ctx context.Context, name string) (*DatabaseInstance, error)

	// CreateDatabaseInstance starts instance creation. Returns
	// ErrAlreadyExists if the name is taken.
	CreateDatabaseInstance(ctx context.Context, spec DatabaseInstanceSpec) (*DatabaseInstance, error)

	// UpdateDatabaseInstance changes the capacity tier of an instance.
	UpdateDatabaseInstance(ctx context.Context, name, capacity string) (*DatabaseInstance, error)

	// DeleteDatabaseInstance removes an instance. Absent instances return
	// ErrNotFound.
	DeleteDatabaseInstance(ctx context.Context, name string) error

	// CreateSchema creates a schema in an instance. Creating an existing
	// schema returns ErrAlreadyExists.
	CreateSchema(ctx context.Context, instance, schema string) error

	// ListGrants returns current grants on a schema.
	ListGrants(ctx context.Context, instance, schema string) ([]SchemaGrant, error)

	// AddGrant adds a grant to a schema. Adding an existing grant is a
	// no-op on the platform side.
	AddGrant(ctx context.Context, instance, schema string, grant SchemaGrant) error

	// GenerateDatabaseCredential mints a short-lived SQL credential for
	// an instance. requestID deduplicates retried requests.
	GenerateDatabaseCredential(ctx context.Context, requestID, instance string) (*DatabaseCredential, error)

	// GetApp fetches an app resource by name, or ErrNotFound.
	GetApp(ctx context.Context, name string) (*App, error)

	// CreateApp creates an app resource. Returns ErrAlreadyExists if the
	// name is taken.
	CreateApp(ctx context.Context, spec AppSpec) (*App, error)

	// UpdateApp replaces the app's spec in a single call.
	UpdateApp(ctx context.Context, name string, spec AppSpec) (*App, error)

	// DeleteApp removes an app resource. Absent apps return ErrNotFound.
	DeleteApp(ctx context.Context, name string) error

	// ListAppGrants returns current permission grants on an app.
	ListAppGrants(ctx context.Context, name string) ([]AppGrant, error)

	// AddAppGrant adds a permission grant to an app.
	AddAppGrant(ctx context.Context, name string, grant AppGrant) error
}
