// Package config loads the declarative per-environment deployment
// configuration into an immutable desired state. Loading is a pure function
// of the file contents and the caller-supplied identity; a desired state is
// either fully valid or not returned at all.
package config

import "time"

// ComputeSize is the closed set of app compute tiers.
type ComputeSize string

const (
	ComputeSmall  ComputeSize = "SMALL"
	ComputeMedium ComputeSize = "MEDIUM"
	ComputeLarge  ComputeSize = "LARGE"
	ComputeLiquid ComputeSize = "LIQUID"
)

// PermissionLevel is the closed set of app permission levels.
type PermissionLevel string

const (
	PermissionCanUse    PermissionLevel = "CAN_USE"
	PermissionCanManage PermissionLevel = "CAN_MANAGE"
)

// Capacity is the closed set of database instance capacity tiers.
type Capacity string

const (
	CapacityCU1 Capacity = "CU_1"
	CapacityCU2 Capacity = "CU_2"
	CapacityCU4 Capacity = "CU_4"
	CapacityCU8 Capacity = "CU_8"
)

// EnvVar is one environment variable passed to the app, order-preserving.
type EnvVar struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Value string `yaml:"value" json:"value"`
}

// Grant associates a principal with a permission level on the app.
type Grant struct {
	Principal string          `yaml:"principal" json:"principal" validate:"required"`
	Level     PermissionLevel `yaml:"level" json:"level" validate:"required,oneof=CAN_USE CAN_MANAGE"`
}

// DatabaseSpec describes the managed database backing the app.
type DatabaseSpec struct {
	// InstanceName is the managed database instance name.
	InstanceName string `yaml:"instance_name" json:"instance_name" validate:"required"`

	// Schema is the schema for application tables.
	Schema string `yaml:"schema" json:"schema" validate:"required"`

	// Capacity is the instance capacity tier.
	Capacity Capacity `yaml:"capacity" json:"capacity" validate:"required,oneof=CU_1 CU_2 CU_4 CU_8"`

	// BootstrapTables creates the application tables after provisioning.
	BootstrapTables bool `yaml:"bootstrap_tables" json:"bootstrap_tables"`
}

// BuildSpec describes the external build tool invocations and the staging
// exclusion patterns.
type BuildSpec struct {
	// PackageCommand builds the package artifact.
	PackageCommand []string `yaml:"package_command" json:"package_command" validate:"required,min=1"`

	// PackageOutput is the directory the package artifact lands in,
	// relative to the project root.
	PackageOutput string `yaml:"package_output" json:"package_output" validate:"required"`

	// BundleCommand builds the static asset bundle.
	BundleCommand []string `yaml:"bundle_command" json:"bundle_command" validate:"required,min=1"`

	// BundleDir is the directory the bundle command runs in, relative to
	// the project root.
	BundleDir string `yaml:"bundle_dir" json:"bundle_dir" validate:"required"`

	// BundleOutput is the built bundle directory, relative to the project
	// root.
	BundleOutput string `yaml:"bundle_output" json:"bundle_output" validate:"required"`

	// ExcludePatterns are glob patterns excluded from staging, matched
	// against source-relative paths and path segments.
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`
}

// DeploymentSpec bounds remote operations.
type DeploymentSpec struct {
	// TimeoutSeconds is the overall poll deadline for remote resources.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=1"`

	// PollIntervalSeconds is the delay between status polls.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" json:"poll_interval_seconds" validate:"min=1"`
}

// Timeout returns the deployment timeout as a duration.
func (d DeploymentSpec) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// PollInterval returns the poll interval as a duration.
func (d DeploymentSpec) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// DesiredState is the fully resolved configuration for one environment.
// It is derived once per invocation and never mutated during a run.
type DesiredState struct {
	// Environment is the environment name the state was loaded for.
	Environment string `json:"environment" validate:"required"`

	// AppName is the app resource name.
	AppName string `json:"app_name" validate:"required"`

	// Description is the human-readable app description.
	Description string `json:"description"`

	// WorkspacePath is the remote workspace path for staged files, with
	// placeholders already substituted.
	WorkspacePath string `json:"workspace_path" validate:"required"`

	// ComputeSize is the app compute tier.
	ComputeSize ComputeSize `json:"compute_size" validate:"required,oneof=SMALL MEDIUM LARGE LIQUID"`

	// EnvVars are the app environment variables, in declared order.
	EnvVars []EnvVar `json:"env_vars" validate:"dive"`

	// Permissions are the app permission grants, in declared order.
	Permissions []Grant `json:"permissions" validate:"dive"`

	// Database is the backing database spec.
	Database DatabaseSpec `json:"database"`

	// Build configures artifact builds and staging exclusions.
	Build BuildSpec `json:"build"`

	// Deployment bounds remote operations.
	Deployment DeploymentSpec `json:"deployment"`
}
