package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validDoc = `
common:
  build:
    package_command: ["python", "-m", "build", "--wheel"]
    package_output: "dist"
    bundle_command: ["npm", "run", "build"]
    bundle_dir: "frontend"
    bundle_output: "frontend/dist"
    exclude_patterns: ["*.md", "tests", "__pycache__"]
  deployment:
    timeout_seconds: 300
    poll_interval_seconds: 2
environments:
  production:
    app_name: demo
    description: "demo app"
    workspace_path: "/Workspace/Users/{username}/apps/demo"
    compute_size: MEDIUM
    env_vars:
      - name: LOG_LEVEL
        value: info
    permissions:
      - principal: group:engineering
        level: CAN_USE
    database:
      instance_name: demo-db
      schema: app_data
      capacity: CU_1
      bootstrap_tables: true
  staging:
    app_name: demo-staging
    workspace_path: "/Workspace/Shared/demo-staging"
    database:
      instance_name: demo-staging-db
`

func TestParse(t *testing.T) {
	identity := Identity{Username: "alice@example.com"}

	tests := []struct {
		name        string
		doc         string
		environment string
		identity    Identity
		wantReason  Reason
		checkFunc   func(*testing.T, *DesiredState)
	}{
		{
			name:        "valid environment fully resolved",
			doc:         validDoc,
			environment: "production",
			identity:    identity,
			checkFunc: func(t *testing.T, ds *DesiredState) {
				if ds.AppName != "demo" {
					t.Errorf("expected app name 'demo', got %s", ds.AppName)
				}
				if ds.WorkspacePath != "/Workspace/Users/alice@example.com/apps/demo" {
					t.Errorf("placeholder not substituted: %s", ds.WorkspacePath)
				}
				if ds.ComputeSize != ComputeMedium {
					t.Errorf("expected MEDIUM, got %s", ds.ComputeSize)
				}
				if len(ds.Permissions) != 1 || ds.Permissions[0].Level != PermissionCanUse {
					t.Errorf("unexpected permissions: %+v", ds.Permissions)
				}
				if !ds.Database.BootstrapTables {
					t.Error("expected bootstrap_tables true")
				}
				if ds.Deployment.TimeoutSeconds != 300 {
					t.Errorf("expected timeout 300, got %d", ds.Deployment.TimeoutSeconds)
				}
			},
		},
		{
			name:        "defaults applied when omitted",
			doc:         validDoc,
			environment: "staging",
			identity:    identity,
			checkFunc: func(t *testing.T, ds *DesiredState) {
				if ds.ComputeSize != DefaultComputeSize {
					t.Errorf("expected default compute size, got %s", ds.ComputeSize)
				}
				if ds.Database.Schema != DefaultSchema {
					t.Errorf("expected default schema, got %s", ds.Database.Schema)
				}
				if ds.Database.Capacity != DefaultCapacity {
					t.Errorf("expected default capacity, got %s", ds.Database.Capacity)
				}
			},
		},
		{
			name:        "unknown environment",
			doc:         validDoc,
			environment: "nosuch",
			identity:    identity,
			wantReason:  ReasonUnknownEnvironment,
		},
		{
			name: "missing app name",
			doc: `
common:
  build:
    package_command: ["make", "package"]
    package_output: "dist"
    bundle_command: ["make", "bundle"]
    bundle_dir: "web"
    bundle_output: "web/dist"
environments:
  production:
    workspace_path: "/Workspace/Shared/x"
    database:
      instance_name: x-db
`,
			environment: "production",
			identity:    identity,
			wantReason:  ReasonMissingField,
		},
		{
			name: "invalid compute size enum",
			doc: `
common:
  build:
    package_command: ["make", "package"]
    package_output: "dist"
    bundle_command: ["make", "bundle"]
    bundle_dir: "web"
    bundle_output: "web/dist"
environments:
  production:
    app_name: demo
    workspace_path: "/Workspace/Shared/x"
    compute_size: GIGANTIC
    database:
      instance_name: x-db
`,
			environment: "production",
			identity:    identity,
			wantReason:  ReasonInvalidEnum,
		},
		{
			name:        "unknown placeholder",
			doc:         "environments:\n  production:\n    app_name: demo\n    workspace_path: \"/Workspace/{team}/demo\"\n    database:\n      instance_name: x-db\ncommon:\n  build:\n    package_command: [\"make\"]\n    package_output: \"dist\"\n    bundle_command: [\"make\"]\n    bundle_dir: \"web\"\n    bundle_output: \"web/dist\"\n",
			environment: "production",
			identity:    identity,
			wantReason:  ReasonTemplate,
		},
		{
			name:        "username placeholder without identity",
			doc:         validDoc,
			environment: "production",
			identity:    Identity{},
			wantReason:  ReasonTemplate,
		},
		{
			name:        "unparseable document",
			doc:         "environments: [not, a, mapping",
			environment: "production",
			identity:    identity,
			wantReason:  ReasonBadFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := Parse([]byte(tt.doc), tt.environment, tt.identity)

			if tt.wantReason != "" {
				if err == nil {
					t.Fatalf("expected %s error, got none", tt.wantReason)
				}
				if got := ReasonOf(err); got != tt.wantReason {
					t.Errorf("expected reason %s, got %s (%v)", tt.wantReason, got, err)
				}
				if ds != nil {
					t.Error("expected nil state on error")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, ds)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lakedeploy.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ds, err := Load(path, "production", Identity{Username: "alice@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Environment != "production" {
		t.Errorf("expected environment 'production', got %s", ds.Environment)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "production", Identity{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if ReasonOf(err) != ReasonBadFile {
		t.Errorf("expected bad_file reason, got %s", ReasonOf(err))
	}
}
