package app

import (
	"context"
	"testing"
	"time"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
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

func testState() *config.DesiredState {
	return &config.DesiredState{
		Environment:   "production",
		AppName:       "demo",
		Description:   "demo app",
		WorkspacePath: "/Workspace/Users/tester/apps/demo",
		ComputeSize:   config.ComputeMedium,
		EnvVars:       []config.EnvVar{{Name: "LOG_LEVEL", Value: "info"}},
		Database: config.DatabaseSpec{
			InstanceName: "demo-db",
			Schema:       "app_data",
			Capacity:     config.CapacityCU1,
		},
	}
}

func fastPoll() deploy.PollConfig {
	return deploy.PollConfig{Interval: time.Millisecond, Deadline: time.Second}
}

func existingApp(state *config.DesiredState) platform.App {
	return platform.App{
		Spec: platform.AppSpec{
			Name:             state.AppName,
			Description:      state.Description,
			ComputeSize:      string(state.ComputeSize),
			SourcePath:       state.WorkspacePath,
			EnvVars:          []platform.EnvVarSpec{{Name: "LOG_LEVEL", Value: "info"}},
			DatabaseInstance: state.Database.InstanceName,
			DatabaseSchema:   state.Database.Schema,
		},
		Status: platform.AppReady,
		URL:    "https://demo.apps.fake",
	}
}

func TestPlan_CreateAbsentApp(t *testing.T) {
	fake := platform.NewFake()
	r := NewReconciler(fake, testState(), fastPoll(), testLogger(t))

	plan, err := r.Plan(context.Background(), deploy.ActionCreateApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != deploy.ActionCreated {
		t.Errorf("expected CREATED, got %s", plan.Action)
	}
	if got := fake.Mutations(); len(got) != 0 {
		t.Errorf("plan issued mutating calls: %v", got)
	}
}

func TestPlan_CreateExistingAppFails(t *testing.T) {
	state := testState()
	fake := platform.NewFake()
	fake.SetApp(existingApp(state))
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))

	_, err := r.Plan(context.Background(), deploy.ActionCreateApp)
	if err == nil {
		t.Fatal("expected ALREADY_EXISTS error")
	}
	if deploy.CodeOf(err) != deploy.CodeAlreadyExists {
		t.Errorf("expected ALREADY_EXISTS, got %s", deploy.CodeOf(err))
	}
}

func TestPlan_UpdateAbsentAppFails(t *testing.T) {
	fake := platform.NewFake()
	r := NewReconciler(fake, testState(), fastPoll(), testLogger(t))

	_, err := r.Plan(context.Background(), deploy.ActionUpdateApp)
	if err == nil {
		t.Fatal("expected NOT_FOUND error")
	}
	if deploy.CodeOf(err) != deploy.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", deploy.CodeOf(err))
	}
}

func TestPlan_UpdateUnchanged(t *testing.T) {
	state := testState()
	fake := platform.NewFake()
	fake.SetApp(existingApp(state))
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))

	plan, err := r.Plan(context.Background(), deploy.ActionUpdateApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != deploy.ActionUnchanged {
		t.Errorf("expected UNCHANGED, got %s (changes %v)", plan.Action, plan.Changes)
	}
	if r.URL() != "https://demo.apps.fake" {
		t.Errorf("expected URL captured from remote state, got %q", r.URL())
	}
}

func TestPlan_UpdateComputeChange(t *testing.T) {
	state := testState()
	fake := platform.NewFake()
	fake.SetApp(existingApp(state))
	state.ComputeSize = config.ComputeLarge
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))

	plan, err := r.Plan(context.Background(), deploy.ActionUpdateApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != deploy.ActionUpdated {
		t.Errorf("expected UPDATED, got %s", plan.Action)
	}
	if len(plan.Changes) != 1 {
		t.Errorf("expected one change, got %v", plan.Changes)
	}
}

func TestApply_CreatePollsToReady(t *testing.T) {
	state := testState()
	state.Permissions = []config.Grant{{Principal: "group:eng", Level: config.PermissionCanUse}}
	fake := platform.NewFake()
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))
	ctx := context.Background()

	plan, err := r.Plan(ctx, deploy.ActionCreateApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if r.URL() == "" {
		t.Error("expected URL after successful create")
	}
	grants, err := fake.ListAppGrants(ctx, "demo")
	if err != nil {
		t.Fatalf("listing grants: %v", err)
	}
	if len(grants) != 1 || grants[0].Principal != "group:eng" {
		t.Errorf("expected app grant applied, got %+v", grants)
	}
}

func TestApply_UpdateIsSingleCall(t *testing.T) {
	state := testState()
	fake := platform.NewFake()
	fake.SetApp(existingApp(state))
	state.ComputeSize = config.ComputeLarge
	state.Description = "bigger demo"
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))
	ctx := context.Background()

	plan, err := r.Plan(ctx, deploy.ActionUpdateApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("apply: %v", err)
	}

	updates := 0
	for _, m := range fake.Mutations() {
		if m == "UpdateApp demo" {
			updates++
		}
	}
	if updates != 1 {
		t.Errorf("expected exactly one update call, got %d (%v)", updates, fake.Mutations())
	}
}

func TestApply_FailedDeploySurfacesDiagnostic(t *testing.T) {
	state := testState()
	fake := platform.NewFake()
	fake.ScriptAppStatuses("demo", platform.AppPending, platform.AppFailed)
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))
	ctx := context.Background()

	plan, err := r.Plan(ctx, deploy.ActionCreateApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	err = r.Apply(ctx, plan)
	if err == nil {
		t.Fatal("expected failure")
	}
	if deploy.CodeOf(err) != deploy.CodeAppFailed {
		t.Errorf("expected APP_FAILED, got %s", deploy.CodeOf(err))
	}
	if deploy.IsTimeout(err) {
		t.Error("FAILED must not be reported as timeout")
	}
}

func TestApply_DeleteAbsentIsUnchanged(t *testing.T) {
	fake := platform.NewFake()
	r := NewReconciler(fake, testState(), fastPoll(), testLogger(t))
	ctx := context.Background()

	plan, err := r.Plan(ctx, deploy.ActionDeleteApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != deploy.ActionUnchanged {
		t.Errorf("expected UNCHANGED, got %s", plan.Action)
	}
	if err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestApply_DeleteExisting(t *testing.T) {
	state := testState()
	fake := platform.NewFake()
	fake.SetApp(existingApp(state))
	r := NewReconciler(fake, state, fastPoll(), testLogger(t))
	ctx := context.Background()

	plan, err := r.Plan(ctx, deploy.ActionDeleteApp)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != deploy.ActionDeleted {
		t.Errorf("expected DELETED, got %s", plan.Action)
	}
	if err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := fake.GetApp(ctx, "demo"); err == nil {
		t.Error("app still present after delete")
	}
}
