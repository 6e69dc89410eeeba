package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// Phase names, in pipeline order.
const (
	PhaseConfig     = "config"
	PhaseBuild      = "build"
	PhaseStaging    = "staging"
	PhaseSync       = "sync"
	PhaseDBInstance = "db-instance"
	PhaseDBSchema   = "db-schema"
	PhaseDBGrants   = "db-grants"
	PhaseDBTables   = "db-tables"
	PhaseApp        = "app"
)

// Deploy actions accepted by the orchestrator.
const (
	ActionCreateApp = "create"
	ActionUpdateApp = "update"
	ActionDeleteApp = "delete"
)

// Options parameterize a single orchestrator run.
type Options struct {
	// RunID identifies the run in logs and history.
	RunID string

	// Environment is the target environment name.
	Environment string

	// AppName is the target app.
	AppName string

	// Action is one of create, update, delete.
	Action string

	// DryRun computes and reports planned actions without issuing any
	// mutating platform call. Local build and staging still run so the
	// sync diff can be computed.
	DryRun bool

	// DeleteDatabase also tears down the database instance on delete.
	DeleteDatabase bool

	// ConfigDuration is how long configuration loading took; the loader
	// runs before the orchestrator is constructed but its result is still
	// part of the report.
	ConfigDuration time.Duration
}

// Orchestrator sequences the deployment phases, threading the dry-run flag
// through every phase and aggregating per-phase results into one report.
// Each invocation is independent; callers must serialize runs per app name.
type Orchestrator struct {
	Builder   Builder
	Assembler Assembler
	Sync      Synchronizer
	Database  DatabaseProvisioner
	App       AppReconciler

	// Bootstrap is optional; when set, tables are created after the
	// database phase converges.
	Bootstrap TableBootstrapper

	// History is optional; recording failures are logged, never fatal.
	History RunRecorder

	Log *telemetry.Logger
}

// Run executes the requested action and returns the ordered report. A fatal
// error in any phase stops all subsequent phases; there is no rollback, and
// re-running after fixing the cause is the recovery path.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *Report {
	report := &Report{
		RunID:        opts.RunID,
		Environment:  opts.Environment,
		AppName:      opts.AppName,
		DeployAction: opts.Action,
		DryRun:       opts.DryRun,
		StartedAt:    time.Now(),
	}
	report.append(PhaseResult{
		Phase:    PhaseConfig,
		Action:   ActionUnchanged,
		Detail:   "validated",
		Duration: opts.ConfigDuration,
	})

	log := o.Log.WithRunID(opts.RunID).WithApp(opts.AppName)

	switch opts.Action {
	case ActionDeleteApp:
		o.runDelete(ctx, opts, report, log)
	case ActionCreateApp, ActionUpdateApp:
		o.runConverge(ctx, opts, report, log)
	default:
		report.append(PhaseResult{
			Phase:  PhaseApp,
			Action: ActionFailed,
			Err:    NewPermanentError(fmt.Sprintf("unknown action %q", opts.Action), nil).WithCode(CodeConfigInvalid),
		})
	}

	o.record(ctx, report, log)
	return report
}

// runConverge drives the create/update pipeline.
func (o *Orchestrator) runConverge(ctx context.Context, opts Options, report *Report, log *telemetry.Logger) {
	var artifacts *BuildArtifacts
	var manifest *Manifest

	ok := o.phase(ctx, report, log, PhaseBuild, func(ctx context.Context) (PhaseResult, error) {
		a, err := o.Builder.Build(ctx)
		if err != nil {
			return PhaseResult{}, err
		}
		artifacts = a
		return PhaseResult{Action: ActionCreated, Detail: "package and bundle built"}, nil
	})
	if !ok {
		o.skipRemaining(report, PhaseStaging, PhaseSync, PhaseDBInstance, PhaseDBSchema, PhaseDBGrants, PhaseApp)
		return
	}

	ok = o.phase(ctx, report, log, PhaseStaging, func(ctx context.Context) (PhaseResult, error) {
		m, err := o.Assembler.Assemble(ctx, artifacts)
		if err != nil {
			return PhaseResult{}, err
		}
		manifest = m
		return PhaseResult{Action: ActionCreated, Detail: fmt.Sprintf("%d files staged", len(m.Entries))}, nil
	})
	defer func() {
		if err := o.Assembler.Close(); err != nil {
			log.WithError(err).Warn("failed to remove staging directory")
		}
	}()
	if !ok {
		o.skipRemaining(report, PhaseSync, PhaseDBInstance, PhaseDBSchema, PhaseDBGrants, PhaseApp)
		return
	}

	ok = o.phase(ctx, report, log, PhaseSync, func(ctx context.Context) (PhaseResult, error) {
		plan, err := o.Sync.Plan(ctx, manifest)
		if err != nil {
			return PhaseResult{}, err
		}
		action := ActionUpdated
		if plan.Empty() {
			action = ActionUnchanged
		}
		if opts.DryRun {
			detail := fmt.Sprintf("would upload %d, delete %d, skip %d", len(plan.Upload), len(plan.Delete), len(plan.Skip))
			return PhaseResult{Action: action, Planned: true, Detail: detail}, nil
		}
		rep, err := o.Sync.Apply(ctx, manifest, plan)
		if err != nil {
			return PhaseResult{}, err
		}
		detail := fmt.Sprintf("uploaded %d, deleted %d, skipped %d", rep.Uploaded, rep.Deleted, rep.Skipped)
		return PhaseResult{Action: action, Detail: detail}, nil
	})
	if !ok {
		o.skipRemaining(report, PhaseDBInstance, PhaseDBSchema, PhaseDBGrants, PhaseApp)
		return
	}

	if !o.runDatabase(ctx, opts, report, log) {
		o.skipRemaining(report, PhaseApp)
		return
	}

	o.phase(ctx, report, log, PhaseApp, func(ctx context.Context) (PhaseResult, error) {
		plan, err := o.App.Plan(ctx, opts.Action)
		if err != nil {
			return PhaseResult{}, err
		}
		if opts.DryRun {
			return PhaseResult{Action: plan.Action, Planned: true, Detail: changesDetail(plan)}, nil
		}
		if err := o.App.Apply(ctx, plan); err != nil {
			return PhaseResult{}, err
		}
		detail := changesDetail(plan)
		if url := o.App.URL(); url != "" {
			detail = url
		}
		return PhaseResult{Action: plan.Action, Detail: detail}, nil
	})
}

// runDatabase reconciles instance, schema, and grants, reporting each as its
// own phase. Returns false if any sub-phase failed.
func (o *Orchestrator) runDatabase(ctx context.Context, opts Options, report *Report, log *telemetry.Logger) bool {
	plan, err := o.Database.Plan(ctx)
	if err != nil {
		report.append(failedResult(PhaseDBInstance, err))
		log.WithPhase(PhaseDBInstance).WithError(err).Error("phase failed")
		o.skipRemaining(report, PhaseDBSchema, PhaseDBGrants)
		return false
	}

	if opts.DryRun {
		report.append(PhaseResult{Phase: PhaseDBInstance, Action: plan.Instance, Planned: true})
		report.append(PhaseResult{Phase: PhaseDBSchema, Action: plan.Schema, Planned: true})
		report.append(PhaseResult{Phase: PhaseDBGrants, Action: plan.Grants, Planned: true,
			Detail: grantsDetail(plan)})
		return true
	}

	start := time.Now()
	if err := o.Database.Apply(ctx, plan); err != nil {
		// Apply converges instance, then schema, then grants; errors carry
		// the sub-phase they belong to, and the rest are skipped.
		failedPhase := attributeDatabaseError(err)
		order := []string{PhaseDBInstance, PhaseDBSchema, PhaseDBGrants}
		actions := []Action{plan.Instance, plan.Schema, plan.Grants}
		for i, p := range order {
			if p != failedPhase {
				report.append(PhaseResult{Phase: p, Action: actions[i]})
				continue
			}
			report.append(failedResult(p, err))
			o.skipRemaining(report, order[i+1:]...)
			break
		}
		log.WithError(err).Error("database provisioning failed")
		return false
	}
	elapsed := time.Since(start)

	report.append(PhaseResult{Phase: PhaseDBInstance, Action: plan.Instance, Duration: elapsed})
	report.append(PhaseResult{Phase: PhaseDBSchema, Action: plan.Schema})
	report.append(PhaseResult{Phase: PhaseDBGrants, Action: plan.Grants, Detail: grantsDetail(plan)})

	if o.Bootstrap != nil {
		o.phase(ctx, report, log, PhaseDBTables, func(ctx context.Context) (PhaseResult, error) {
			if err := o.Bootstrap.Bootstrap(ctx); err != nil {
				return PhaseResult{}, err
			}
			return PhaseResult{Action: ActionUpdated, Detail: "application tables ensured"}, nil
		})
	}
	return true
}

// runDelete tears down the app and, when requested, the database instance.
func (o *Orchestrator) runDelete(ctx context.Context, opts Options, report *Report, log *telemetry.Logger) {
	ok := o.phase(ctx, report, log, PhaseApp, func(ctx context.Context) (PhaseResult, error) {
		plan, err := o.App.Plan(ctx, ActionDeleteApp)
		if err != nil {
			return PhaseResult{}, err
		}
		if opts.DryRun {
			return PhaseResult{Action: plan.Action, Planned: true}, nil
		}
		if err := o.App.Apply(ctx, plan); err != nil {
			return PhaseResult{}, err
		}
		return PhaseResult{Action: plan.Action}, nil
	})

	if !opts.DeleteDatabase {
		return
	}
	if !ok {
		o.skipRemaining(report, PhaseDBInstance)
		return
	}

	o.phase(ctx, report, log, PhaseDBInstance, func(ctx context.Context) (PhaseResult, error) {
		if opts.DryRun {
			action, err := o.Database.PlanTeardown(ctx)
			if err != nil {
				return PhaseResult{}, err
			}
			return PhaseResult{Action: action, Planned: true}, nil
		}
		action, err := o.Database.Teardown(ctx)
		if err != nil {
			return PhaseResult{}, err
		}
		return PhaseResult{Action: action}, nil
	})
}

// phase runs one pipeline step, timing it and recording the result. It
// returns false when the step failed.
func (o *Orchestrator) phase(ctx context.Context, report *Report, log *telemetry.Logger, name string, fn func(ctx context.Context) (PhaseResult, error)) bool {
	plog := log.WithPhase(name)
	plog.Debug("phase started")

	start := time.Now()
	result, err := fn(ctx)
	result.Phase = name
	result.Duration = time.Since(start)

	if err != nil {
		report.append(failedResult(name, err))
		plog.WithError(err).Error("phase failed")
		return false
	}

	report.append(result)
	plog.Infof("phase completed: %s", result.Action)
	return true
}

func (o *Orchestrator) skipRemaining(report *Report, phases ...string) {
	for _, p := range phases {
		report.append(PhaseResult{Phase: p, Action: ActionSkipped})
	}
}

func (o *Orchestrator) record(ctx context.Context, report *Report, log *telemetry.Logger) {
	if o.History == nil {
		return
	}
	if err := o.History.RecordRun(ctx, report); err != nil {
		log.WithError(err).Warn("failed to record run history")
	}
}

func failedResult(phase string, err error) PhaseResult {
	var derr *Error
	if !errors.As(err, &derr) {
		derr = NewPermanentError(err.Error(), err)
	}
	if derr.Phase == "" {
		derr.Phase = phase
	}
	return PhaseResult{Phase: phase, Action: ActionFailed, Err: derr}
}

// attributeDatabaseError maps a provisioning error to the database
// sub-phase it belongs to, falling back to the instance phase.
func attributeDatabaseError(err error) string {
	var derr *Error
	if errors.As(err, &derr) && derr.Phase != "" {
		return derr.Phase
	}
	return PhaseDBInstance
}

func changesDetail(plan *AppPlan) string {
	if len(plan.Changes) == 0 {
		return ""
	}
	detail := plan.Changes[0]
	for _, c := range plan.Changes[1:] {
		detail += ", " + c
	}
	return detail
}

func grantsDetail(plan *DatabasePlan) string {
	if len(plan.MissingGrants) == 0 {
		return "none desired"
	}
	detail := plan.MissingGrants[0]
	for _, g := range plan.MissingGrants[1:] {
		detail += ", " + g
	}
	return detail
}
