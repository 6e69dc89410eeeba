// Package app reconciles the compute+app resource: create, update, or
// delete, followed by a poll to a terminal state. Updates are issued as a
// single call with the full desired spec, so partial application cannot
// happen at this layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// Reconciler implements deploy.AppReconciler.
type Reconciler struct {
	client  platform.Client
	desired *config.DesiredState
	poll    deploy.PollConfig
	log     *telemetry.Logger

	url string
}

// NewReconciler returns a reconciler for the configured app.
func NewReconciler(client platform.Client, desired *config.DesiredState, poll deploy.PollConfig, log *telemetry.Logger) *Reconciler {
	return &Reconciler{client: client, desired: desired, poll: poll, log: log}
}

// URL returns the app's serving URL after a successful apply.
func (r *Reconciler) URL() string {
	return r.url
}

// desiredSpec maps the desired state onto the platform app spec.
func (r *Reconciler) desiredSpec() platform.AppSpec {
	spec := platform.AppSpec{
		Name:             r.desired.AppName,
		Description:      r.desired.Description,
		ComputeSize:      string(r.desired.ComputeSize),
		SourcePath:       r.desired.WorkspacePath,
		DatabaseInstance: r.desired.Database.InstanceName,
		DatabaseSchema:   r.desired.Database.Schema,
	}
	for _, ev := range r.desired.EnvVars {
		spec.EnvVars = append(spec.EnvVars, platform.EnvVarSpec{Name: ev.Name, Value: ev.Value})
	}
	return spec
}

func (r *Reconciler) desiredGrants() []platform.AppGrant {
	grants := make([]platform.AppGrant, 0, len(r.desired.Permissions))
	for _, p := range r.desired.Permissions {
		grants = append(grants, platform.AppGrant{Principal: p.Principal, Level: string(p.Level)})
	}
	return grants
}

// Plan fetches the remote app fresh and computes the action for the
// requested deploy action without mutating anything.
func (r *Reconciler) Plan(ctx context.Context, action string) (*deploy.AppPlan, error) {
	name := r.desired.AppName
	current, err := r.client.GetApp(ctx, name)
	exists := true
	if errors.Is(err, platform.ErrNotFound) {
		exists = false
	} else if err != nil {
		return nil, deploy.FromPlatform("fetching app resource", err).
			WithPhase(deploy.PhaseApp).WithResource(name)
	}

	switch action {
	case deploy.ActionCreateApp:
		if exists {
			// No silent adoption: an existing resource with this name may
			// belong to someone else.
			return nil, deploy.NewPermanentError(
				fmt.Sprintf("app %s already exists; run update instead", name), nil).
				WithCode(deploy.CodeAlreadyExists).
				WithPhase(deploy.PhaseApp).WithResource(name)
		}
		return &deploy.AppPlan{Action: deploy.ActionCreated}, nil

	case deploy.ActionUpdateApp:
		if !exists {
			return nil, deploy.NewPermanentError(
				fmt.Sprintf("app %s does not exist; run create first", name), nil).
				WithCode(deploy.CodeNotFound).
				WithPhase(deploy.PhaseApp).WithResource(name)
		}
		changes, err := r.diff(ctx, current)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			r.url = current.URL
			return &deploy.AppPlan{Action: deploy.ActionUnchanged}, nil
		}
		return &deploy.AppPlan{Action: deploy.ActionUpdated, Changes: changes}, nil

	case deploy.ActionDeleteApp:
		if !exists {
			return &deploy.AppPlan{Action: deploy.ActionUnchanged}, nil
		}
		return &deploy.AppPlan{Action: deploy.ActionDeleted}, nil

	default:
		return nil, deploy.NewPermanentError(fmt.Sprintf("unknown action %q", action), nil).
			WithCode(deploy.CodeConfigInvalid)
	}
}

// diff lists the fields where the remote app differs from the desired
// spec, plus missing permission grants.
func (r *Reconciler) diff(ctx context.Context, current *platform.App) ([]string, error) {
	desired := r.desiredSpec()
	var changes []string

	if current.Spec.ComputeSize != desired.ComputeSize {
		changes = append(changes, fmt.Sprintf("compute %s -> %s", current.Spec.ComputeSize, desired.ComputeSize))
	}
	if current.Spec.Description != desired.Description {
		changes = append(changes, "description")
	}
	if current.Spec.SourcePath != desired.SourcePath {
		changes = append(changes, "source path")
	}
	if !reflect.DeepEqual(current.Spec.EnvVars, desired.EnvVars) {
		changes = append(changes, "env vars")
	}
	if current.Spec.DatabaseInstance != desired.DatabaseInstance ||
		current.Spec.DatabaseSchema != desired.DatabaseSchema {
		changes = append(changes, "database binding")
	}

	missing, err := r.missingGrants(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range missing {
		changes = append(changes, "grant "+g.Principal)
	}
	return changes, nil
}

func (r *Reconciler) missingGrants(ctx context.Context) ([]platform.AppGrant, error) {
	current, err := r.client.ListAppGrants(ctx, r.desired.AppName)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		return nil, deploy.FromPlatform("listing app grants", err).
			WithPhase(deploy.PhaseApp).WithResource(r.desired.AppName)
	}
	have := make(map[platform.AppGrant]bool, len(current))
	for _, g := range current {
		have[g] = true
	}
	var missing []platform.AppGrant
	for _, g := range r.desiredGrants() {
		if !have[g] {
			missing = append(missing, g)
		}
	}
	return missing, nil
}

// Apply executes the planned action and polls the app to a terminal
// state. A FAILED terminal state surfaces the platform's diagnostic text
// verbatim.
func (r *Reconciler) Apply(ctx context.Context, plan *deploy.AppPlan) error {
	name := r.desired.AppName

	switch plan.Action {
	case deploy.ActionCreated:
		if _, err := r.client.CreateApp(ctx, r.desiredSpec()); err != nil {
			return deploy.FromPlatform("creating app resource", err).
				WithPhase(deploy.PhaseApp).WithResource(name)
		}
		r.log.Infof("app %s created", name)

	case deploy.ActionUpdated:
		if _, err := r.client.UpdateApp(ctx, name, r.desiredSpec()); err != nil {
			return deploy.FromPlatform("updating app resource", err).
				WithPhase(deploy.PhaseApp).WithResource(name)
		}
		r.log.Infof("app %s updated", name)

	case deploy.ActionDeleted:
		err := r.client.DeleteApp(ctx, name)
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			return deploy.FromPlatform("deleting app resource", err).
				WithPhase(deploy.PhaseApp).WithResource(name)
		}
		r.log.Infof("app %s deleted", name)
		return nil

	case deploy.ActionUnchanged:
		return nil

	default:
		return deploy.NewPermanentError(fmt.Sprintf("unexpected planned action %s", plan.Action), nil)
	}

	if err := r.applyGrants(ctx); err != nil {
		return err
	}
	return r.waitReady(ctx)
}

func (r *Reconciler) applyGrants(ctx context.Context) error {
	missing, err := r.missingGrants(ctx)
	if err != nil {
		return err
	}
	for _, grant := range missing {
		if err := r.client.AddAppGrant(ctx, r.desired.AppName, grant); err != nil {
			return deploy.FromPlatform("granting app access to "+grant.Principal, err).
				WithPhase(deploy.PhaseApp).WithResource(r.desired.AppName)
		}
		r.log.Infof("granted %s on app to %s", grant.Level, grant.Principal)
	}
	return nil
}

func (r *Reconciler) waitReady(ctx context.Context) error {
	name := r.desired.AppName
	var lastDiagnostic, lastURL string

	status, err := deploy.PollUntil(ctx, r.poll, "app "+name,
		func(ctx context.Context) (string, bool, error) {
			app, err := r.client.GetApp(ctx, name)
			if err != nil {
				return "", false, deploy.FromPlatform("polling app resource", err)
			}
			lastDiagnostic = app.Diagnostic
			lastURL = app.URL
			return string(app.Status), app.Status.IsTerminal(), nil
		})
	if err != nil {
		var derr *deploy.Error
		if errors.As(err, &derr) {
			return derr.WithPhase(deploy.PhaseApp).WithResource(name)
		}
		return err
	}
	if status == string(platform.AppFailed) {
		return deploy.NewPermanentError("app deployment reached FAILED",
			fmt.Errorf("%s", lastDiagnostic)).
			WithCode(deploy.CodeAppFailed).
			WithPhase(deploy.PhaseApp).WithResource(name)
	}
	r.url = lastURL
	r.log.Infof("app %s is READY at %s", name, lastURL)
	return nil
}
