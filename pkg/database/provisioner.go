// Package database reconciles the managed database instance, its schema,
// and schema grants toward the desired state. Creation and capacity
// changes poll the instance to READY; schema creation is
// create-if-not-exists; grants are additive only.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// Provisioner implements deploy.DatabaseProvisioner.
type Provisioner struct {
	client platform.Client
	spec   config.DatabaseSpec
	grants []platform.SchemaGrant
	poll   deploy.PollConfig
	log    *telemetry.Logger
}

// NewProvisioner returns a provisioner for the configured instance and
// schema. grants is the desired schema grant set, already mapped from the
// app permission levels.
func NewProvisioner(client platform.Client, spec config.DatabaseSpec, grants []platform.SchemaGrant, poll deploy.PollConfig, log *telemetry.Logger) *Provisioner {
	return &Provisioner{client: client, spec: spec, grants: grants, poll: poll, log: log}
}

// GrantsFor maps app permission grants onto schema privileges: managers
// get ALL, users get USAGE.
func GrantsFor(permissions []config.Grant) []platform.SchemaGrant {
	grants := make([]platform.SchemaGrant, 0, len(permissions))
	for _, p := range permissions {
		privilege := "USAGE"
		if p.Level == config.PermissionCanManage {
			privilege = "ALL"
		}
		grants = append(grants, platform.SchemaGrant{Principal: p.Principal, Privilege: privilege})
	}
	return grants
}

// Plan fetches remote state fresh and computes the action for each
// sub-resource without mutating anything.
func (p *Provisioner) Plan(ctx context.Context) (*deploy.DatabasePlan, error) {
	plan := &deploy.DatabasePlan{}

	inst, err := p.client.GetDatabaseInstance(ctx, p.spec.InstanceName)
	if err == nil {
		plan.InstanceStatus = string(inst.Status)
	}
	switch {
	case errors.Is(err, platform.ErrNotFound):
		plan.Instance = deploy.ActionCreated
	case err != nil:
		return nil, deploy.FromPlatform("fetching database instance", err).
			WithPhase(deploy.PhaseDBInstance).WithResource(p.spec.InstanceName)
	case inst.Status == platform.InstanceFailed:
		return nil, deploy.NewPermanentError("database instance is in FAILED state",
			fmt.Errorf("%s", inst.Diagnostic)).
			WithCode(deploy.CodeProvisionFailed).
			WithPhase(deploy.PhaseDBInstance).WithResource(p.spec.InstanceName)
	case inst.Capacity != string(p.spec.Capacity):
		plan.Instance = deploy.ActionUpdated
	default:
		plan.Instance = deploy.ActionUnchanged
	}

	if plan.Instance == deploy.ActionCreated {
		plan.Schema = deploy.ActionCreated
		plan.MissingGrants = grantStrings(p.grants)
	} else {
		current, err := p.client.ListGrants(ctx, p.spec.InstanceName, p.spec.Schema)
		if errors.Is(err, platform.ErrNotFound) {
			plan.Schema = deploy.ActionCreated
			plan.MissingGrants = grantStrings(p.grants)
		} else if err != nil {
			return nil, deploy.FromPlatform("listing schema grants", err).
				WithPhase(deploy.PhaseDBGrants).WithResource(p.spec.Schema)
		} else {
			plan.Schema = deploy.ActionUnchanged
			plan.MissingGrants = grantStrings(missingGrants(p.grants, current))
		}
	}

	if len(plan.MissingGrants) > 0 {
		plan.Grants = deploy.ActionUpdated
	} else {
		plan.Grants = deploy.ActionUnchanged
	}
	return plan, nil
}

// Apply converges instance, then schema, then grants. Errors carry the
// sub-phase they belong to.
func (p *Provisioner) Apply(ctx context.Context, plan *deploy.DatabasePlan) error {
	if err := p.applyInstance(ctx, plan); err != nil {
		return err
	}
	if err := p.applySchema(ctx, plan.Schema); err != nil {
		return err
	}
	return p.applyGrants(ctx)
}

func (p *Provisioner) applyInstance(ctx context.Context, plan *deploy.DatabasePlan) error {
	name := p.spec.InstanceName
	switch plan.Instance {
	case deploy.ActionCreated:
		_, err := p.client.CreateDatabaseInstance(ctx, platform.DatabaseInstanceSpec{
			Name:     name,
			Capacity: string(p.spec.Capacity),
		})
		// A concurrent creator winning the race is fine; the poll below
		// still verifies the instance converges to READY.
		if err != nil && !errors.Is(err, platform.ErrAlreadyExists) {
			return deploy.FromPlatform("creating database instance", err).
				WithPhase(deploy.PhaseDBInstance).WithResource(name)
		}
		p.log.Infof("database instance %s creating, capacity %s", name, p.spec.Capacity)
	case deploy.ActionUpdated:
		if _, err := p.client.UpdateDatabaseInstance(ctx, name, string(p.spec.Capacity)); err != nil {
			return deploy.FromPlatform("updating database instance capacity", err).
				WithPhase(deploy.PhaseDBInstance).WithResource(name)
		}
		p.log.Infof("database instance %s updating to capacity %s", name, p.spec.Capacity)
	default:
		// No change planned, but a previous run may have left the instance
		// mid-provisioning. The schema must not be created until the
		// instance is READY, so a non-terminal status still gets polled.
		if platform.InstanceStatus(plan.InstanceStatus).IsTerminal() {
			return nil
		}
	}
	return p.waitReady(ctx)
}

// waitReady polls the instance to a terminal status. A FAILED terminal
// status is a permanent provisioning error with the platform's
// diagnostic; exceeding the deadline is a timeout, which is a different
// outcome: the instance may still converge later.
func (p *Provisioner) waitReady(ctx context.Context) error {
	name := p.spec.InstanceName
	var lastDiagnostic string

	status, err := deploy.PollUntil(ctx, p.poll, "database instance "+name,
		func(ctx context.Context) (string, bool, error) {
			inst, err := p.client.GetDatabaseInstance(ctx, name)
			if err != nil {
				return "", false, deploy.FromPlatform("polling database instance", err)
			}
			lastDiagnostic = inst.Diagnostic
			return string(inst.Status), inst.Status.IsTerminal(), nil
		})
	if err != nil {
		var derr *deploy.Error
		if errors.As(err, &derr) {
			return derr.WithPhase(deploy.PhaseDBInstance).WithResource(name)
		}
		return err
	}
	if status == string(platform.InstanceFailed) {
		return deploy.NewPermanentError("database instance reached FAILED",
			fmt.Errorf("%s", lastDiagnostic)).
			WithCode(deploy.CodeProvisionFailed).
			WithPhase(deploy.PhaseDBInstance).WithResource(name)
	}
	p.log.Infof("database instance %s is READY", name)
	return nil
}

func (p *Provisioner) applySchema(ctx context.Context, action deploy.Action) error {
	if action != deploy.ActionCreated {
		return nil
	}
	err := p.client.CreateSchema(ctx, p.spec.InstanceName, p.spec.Schema)
	if err != nil && !errors.Is(err, platform.ErrAlreadyExists) {
		return deploy.FromPlatform("creating schema", err).
			WithPhase(deploy.PhaseDBSchema).WithResource(p.spec.Schema)
	}
	p.log.Infof("schema %s.%s ensured", p.spec.InstanceName, p.spec.Schema)
	return nil
}

// applyGrants re-reads current grants and adds the missing ones. Extra
// remote grants are never removed here.
func (p *Provisioner) applyGrants(ctx context.Context) error {
	current, err := p.client.ListGrants(ctx, p.spec.InstanceName, p.spec.Schema)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		return deploy.FromPlatform("listing schema grants", err).
			WithPhase(deploy.PhaseDBGrants).WithResource(p.spec.Schema)
	}
	for _, grant := range missingGrants(p.grants, current) {
		if err := p.client.AddGrant(ctx, p.spec.InstanceName, p.spec.Schema, grant); err != nil {
			return deploy.FromPlatform("adding grant for "+grant.Principal, err).
				WithPhase(deploy.PhaseDBGrants).WithResource(p.spec.Schema)
		}
		p.log.Infof("granted %s on %s to %s", grant.Privilege, p.spec.Schema, grant.Principal)
	}
	return nil
}

// PlanTeardown reports whether a teardown would delete the instance.
func (p *Provisioner) PlanTeardown(ctx context.Context) (deploy.Action, error) {
	_, err := p.client.GetDatabaseInstance(ctx, p.spec.InstanceName)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return deploy.ActionUnchanged, nil
	case err != nil:
		return deploy.ActionSkipped, deploy.FromPlatform("fetching database instance", err).
			WithPhase(deploy.PhaseDBInstance).WithResource(p.spec.InstanceName)
	}
	return deploy.ActionDeleted, nil
}

// Teardown deletes the instance. Deleting an absent instance is
// UNCHANGED.
func (p *Provisioner) Teardown(ctx context.Context) (deploy.Action, error) {
	err := p.client.DeleteDatabaseInstance(ctx, p.spec.InstanceName)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return deploy.ActionUnchanged, nil
	case err != nil:
		return deploy.ActionSkipped, deploy.FromPlatform("deleting database instance", err).
			WithPhase(deploy.PhaseDBInstance).WithResource(p.spec.InstanceName)
	}
	p.log.Infof("database instance %s deleted", p.spec.InstanceName)
	return deploy.ActionDeleted, nil
}

func missingGrants(desired []platform.SchemaGrant, current []platform.SchemaGrant) []platform.SchemaGrant {
	have := make(map[platform.SchemaGrant]bool, len(current))
	for _, g := range current {
		have[g] = true
	}
	var missing []platform.SchemaGrant
	for _, g := range desired {
		if !have[g] {
			missing = append(missing, g)
		}
	}
	return missing
}

func grantStrings(grants []platform.SchemaGrant) []string {
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, g.Principal+":"+g.Privilege)
	}
	return out
}
