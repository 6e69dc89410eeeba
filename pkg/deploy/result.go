package deploy

import (
	"fmt"
	"time"
)

// Action represents the outcome (or, in dry-run, the planned outcome) of a
// reconciliation phase.
type Action string

const (
	// ActionCreated indicates the resource was created.
	ActionCreated Action = "CREATED"

	// ActionUpdated indicates the resource was updated in place.
	ActionUpdated Action = "UPDATED"

	// ActionUnchanged indicates observed state already matched desired state.
	ActionUnchanged Action = "UNCHANGED"

	// ActionDeleted indicates the resource was removed.
	ActionDeleted Action = "DELETED"

	// ActionSkipped indicates the phase did not run, usually because an
	// earlier phase failed.
	ActionSkipped Action = "SKIPPED"

	// ActionFailed indicates the phase ran and stopped on an error.
	ActionFailed Action = "FAILED"
)

// Validate checks if the action is a known value.
func (a Action) Validate() error {
	switch a {
	case ActionCreated, ActionUpdated, ActionUnchanged, ActionDeleted, ActionSkipped, ActionFailed:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// IsMutation returns true if the action changes remote state.
func (a Action) IsMutation() bool {
	return a == ActionCreated || a == ActionUpdated || a == ActionDeleted
}

// PhaseResult records the outcome of one orchestrator phase.
type PhaseResult struct {
	// Phase names the pipeline phase (config, build, staging, sync,
	// database, app).
	Phase string `json:"phase"`

	// Action is the action taken, or planned under dry-run.
	Action Action `json:"action"`

	// Planned is true when the action was computed but not applied
	// (dry-run).
	Planned bool `json:"planned,omitempty"`

	// Detail is an optional one-line human-readable note, such as an upload
	// count or the app URL.
	Detail string `json:"detail,omitempty"`

	// Duration is how long the phase took.
	Duration time.Duration `json:"duration"`

	// Err is the classified error that stopped the phase, if any.
	Err *Error `json:"error,omitempty"`
}

// Failed returns true if the phase carries an unrecoverable error.
func (r PhaseResult) Failed() bool {
	return r.Err != nil
}

// Report is the ordered list of phase results for one run.
type Report struct {
	// RunID identifies the run the report belongs to.
	RunID string `json:"run_id"`

	// Environment is the environment the run targeted.
	Environment string `json:"environment"`

	// AppName is the app the run targeted.
	AppName string `json:"app_name"`

	// DeployAction is the requested CLI action (create, update, delete).
	DeployAction string `json:"deploy_action"`

	// DryRun is true when no mutating platform call was issued.
	DryRun bool `json:"dry_run"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Phases are the per-phase results in execution order.
	Phases []PhaseResult `json:"phases"`
}

// Succeeded returns true iff every phase result has no error.
func (r *Report) Succeeded() bool {
	for _, p := range r.Phases {
		if p.Failed() {
			return false
		}
	}
	return true
}

// FirstError returns the first phase error, or nil.
func (r *Report) FirstError() *Error {
	for _, p := range r.Phases {
		if p.Err != nil {
			return p.Err
		}
	}
	return nil
}

func (r *Report) append(result PhaseResult) {
	r.Phases = append(r.Phases, result)
}
