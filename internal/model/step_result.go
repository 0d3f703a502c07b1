package model

import (
	"time"
)

const (
	// StatusPending indicates a step has not started yet.
	StatusPending = "pending"
	// StatusRunning indicates a step is actively executing.
	StatusRunning = "running"
	// StatusSuccess marks a successful step execution.
	StatusSuccess = "success"
	// StatusSkipped indicates the executor skipped the step (no-op).
	StatusSkipped = "skipped"
	// StatusFailed marks a failure during step execution.
	StatusFailed = "failed"
	// StatusWouldCreate indicates dry-run would create the resource.
	StatusWouldCreate = "would_create"
	// StatusWouldUpdate indicates dry-run would update the resource.
	StatusWouldUpdate = "would_update"
	// StatusWouldDelete indicates dry-run would delete the resource.
	StatusWouldDelete = "would_delete"
)

// StepResult captures the outcome of executing a single step.
type StepResult struct {
	StepID  string
	Status  string
	Changed bool
	Message string
	// Attributes holds the resulting resource attributes reported back to
	// the caller after convergence.
	Attributes map[string]any
	// Diff is the rendered attribute diff the evaluation produced, carried
	// through so reporters can show what changed (or would change).
	Diff      string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// DryRunStatus maps an evaluation action to the status a dry run reports for
// it. Actions that require no mutation map to StatusSkipped.
func DryRunStatus(action Action) string {
	switch action {
	case ActionCreate:
		return StatusWouldCreate
	case ActionUpdate:
		return StatusWouldUpdate
	case ActionDelete:
		return StatusWouldDelete
	default:
		return StatusSkipped
	}
}
