package model

// Action identifies the provider mutation a reconciler decided on while
// evaluating a step. It is computed exactly once per invocation, during
// Evaluate, and is the sole source of the changed verdict: dry runs and real
// runs share it by construction.
type Action string

const (
	// ActionNone means observed state already matches desired state.
	ActionNone Action = "none"
	// ActionCreate means the resource is absent and should exist.
	ActionCreate Action = "create"
	// ActionUpdate means the resource exists but drifted on at least one
	// caller-supplied attribute.
	ActionUpdate Action = "update"
	// ActionDelete means the resource exists and should be absent.
	ActionDelete Action = "delete"
)

// EvaluationResult contains the result of evaluating a step's observed state
// against its desired state. It is returned by Plugin.Evaluate() and passed
// to Plugin.Apply() when action is required.
type EvaluationResult struct {
	// StepID is the unique identifier of the evaluated step.
	StepID string

	// Action is the mutation required to converge, or ActionNone.
	Action Action

	// RequiresAction indicates whether Apply() should be called. It is the
	// changed flag reported to the caller, in both dry and real runs.
	RequiresAction bool

	// Message is a human-readable description of the state assessment.
	Message string

	// Diff is an optional rendering of what would change, populated when
	// RequiresAction is true for dry-run previews.
	Diff string

	// Observed holds the resource attributes read from the provider, or nil
	// when the resource is absent. Reported back to the caller unchanged on
	// no-op steps.
	Observed map[string]any

	// InternalData is opaque data passed from Evaluate() to Apply(), used to
	// avoid re-fetching state the evaluation already resolved.
	InternalData any
}
