package plugin

import (
	"context"

	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/model"
)

// Metadata describes a reconciler plugin for registry lookup and reporting.
type Metadata struct {
	Name        string
	Version     string
	Type        string
	Description string
}

// Plugin defines the contract every resource reconciler must satisfy.
//
// The two-method Evaluate/Apply split is what makes check-mode parity
// structural: Evaluate decides the changed verdict without mutating anything,
// and Apply is only ever invoked (outside dry runs) when Evaluate reported
// RequiresAction.
type Plugin interface {
	// Metadata returns the plugin's identity.
	Metadata() Metadata

	// Schema returns the configuration struct describing the step type's
	// YAML parameters.
	Schema() any

	// Evaluate performs a strictly read-only assessment of the resource's
	// observed state against the desired state in the step configuration.
	// Absence of the remote resource is a valid, non-error outcome. The
	// returned result carries the action decision and any state Apply needs
	// to avoid re-fetching.
	//
	// Evaluate MUST NOT issue any mutating provider call.
	Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error)

	// Apply performs the single provider mutation decided by Evaluate and
	// returns the resulting resource attributes. It is only called when
	// Evaluate reported RequiresAction = true, and must be idempotent.
	Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error)
}
