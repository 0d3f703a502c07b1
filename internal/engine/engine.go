// Package engine runs configuration steps sequentially. The changed verdict
// for every step comes from Evaluate alone; under dry-run Apply is never
// invoked, so a dry run and a real run report the same verdicts for the same
// observed state.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/logger"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
	convergeerrors "github.com/convergetool/converge/pkg/errors"
)

// ExecutionContext carries everything a run needs.
type ExecutionContext struct {
	Context  context.Context
	Config   *config.Config
	Registry *plugin.Registry
	Logger   *logger.Logger
	DryRun   bool
}

// Execute runs every step in document order and returns their results. The
// first failure aborts the run; results for completed steps are still
// returned alongside the error.
func Execute(execCtx *ExecutionContext) ([]model.StepResult, error) {
	if execCtx == nil {
		return nil, convergeerrors.NewExecutionError("", fmt.Errorf("execution context is nil"))
	}
	if execCtx.Config == nil {
		return nil, convergeerrors.NewExecutionError("", fmt.Errorf("execution context config is nil"))
	}

	ctx := execCtx.Context
	if ctx == nil {
		ctx = context.Background()
	}

	dryRun := execCtx.DryRun || execCtx.Config.Settings.DryRun

	results := make([]model.StepResult, 0, len(execCtx.Config.Steps))
	for i := range execCtx.Config.Steps {
		step := &execCtx.Config.Steps[i]

		result, err := executeStep(ctx, execCtx, step, dryRun)
		if result != nil {
			results = append(results, *result)
		}
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

func executeStep(ctx context.Context, execCtx *ExecutionContext, step *config.Step, dryRun bool) (*model.StepResult, error) {
	log := execCtx.Logger.WithFields(map[string]any{
		"step_id": step.ID,
		"type":    step.Type,
	})

	if err := ctx.Err(); err != nil {
		return failedResult(step.ID, err), convergeerrors.NewExecutionError(step.ID, err)
	}

	p, err := execCtx.Registry.Get(step.Type)
	if err != nil {
		return failedResult(step.ID, err), err
	}

	start := time.Now()
	log.Debug("evaluating step")

	evalResult, err := p.Evaluate(ctx, step)
	if err != nil {
		log.Error(err, "step evaluation failed")
		return failedResult(step.ID, err), err
	}

	log.WithFields(map[string]any{
		"action":  string(evalResult.Action),
		"changed": evalResult.RequiresAction,
	}).Info(evalResult.Message)

	if dryRun {
		return &model.StepResult{
			StepID:    step.ID,
			Status:    model.DryRunStatus(evalResult.Action),
			Changed:   evalResult.RequiresAction,
			Message:   evalResult.Message,
			Diff:      evalResult.Diff,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}, nil
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:    step.ID,
			Status:    model.StatusSkipped,
			Changed:   false,
			Message:   evalResult.Message,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}, nil
	}

	result, err := p.Apply(ctx, evalResult, step)
	if err != nil {
		log.Error(err, "step apply failed")
		return failedResult(step.ID, err), err
	}

	result.Diff = evalResult.Diff
	result.Duration = time.Since(start)
	result.Timestamp = time.Now()
	log.WithField("status", result.Status).Info(result.Message)
	return result, nil
}

func failedResult(stepID string, err error) *model.StepResult {
	return &model.StepResult{
		StepID:    stepID,
		Status:    model.StatusFailed,
		Message:   err.Error(),
		Error:     err,
		Timestamp: time.Now(),
	}
}
