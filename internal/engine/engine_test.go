package engine

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/logger"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

type mockPlugin struct {
	evaluate   func(ctx context.Context, step *config.Step) (*model.EvaluationResult, error)
	apply      func(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error)
	applyCalls int
}

func (m *mockPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: "mock", Version: "1.0.0", Type: "mock"}
}

func (m *mockPlugin) Schema() any { return nil }

func (m *mockPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	return m.evaluate(ctx, step)
}

func (m *mockPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	m.applyCalls++
	return m.apply(ctx, evalResult, step)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Level: "disabled", Writer: io.Discard})
	require.NoError(t, err)
	return log
}

func testContext(t *testing.T, p plugin.Plugin, dryRun bool, steps ...config.Step) *ExecutionContext {
	t.Helper()
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register("mock", p))

	return &ExecutionContext{
		Context: context.Background(),
		Config: &config.Config{
			Version: "1.0.0",
			Name:    "test",
			Steps:   steps,
		},
		Registry: registry,
		Logger:   testLogger(t),
		DryRun:   dryRun,
	}
}

func changedEvaluation(action model.Action) func(context.Context, *config.Step) (*model.EvaluationResult, error) {
	return func(_ context.Context, step *config.Step) (*model.EvaluationResult, error) {
		return &model.EvaluationResult{
			StepID:         step.ID,
			Action:         action,
			RequiresAction: true,
			Message:        "drift detected",
		}, nil
	}
}

func successApply(_ context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Changed: true,
		Message: "converged",
	}, nil
}

func TestExecuteAppliesWhenActionRequired(t *testing.T) {
	p := &mockPlugin{evaluate: changedEvaluation(model.ActionUpdate), apply: successApply}
	execCtx := testContext(t, p, false, config.Step{ID: "step_1", Type: "mock"})

	results, err := Execute(execCtx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.StatusSuccess, results[0].Status)
	require.True(t, results[0].Changed)
	require.Equal(t, 1, p.applyCalls)
}

func TestExecuteSkipsWhenNoActionRequired(t *testing.T) {
	p := &mockPlugin{
		evaluate: func(_ context.Context, step *config.Step) (*model.EvaluationResult, error) {
			return &model.EvaluationResult{StepID: step.ID, Action: model.ActionNone, Message: "in sync"}, nil
		},
		apply: successApply,
	}
	execCtx := testContext(t, p, false, config.Step{ID: "step_1", Type: "mock"})

	results, err := Execute(execCtx)
	require.NoError(t, err)
	require.Equal(t, model.StatusSkipped, results[0].Status)
	require.False(t, results[0].Changed)
	require.Zero(t, p.applyCalls)
}

func TestDryRunReportsVerdictWithoutApply(t *testing.T) {
	p := &mockPlugin{evaluate: changedEvaluation(model.ActionCreate), apply: successApply}
	execCtx := testContext(t, p, true, config.Step{ID: "step_1", Type: "mock"})

	results, err := Execute(execCtx)
	require.NoError(t, err)
	require.Equal(t, model.StatusWouldCreate, results[0].Status)
	require.True(t, results[0].Changed)
	require.Zero(t, p.applyCalls, "dry run must never apply")
}

func TestDryRunAndRealRunAgreeOnChanged(t *testing.T) {
	steps := []config.Step{{ID: "step_1", Type: "mock"}}

	dry := &mockPlugin{evaluate: changedEvaluation(model.ActionUpdate), apply: successApply}
	dryResults, err := Execute(testContext(t, dry, true, steps...))
	require.NoError(t, err)

	live := &mockPlugin{evaluate: changedEvaluation(model.ActionUpdate), apply: successApply}
	liveResults, err := Execute(testContext(t, live, false, steps...))
	require.NoError(t, err)

	require.Equal(t, dryResults[0].Changed, liveResults[0].Changed)
}

func TestExecuteAbortsOnEvaluationFailure(t *testing.T) {
	calls := 0
	p := &mockPlugin{
		evaluate: func(_ context.Context, step *config.Step) (*model.EvaluationResult, error) {
			calls++
			if step.ID == "step_1" {
				return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("provider unavailable"))
			}
			return &model.EvaluationResult{StepID: step.ID, Action: model.ActionNone}, nil
		},
		apply: successApply,
	}
	execCtx := testContext(t, p, false,
		config.Step{ID: "step_1", Type: "mock"},
		config.Step{ID: "step_2", Type: "mock"},
	)

	results, err := Execute(execCtx)
	require.Error(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.StatusFailed, results[0].Status)
	require.Equal(t, 1, calls, "failure must abort the run")
}

func TestExecuteFailsOnUnknownStepType(t *testing.T) {
	p := &mockPlugin{evaluate: changedEvaluation(model.ActionUpdate), apply: successApply}
	execCtx := testContext(t, p, false, config.Step{ID: "step_1", Type: "unknown"})

	_, err := Execute(execCtx)
	require.Error(t, err)
}

func TestSettingsDryRunEnablesDryRun(t *testing.T) {
	p := &mockPlugin{evaluate: changedEvaluation(model.ActionDelete), apply: successApply}
	execCtx := testContext(t, p, false, config.Step{ID: "step_1", Type: "mock"})
	execCtx.Config.Settings.DryRun = true

	results, err := Execute(execCtx)
	require.NoError(t, err)
	require.Equal(t, model.StatusWouldDelete, results[0].Status)
	require.Zero(t, p.applyCalls)
}
