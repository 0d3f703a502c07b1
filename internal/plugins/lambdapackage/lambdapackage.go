// Package lambdapackageplugin builds deterministic Lambda deployment archives
// from local source trees. Because archives are reproducible, the step is a
// no-op whenever the destination already holds the bytes a rebuild would
// produce.
package lambdapackageplugin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/lambdapkg"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

type packagePlugin struct{}

// New creates a lambda_package step handler. The step is purely local and
// needs no AWS clients.
func New() plugin.Plugin {
	return &packagePlugin{}
}

var _ plugin.Plugin = (*packagePlugin)(nil)

func (p *packagePlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "lambda_package",
		Version:     "1.0.0",
		Type:        "lambda_package",
		Description: "Builds reproducible Lambda deployment archives from local files.",
	}
}

func (p *packagePlugin) Schema() any {
	return config.LambdaPackageStep{}
}

type packageEvaluation struct {
	archive []byte
}

func (p *packagePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.LambdaPackage
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_package configuration missing"))
	}

	result := &model.EvaluationResult{StepID: step.ID}

	existing, err := os.ReadFile(cfg.Dest)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read %s: %w", cfg.Dest, err))
	}

	if step.State == config.StateAbsent {
		if !exists {
			result.Action = model.ActionNone
			result.Message = fmt.Sprintf("%s already absent", cfg.Dest)
		} else {
			result.Action = model.ActionDelete
			result.RequiresAction = true
			result.Message = fmt.Sprintf("%s exists and should be absent", cfg.Dest)
		}
		return result, nil
	}

	archive, err := lambdapkg.BuildDir(cfg.Src, cfg.Include, cfg.Exclude, cfg.Rename)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to package %s: %w", cfg.Src, err))
	}

	result.InternalData = &packageEvaluation{archive: archive}
	result.Observed = map[string]any{"code_sha256": lambdapkg.Hash(archive)}

	switch {
	case !exists:
		result.Action = model.ActionCreate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("%s does not exist", cfg.Dest)
	case !bytes.Equal(existing, archive):
		result.Action = model.ActionUpdate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("%s is stale", cfg.Dest)
	default:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("%s is up to date", cfg.Dest)
	}

	return result, nil
}

func (p *packagePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.LambdaPackage
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_package configuration missing"))
	}

	switch evalResult.Action {
	case model.ActionCreate, model.ActionUpdate:
		data, ok := evalResult.InternalData.(*packageEvaluation)
		if !ok {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation data missing"))
		}

		if dir := filepath.Dir(cfg.Dest); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to create %s: %w", dir, err))
			}
		}
		if err := os.WriteFile(cfg.Dest, data.archive, 0o644); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to write %s: %w", cfg.Dest, err))
		}

		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSuccess,
			Changed: true,
			Message: fmt.Sprintf("wrote %s", cfg.Dest),
			Attributes: map[string]any{
				"dest":        cfg.Dest,
				"code_sha256": lambdapkg.Hash(data.archive),
				"size":        len(data.archive),
			},
		}, nil

	case model.ActionDelete:
		if err := os.Remove(cfg.Dest); err != nil && !os.IsNotExist(err) {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to remove %s: %w", cfg.Dest, err))
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSuccess,
			Changed: true,
			Message: fmt.Sprintf("removed %s", cfg.Dest),
		}, nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSkipped,
		Message: "no changes needed",
	}, nil
}
