// Package lambdaaliasplugin reconciles Lambda function aliases.
package lambdaaliasplugin

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/diff"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

type aliasPlugin struct {
	api    awsapi.LambdaAPI
	sts    awsapi.STSAPI
	region string
}

// New creates a lambda_alias reconciler. The STS client is only used to
// synthesize the would-be alias ARN for previews of aliases that do not exist
// yet.
func New(api awsapi.LambdaAPI, stsAPI awsapi.STSAPI, region string) plugin.Plugin {
	return &aliasPlugin{api: api, sts: stsAPI, region: region}
}

var _ plugin.Plugin = (*aliasPlugin)(nil)

func (p *aliasPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "lambda_alias",
		Version:     "1.0.0",
		Type:        "lambda_alias",
		Description: "Manages Lambda function aliases.",
	}
}

func (p *aliasPlugin) Schema() any {
	return config.LambdaAliasStep{}
}

type aliasObserved struct {
	arn         string
	version     string
	description string
}

func (p *aliasPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.LambdaAlias
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_alias configuration missing"))
	}

	observed, err := p.fetch(ctx, cfg)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	exists := observed != nil
	wantPresent := step.State == config.StatePresent

	result := &model.EvaluationResult{
		StepID:   step.ID,
		Observed: observedAttributes(cfg, observed),
	}

	desired := map[string]any{
		"alias_name":       cfg.AliasName,
		"function_version": cfg.Version,
		"description":      cfg.Description,
	}

	switch {
	case wantPresent && !exists:
		result.Action = model.ActionCreate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("alias %s does not exist on %s", cfg.AliasName, cfg.FunctionName)
		if arn := p.predictedARN(ctx, cfg); arn != "" {
			desired["alias_arn"] = arn
		}
		result.Diff = diff.RenderAttributes(nil, desired)
	case wantPresent && (observed.version != cfg.Version || observed.description != cfg.Description):
		result.Action = model.ActionUpdate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("alias %s drifted", cfg.AliasName)
		result.Diff = diff.RenderAttributes(map[string]any{
			"alias_name":       cfg.AliasName,
			"function_version": observed.version,
			"description":      observed.description,
		}, desired)
	case wantPresent:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("alias %s matches desired state", cfg.AliasName)
	case exists:
		result.Action = model.ActionDelete
		result.RequiresAction = true
		result.Message = fmt.Sprintf("alias %s exists and should be absent", cfg.AliasName)
	default:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("alias %s already absent", cfg.AliasName)
	}

	return result, nil
}

func (p *aliasPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.LambdaAlias
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_alias configuration missing"))
	}

	switch evalResult.Action {
	case model.ActionCreate:
		out, err := p.api.CreateAlias(ctx, &lambda.CreateAliasInput{
			FunctionName:    aws.String(cfg.FunctionName),
			Name:            aws.String(cfg.AliasName),
			FunctionVersion: aws.String(cfg.Version),
			Description:     aws.String(cfg.Description),
		})
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to create alias: %w", err))
		}

		return success(step.ID, fmt.Sprintf("created alias %s -> version %s", cfg.AliasName, cfg.Version), map[string]any{
			"alias_arn":        aws.ToString(out.AliasArn),
			"alias_name":       aws.ToString(out.Name),
			"function_version": aws.ToString(out.FunctionVersion),
			"description":      aws.ToString(out.Description),
		}), nil

	case model.ActionUpdate:
		out, err := p.api.UpdateAlias(ctx, &lambda.UpdateAliasInput{
			FunctionName:    aws.String(cfg.FunctionName),
			Name:            aws.String(cfg.AliasName),
			FunctionVersion: aws.String(cfg.Version),
			Description:     aws.String(cfg.Description),
		})
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to update alias: %w", err))
		}

		return success(step.ID, fmt.Sprintf("updated alias %s -> version %s", cfg.AliasName, cfg.Version), map[string]any{
			"alias_arn":        aws.ToString(out.AliasArn),
			"alias_name":       aws.ToString(out.Name),
			"function_version": aws.ToString(out.FunctionVersion),
			"description":      aws.ToString(out.Description),
		}), nil

	case model.ActionDelete:
		if _, err := p.api.DeleteAlias(ctx, &lambda.DeleteAliasInput{
			FunctionName: aws.String(cfg.FunctionName),
			Name:         aws.String(cfg.AliasName),
		}); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to delete alias: %w", err))
		}

		return success(step.ID, fmt.Sprintf("deleted alias %s", cfg.AliasName), nil), nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSkipped,
		Message: "no changes needed",
	}, nil
}

func (p *aliasPlugin) fetch(ctx context.Context, cfg *config.LambdaAliasStep) (*aliasObserved, error) {
	out, err := p.api.GetAlias(ctx, &lambda.GetAliasInput{
		FunctionName: aws.String(cfg.FunctionName),
		Name:         aws.String(cfg.AliasName),
	})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alias %s: %w", cfg.AliasName, err)
	}

	return &aliasObserved{
		arn:         aws.ToString(out.AliasArn),
		version:     aws.ToString(out.FunctionVersion),
		description: aws.ToString(out.Description),
	}, nil
}

// predictedARN synthesizes the ARN an alias would get on create, so dry-run
// previews still show a usable identifier. Best effort: identity lookup
// failures degrade to an empty string rather than failing the evaluation.
func (p *aliasPlugin) predictedARN(ctx context.Context, cfg *config.LambdaAliasStep) string {
	if p.sts == nil {
		return ""
	}

	identity, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return ""
	}

	account := awsapi.AccountFromARN(aws.ToString(identity.Arn))
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s:%s", p.region, account, cfg.FunctionName, cfg.AliasName)
}

func observedAttributes(cfg *config.LambdaAliasStep, observed *aliasObserved) map[string]any {
	if observed == nil {
		return nil
	}
	return map[string]any{
		"alias_arn":        observed.arn,
		"alias_name":       cfg.AliasName,
		"function_version": observed.version,
		"description":      observed.description,
	}
}

func success(stepID, message string, attributes map[string]any) *model.StepResult {
	return &model.StepResult{
		StepID:     stepID,
		Status:     model.StatusSuccess,
		Changed:    true,
		Message:    message,
		Attributes: attributes,
	}
}
