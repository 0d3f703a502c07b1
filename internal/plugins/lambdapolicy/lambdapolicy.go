// Package lambdapolicyplugin reconciles Lambda resource policy statements that
// grant a service principal permission to invoke a function.
package lambdapolicyplugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/diff"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

const invokeAction = "lambda:InvokeFunction"

type policyPlugin struct {
	api    awsapi.LambdaAPI
	sts    awsapi.STSAPI
	region string
}

// New creates a lambda_policy reconciler backed by the given clients.
func New(api awsapi.LambdaAPI, stsAPI awsapi.STSAPI, region string) plugin.Plugin {
	return &policyPlugin{api: api, sts: stsAPI, region: region}
}

var _ plugin.Plugin = (*policyPlugin)(nil)

func (p *policyPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "lambda_policy",
		Version:     "1.0.0",
		Type:        "lambda_policy",
		Description: "Manages Lambda invoke permissions for service principals.",
	}
}

func (p *policyPlugin) Schema() any {
	return config.LambdaPolicyStep{}
}

// policyDocument mirrors the subset of the Lambda resource policy JSON the
// reconciler inspects.
type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string          `json:"Sid"`
	Effect    string          `json:"Effect"`
	Principal policyPrincipal `json:"Principal"`
	Action    string          `json:"Action"`
	Resource  string          `json:"Resource"`
	Condition policyCondition `json:"Condition"`
}

type policyPrincipal struct {
	Service string `json:"Service"`
}

type policyCondition struct {
	ArnLike map[string]string `json:"ArnLike"`
}

type policyEvaluation struct {
	statementID string
}

func (p *policyPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.LambdaPolicy
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_policy configuration missing"))
	}

	functionARN, err := p.functionARN(ctx, cfg)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to resolve function arn: %w", err))
	}

	statement, err := p.findStatement(ctx, cfg, functionARN)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	wantPresent := step.State == config.StatePresent
	result := &model.EvaluationResult{StepID: step.ID}

	switch {
	case statement == nil && wantPresent:
		result.Action = model.ActionCreate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("%s has no invoke permission for %s", cfg.FunctionName, cfg.PrincipalService)
		result.Diff = diff.RenderAttributes(nil, map[string]any{
			"action":     invokeAction,
			"principal":  cfg.PrincipalService,
			"source_arn": cfg.SourceARN,
			"resource":   functionARN,
		})
	case statement == nil:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("no invoke permission for %s on %s", cfg.PrincipalService, cfg.FunctionName)
	case wantPresent:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("invoke permission %s already granted", statement.Sid)
		result.Observed = observedStatement(statement)
	default:
		result.Action = model.ActionDelete
		result.RequiresAction = true
		result.Message = fmt.Sprintf("invoke permission %s should be absent", statement.Sid)
		result.Observed = observedStatement(statement)
		result.InternalData = &policyEvaluation{statementID: statement.Sid}
	}

	return result, nil
}

func (p *policyPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.LambdaPolicy
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_policy configuration missing"))
	}

	switch evalResult.Action {
	case model.ActionCreate:
		statementID := uuid.NewString()
		in := &lambda.AddPermissionInput{
			FunctionName: aws.String(cfg.FunctionName),
			StatementId:  aws.String(statementID),
			Action:       aws.String(invokeAction),
			Principal:    aws.String(cfg.PrincipalService),
			SourceArn:    aws.String(cfg.SourceARN),
			Qualifier:    cfg.Qualifier,
		}
		if _, err := p.api.AddPermission(ctx, in); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to add permission: %w", err))
		}

		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSuccess,
			Changed: true,
			Message: fmt.Sprintf("granted %s invoke permission on %s", cfg.PrincipalService, cfg.FunctionName),
			Attributes: map[string]any{
				"statement_id": statementID,
				"principal":    cfg.PrincipalService,
				"source_arn":   cfg.SourceARN,
			},
		}, nil

	case model.ActionDelete:
		data, ok := evalResult.InternalData.(*policyEvaluation)
		if !ok {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation data missing"))
		}

		if _, err := p.api.RemovePermission(ctx, &lambda.RemovePermissionInput{
			FunctionName: aws.String(cfg.FunctionName),
			StatementId:  aws.String(data.statementID),
			Qualifier:    cfg.Qualifier,
		}); err != nil && !awsapi.IsNotFound(err) {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to remove permission: %w", err))
		}

		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSuccess,
			Changed: true,
			Message: fmt.Sprintf("revoked invoke permission %s on %s", data.statementID, cfg.FunctionName),
		}, nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSkipped,
		Message: "no changes needed",
	}, nil
}

// findStatement returns the policy statement matching the desired grant, or
// nil. A missing policy reads as no statements.
func (p *policyPlugin) findStatement(ctx context.Context, cfg *config.LambdaPolicyStep, functionARN string) (*policyStatement, error) {
	out, err := p.api.GetPolicy(ctx, &lambda.GetPolicyInput{
		FunctionName: aws.String(cfg.FunctionName),
		Qualifier:    cfg.Qualifier,
	})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read function policy: %w", err)
	}

	var doc policyDocument
	if err := json.Unmarshal([]byte(aws.ToString(out.Policy)), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse function policy: %w", err)
	}

	for i := range doc.Statement {
		stmt := &doc.Statement[i]
		if stmt.Effect != "Allow" || stmt.Action != invokeAction {
			continue
		}
		if stmt.Principal.Service != cfg.PrincipalService || stmt.Resource != functionARN {
			continue
		}
		if stmt.Condition.ArnLike["AWS:SourceArn"] != cfg.SourceARN {
			continue
		}
		return stmt, nil
	}

	return nil, nil
}

// functionARN builds the ARN the matching statement must carry as Resource.
// A qualifier narrows the grant to one version or alias.
func (p *policyPlugin) functionARN(ctx context.Context, cfg *config.LambdaPolicyStep) (string, error) {
	identity, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}

	arn := fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s",
		p.region, aws.ToString(identity.Account), cfg.FunctionName)
	if cfg.Qualifier != nil {
		arn += ":" + *cfg.Qualifier
	}
	return arn, nil
}

func observedStatement(stmt *policyStatement) map[string]any {
	return map[string]any{
		"statement_id": stmt.Sid,
		"principal":    stmt.Principal.Service,
		"resource":     stmt.Resource,
		"source_arn":   stmt.Condition.ArnLike["AWS:SourceArn"],
	}
}
