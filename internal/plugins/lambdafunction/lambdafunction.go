// Package lambdafunctionplugin reconciles Lambda functions: configuration,
// code, and lifecycle. Code drift is detected by packaging the desired source
// deterministically and comparing its digest against the observed CodeSha256.
package lambdafunctionplugin

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/diff"
	"github.com/convergetool/converge/internal/lambdapkg"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

const (
	latestVersion = "$LATEST"
	waitAttempts  = 60
	waitInterval  = time.Second
)

type functionPlugin struct {
	api awsapi.LambdaAPI
	sts awsapi.STSAPI
	// interval between function state polls, shortened in tests
	interval time.Duration
}

// New creates a lambda_function reconciler backed by the given clients.
func New(api awsapi.LambdaAPI, stsAPI awsapi.STSAPI) plugin.Plugin {
	return &functionPlugin{api: api, sts: stsAPI, interval: waitInterval}
}

var _ plugin.Plugin = (*functionPlugin)(nil)

func (p *functionPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "lambda_function",
		Version:     "1.0.0",
		Type:        "lambda_function",
		Description: "Manages Lambda function configuration and code.",
	}
}

func (p *functionPlugin) Schema() any {
	return config.LambdaFunctionStep{}
}

// functionEvaluation records which halves of the function drifted so Apply
// issues only the provider calls Evaluate decided on.
type functionEvaluation struct {
	roleARN      string
	updateConfig bool
	updateCode   bool
	environment  map[string]string
}

func (p *functionPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.LambdaFunction
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_function configuration missing"))
	}

	observed, err := p.fetch(ctx, cfg)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read function %s: %w", cfg.FunctionName, err))
	}

	wantPresent := step.State == config.StatePresent
	result := &model.EvaluationResult{StepID: step.ID}

	if observed == nil {
		if !wantPresent {
			result.Action = model.ActionNone
			result.Message = fmt.Sprintf("function %s already absent", cfg.FunctionName)
			return result, nil
		}

		roleARN, err := p.resolveRole(ctx, cfg.Role)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to resolve role: %w", err))
		}

		desired, err := p.desiredAttributes(cfg, roleARN, nil)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, err)
		}

		result.Action = model.ActionCreate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("function %s does not exist", cfg.FunctionName)
		result.Diff = diff.RenderAttributes(nil, desired)
		result.InternalData = &functionEvaluation{roleARN: roleARN, environment: cfg.Environment}
		return result, nil
	}

	if !wantPresent {
		result.Action = model.ActionDelete
		result.RequiresAction = true
		result.Message = fmt.Sprintf("function %s exists and should be absent", cfg.FunctionName)
		result.Observed = observedAttributes(observed)
		result.InternalData = &functionEvaluation{}
		return result, nil
	}

	roleARN, err := p.resolveRole(ctx, cfg.Role)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to resolve role: %w", err))
	}

	// With preserve_environment the observed variables are carried through
	// configuration updates untouched.
	environment := cfg.Environment
	if cfg.PreserveEnvironment {
		environment = observedEnvironment(observed)
	}

	desired, err := p.desiredAttributes(cfg, roleARN, environment)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}
	observedAttrs := observedAttributes(observed)

	configChanged := configDrifted(cfg, observed, roleARN, environment)
	codeChanged := codeDrifted(cfg, observed, desired)

	observedVersion := aws.ToString(observed.Version)
	if cfg.Publish {
		// Publishing snapshots $LATEST, so the code half must run even
		// when only configuration drifted or the observed version is a
		// stale snapshot.
		if observedVersion == latestVersion {
			codeChanged = true
		}
		if configChanged && !codeChanged {
			codeChanged = true
		}
		if observedVersion != latestVersion && (configChanged || codeChanged) {
			codeChanged = true
			configChanged = true
		}
	}

	result.Observed = observedAttrs
	result.InternalData = &functionEvaluation{
		roleARN:      roleARN,
		updateConfig: configChanged,
		updateCode:   codeChanged,
		environment:  environment,
	}

	if configChanged || codeChanged {
		result.Action = model.ActionUpdate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("function %s drifted", cfg.FunctionName)
		result.Diff = diff.RenderAttributes(observedAttrs, desired)
	} else {
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("function %s matches desired state", cfg.FunctionName)
	}

	return result, nil
}

func (p *functionPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.LambdaFunction
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("lambda_function configuration missing"))
	}

	data, ok := evalResult.InternalData.(*functionEvaluation)
	if !ok && evalResult.Action != model.ActionNone {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation data missing"))
	}

	switch evalResult.Action {
	case model.ActionCreate:
		return p.create(ctx, step, cfg, data)
	case model.ActionUpdate:
		return p.update(ctx, step, cfg, data)
	case model.ActionDelete:
		if _, err := p.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
			FunctionName: aws.String(cfg.FunctionName),
		}); err != nil && !awsapi.IsNotFound(err) {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to delete function: %w", err))
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSuccess,
			Changed: true,
			Message: fmt.Sprintf("deleted function %s", cfg.FunctionName),
		}, nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSkipped,
		Message: "no changes needed",
	}, nil
}

func (p *functionPlugin) create(ctx context.Context, step *config.Step, cfg *config.LambdaFunctionStep, data *functionEvaluation) (*model.StepResult, error) {
	code, err := functionCode(cfg, false)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	in := &lambda.CreateFunctionInput{
		FunctionName: aws.String(cfg.FunctionName),
		Runtime:      lambdatypes.Runtime(cfg.Runtime),
		Role:         aws.String(data.roleARN),
		Handler:      aws.String(cfg.Handler),
		Code:         code,
		Timeout:      aws.Int32(int32(cfg.Timeout)),
		MemorySize:   aws.Int32(int32(cfg.MemorySize)),
		Publish:      cfg.Publish,
	}
	if cfg.Description != "" {
		in.Description = aws.String(cfg.Description)
	}
	if len(data.environment) > 0 {
		in.Environment = &lambdatypes.Environment{Variables: data.environment}
	}
	if len(cfg.Layers) > 0 {
		in.Layers = cfg.Layers
	}

	if _, err := p.api.CreateFunction(ctx, in); err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to create function: %w", err))
	}

	final, err := p.waitUntilActive(ctx, cfg.FunctionName)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	return &model.StepResult{
		StepID:     step.ID,
		Status:     model.StatusSuccess,
		Changed:    true,
		Message:    fmt.Sprintf("created function %s", cfg.FunctionName),
		Attributes: observedAttributes(final),
	}, nil
}

func (p *functionPlugin) update(ctx context.Context, step *config.Step, cfg *config.LambdaFunctionStep, data *functionEvaluation) (*model.StepResult, error) {
	if data.updateConfig {
		in := &lambda.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(cfg.FunctionName),
			Runtime:      lambdatypes.Runtime(cfg.Runtime),
			Role:         aws.String(data.roleARN),
			Handler:      aws.String(cfg.Handler),
			Description:  aws.String(cfg.Description),
			Timeout:      aws.Int32(int32(cfg.Timeout)),
			MemorySize:   aws.Int32(int32(cfg.MemorySize)),
		}
		if len(data.environment) > 0 {
			in.Environment = &lambdatypes.Environment{Variables: data.environment}
		}
		if len(cfg.Layers) > 0 {
			in.Layers = cfg.Layers
		}
		if _, err := p.api.UpdateFunctionConfiguration(ctx, in); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to update function configuration: %w", err))
		}
		if _, err := p.waitUntilUpdated(ctx, cfg.FunctionName); err != nil {
			return nil, plugin.NewExecutionError(step.ID, err)
		}
	}

	if data.updateCode {
		code, err := functionCode(cfg, false)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, err)
		}
		in := &lambda.UpdateFunctionCodeInput{
			FunctionName:    aws.String(cfg.FunctionName),
			ZipFile:         code.ZipFile,
			S3Bucket:        code.S3Bucket,
			S3Key:           code.S3Key,
			S3ObjectVersion: code.S3ObjectVersion,
			Publish:         cfg.Publish,
		}
		if _, err := p.api.UpdateFunctionCode(ctx, in); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to update function code: %w", err))
		}
		if _, err := p.waitUntilUpdated(ctx, cfg.FunctionName); err != nil {
			return nil, plugin.NewExecutionError(step.ID, err)
		}
	}

	final, err := p.fetch(ctx, cfg)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read function %s: %w", cfg.FunctionName, err))
	}

	attrs := map[string]any{}
	if final != nil {
		attrs = observedAttributes(final)
	}
	return &model.StepResult{
		StepID:     step.ID,
		Status:     model.StatusSuccess,
		Changed:    true,
		Message:    fmt.Sprintf("updated function %s", cfg.FunctionName),
		Attributes: attrs,
	}, nil
}

// fetch reads the function configuration, preferring the configured qualifier
// and falling back to $LATEST. nil means the function does not exist.
func (p *functionPlugin) fetch(ctx context.Context, cfg *config.LambdaFunctionStep) (*lambda.GetFunctionConfigurationOutput, error) {
	if cfg.Qualifier != nil {
		out, err := p.api.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
			FunctionName: aws.String(cfg.FunctionName),
			Qualifier:    cfg.Qualifier,
		})
		if err == nil {
			return out, nil
		}
		if !awsapi.IsNotFound(err) {
			return nil, err
		}
	}

	out, err := p.api.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(cfg.FunctionName),
	})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// resolveRole expands a bare role name into a full IAM role ARN using the
// caller's account id.
func (p *functionPlugin) resolveRole(ctx context.Context, role string) (string, error) {
	if strings.HasPrefix(role, "arn:aws:iam:") {
		return role, nil
	}

	identity, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", aws.ToString(identity.Account), role), nil
}

func (p *functionPlugin) desiredAttributes(cfg *config.LambdaFunctionStep, roleARN string, environment map[string]string) (map[string]any, error) {
	attrs := map[string]any{
		"runtime":     cfg.Runtime,
		"role":        roleARN,
		"handler":     cfg.Handler,
		"timeout":     cfg.Timeout,
		"memory_size": cfg.MemorySize,
		"description": cfg.Description,
	}

	hash, err := desiredCodeHash(cfg)
	if err != nil {
		return nil, err
	}
	if hash != "" {
		attrs["code_sha256"] = hash
	}
	if len(environment) > 0 {
		attrs["environment"] = environment
	}
	if len(cfg.Layers) > 0 {
		attrs["layers"] = cfg.Layers
	}
	return attrs, nil
}

func observedAttributes(out *lambda.GetFunctionConfigurationOutput) map[string]any {
	attrs := map[string]any{
		"function_name": aws.ToString(out.FunctionName),
		"function_arn":  aws.ToString(out.FunctionArn),
		"runtime":       string(out.Runtime),
		"role":          aws.ToString(out.Role),
		"handler":       aws.ToString(out.Handler),
		"timeout":       int(aws.ToInt32(out.Timeout)),
		"memory_size":   int(aws.ToInt32(out.MemorySize)),
		"description":   aws.ToString(out.Description),
		"code_sha256":   aws.ToString(out.CodeSha256),
		"version":       aws.ToString(out.Version),
	}
	if env := observedEnvironment(out); len(env) > 0 {
		attrs["environment"] = env
	}
	if len(out.Layers) > 0 {
		attrs["layers"] = observedLayers(out)
	}
	return attrs
}

func observedEnvironment(out *lambda.GetFunctionConfigurationOutput) map[string]string {
	if out.Environment == nil {
		return nil
	}
	return out.Environment.Variables
}

func observedLayers(out *lambda.GetFunctionConfigurationOutput) []string {
	layers := make([]string, 0, len(out.Layers))
	for _, layer := range out.Layers {
		layers = append(layers, aws.ToString(layer.Arn))
	}
	return layers
}

func configDrifted(cfg *config.LambdaFunctionStep, observed *lambda.GetFunctionConfigurationOutput, roleARN string, environment map[string]string) bool {
	if cfg.Runtime != string(observed.Runtime) {
		return true
	}
	if roleARN != aws.ToString(observed.Role) {
		return true
	}
	if cfg.Handler != aws.ToString(observed.Handler) {
		return true
	}
	if cfg.Description != aws.ToString(observed.Description) {
		return true
	}
	if int32(cfg.Timeout) != aws.ToInt32(observed.Timeout) {
		return true
	}
	if int32(cfg.MemorySize) != aws.ToInt32(observed.MemorySize) {
		return true
	}
	if !maps.Equal(environment, observedEnvironment(observed)) {
		return true
	}
	if !slices.Equal(cfg.Layers, observedLayers(observed)) {
		return true
	}
	return false
}

// codeDrifted compares the desired package digest against the observed
// CodeSha256. S3-sourced code carries no local digest, so it never reports
// drift on its own; publish forcing still pushes it when needed.
func codeDrifted(cfg *config.LambdaFunctionStep, observed *lambda.GetFunctionConfigurationOutput, desired map[string]any) bool {
	hash, ok := desired["code_sha256"].(string)
	if !ok {
		return false
	}
	return hash != aws.ToString(observed.CodeSha256)
}

// desiredCodeHash packages inline or local code and digests it. Missing local
// files read as empty so evaluation of not-yet-built artifacts stays
// read-only; Apply packages again without that allowance.
func desiredCodeHash(cfg *config.LambdaFunctionStep) (string, error) {
	switch {
	case cfg.Code != nil:
		pkg, err := lambdapkg.FromCode(*cfg.Code)
		if err != nil {
			return "", err
		}
		return lambdapkg.Hash(pkg), nil
	case cfg.LocalPath != nil:
		pkg, err := lambdapkg.FromFile(*cfg.LocalPath, true)
		if err != nil {
			return "", err
		}
		return lambdapkg.Hash(pkg), nil
	}
	return "", nil
}

func functionCode(cfg *config.LambdaFunctionStep, missingOK bool) (*lambdatypes.FunctionCode, error) {
	switch {
	case cfg.Code != nil:
		pkg, err := lambdapkg.FromCode(*cfg.Code)
		if err != nil {
			return nil, err
		}
		return &lambdatypes.FunctionCode{ZipFile: pkg}, nil
	case cfg.LocalPath != nil:
		pkg, err := lambdapkg.FromFile(*cfg.LocalPath, missingOK)
		if err != nil {
			return nil, err
		}
		return &lambdatypes.FunctionCode{ZipFile: pkg}, nil
	case cfg.S3Bucket != nil:
		return &lambdatypes.FunctionCode{
			S3Bucket:        cfg.S3Bucket,
			S3Key:           cfg.S3Key,
			S3ObjectVersion: cfg.S3ObjectVersion,
		}, nil
	}
	return nil, fmt.Errorf("no code source configured")
}

// waitUntilActive polls a newly created function until it leaves Pending.
func (p *functionPlugin) waitUntilActive(ctx context.Context, name string) (*lambda.GetFunctionConfigurationOutput, error) {
	return p.poll(ctx, name, func(out *lambda.GetFunctionConfigurationOutput) bool {
		return out.State != lambdatypes.StatePending
	})
}

// waitUntilUpdated polls a function until its last update leaves InProgress.
func (p *functionPlugin) waitUntilUpdated(ctx context.Context, name string) (*lambda.GetFunctionConfigurationOutput, error) {
	return p.poll(ctx, name, func(out *lambda.GetFunctionConfigurationOutput) bool {
		return out.LastUpdateStatus != lambdatypes.LastUpdateStatusInProgress
	})
}

func (p *functionPlugin) poll(ctx context.Context, name string, done func(*lambda.GetFunctionConfigurationOutput) bool) (*lambda.GetFunctionConfigurationOutput, error) {
	var last *lambda.GetFunctionConfigurationOutput
	for attempt := 0; attempt < waitAttempts; attempt++ {
		out, err := p.api.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
			FunctionName: aws.String(name),
		})
		if err != nil {
			return nil, err
		}
		if done(out) {
			return out, nil
		}
		last = out

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.interval):
		}
	}

	state := ""
	if last != nil {
		state = string(last.State)
	}
	return nil, fmt.Errorf("function %s did not become ready (state %s)", name, state)
}
