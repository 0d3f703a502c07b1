// Package eventmappingplugin reconciles SQS-to-Lambda event source mappings.
package eventmappingplugin

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/diff"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

const (
	waitAttempts = 10
	waitInterval = 10 * time.Second
)

type mappingPlugin struct {
	api awsapi.LambdaAPI
	// interval between mapping state polls, shortened in tests
	interval time.Duration
}

// New creates an sqs_event reconciler backed by the given Lambda client.
func New(api awsapi.LambdaAPI) plugin.Plugin {
	return &mappingPlugin{api: api, interval: waitInterval}
}

var _ plugin.Plugin = (*mappingPlugin)(nil)

func (p *mappingPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "sqs_event",
		Version:     "1.0.0",
		Type:        "sqs_event",
		Description: "Manages SQS event source mappings for Lambda functions.",
	}
}

func (p *mappingPlugin) Schema() any {
	return config.SQSEventStep{}
}

type mappingEvaluation struct {
	uuid  string
	state string
}

func (p *mappingPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.SQSEvent
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("sqs_event configuration missing"))
	}

	out, err := p.api.ListEventSourceMappings(ctx, &lambda.ListEventSourceMappingsInput{
		EventSourceArn: aws.String(cfg.SourceARN),
		MaxItems:       aws.Int32(2),
	})
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to list event source mappings: %w", err))
	}

	mappings := out.EventSourceMappings
	if len(mappings) > 1 {
		return nil, plugin.NewExecutionError(step.ID,
			fmt.Errorf("source %s has multiple mappings; multiple mappings are not supported", cfg.SourceARN))
	}

	wantPresent := step.State == config.StatePresent

	result := &model.EvaluationResult{StepID: step.ID}

	desired := map[string]any{
		"function_arn": cfg.FunctionARN,
		"batch_size":   *cfg.BatchSize,
	}

	if len(mappings) == 0 {
		if wantPresent {
			result.Action = model.ActionCreate
			result.RequiresAction = true
			result.Message = fmt.Sprintf("no mapping exists for %s", cfg.SourceARN)
			result.Diff = diff.RenderAttributes(nil, desired)
		} else {
			result.Action = model.ActionNone
			result.Message = fmt.Sprintf("mapping for %s already absent", cfg.SourceARN)
		}
		return result, nil
	}

	mapping := mappings[0]
	observed := map[string]any{
		"function_arn": aws.ToString(mapping.FunctionArn),
		"batch_size":   aws.ToInt32(mapping.BatchSize),
	}
	result.Observed = map[string]any{
		"uuid":         aws.ToString(mapping.UUID),
		"function_arn": aws.ToString(mapping.FunctionArn),
		"batch_size":   aws.ToInt32(mapping.BatchSize),
		"state":        aws.ToString(mapping.State),
	}
	result.InternalData = &mappingEvaluation{
		uuid:  aws.ToString(mapping.UUID),
		state: aws.ToString(mapping.State),
	}

	switch {
	case !wantPresent:
		result.Action = model.ActionDelete
		result.RequiresAction = true
		result.Message = fmt.Sprintf("mapping %s exists and should be absent", aws.ToString(mapping.UUID))
	case observed["function_arn"] != cfg.FunctionARN || observed["batch_size"] != *cfg.BatchSize:
		result.Action = model.ActionUpdate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("mapping %s drifted", aws.ToString(mapping.UUID))
		result.Diff = diff.RenderAttributes(observed, desired)
	default:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("mapping for %s matches desired state", cfg.SourceARN)
	}

	return result, nil
}

func (p *mappingPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.SQSEvent
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("sqs_event configuration missing"))
	}

	switch evalResult.Action {
	case model.ActionCreate:
		out, err := p.api.CreateEventSourceMapping(ctx, &lambda.CreateEventSourceMappingInput{
			EventSourceArn: aws.String(cfg.SourceARN),
			FunctionName:   aws.String(cfg.FunctionARN),
			BatchSize:      cfg.BatchSize,
		})
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to create event source mapping: %w", err))
		}

		return success(step.ID, fmt.Sprintf("created mapping %s", aws.ToString(out.UUID)), map[string]any{
			"uuid":         aws.ToString(out.UUID),
			"function_arn": cfg.FunctionARN,
			"batch_size":   *cfg.BatchSize,
		}), nil

	case model.ActionUpdate:
		data, ok := evalResult.InternalData.(*mappingEvaluation)
		if !ok {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation data missing"))
		}

		if err := p.waitUntilSettled(ctx, data.uuid, data.state); err != nil {
			return nil, plugin.NewExecutionError(step.ID, err)
		}

		out, err := p.api.UpdateEventSourceMapping(ctx, &lambda.UpdateEventSourceMappingInput{
			UUID:         aws.String(data.uuid),
			FunctionName: aws.String(cfg.FunctionARN),
			BatchSize:    cfg.BatchSize,
		})
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to update event source mapping: %w", err))
		}

		return success(step.ID, fmt.Sprintf("updated mapping %s", data.uuid), map[string]any{
			"uuid":         aws.ToString(out.UUID),
			"function_arn": cfg.FunctionARN,
			"batch_size":   *cfg.BatchSize,
		}), nil

	case model.ActionDelete:
		data, ok := evalResult.InternalData.(*mappingEvaluation)
		if !ok {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation data missing"))
		}

		err := p.waitUntilSettled(ctx, data.uuid, data.state)
		if err != nil {
			// A mapping that disappeared while settling is already absent.
			if awsapi.IsNotFound(err) {
				return success(step.ID, fmt.Sprintf("mapping %s already deleted", data.uuid), nil), nil
			}
			return nil, plugin.NewExecutionError(step.ID, err)
		}

		if _, err := p.api.DeleteEventSourceMapping(ctx, &lambda.DeleteEventSourceMappingInput{
			UUID: aws.String(data.uuid),
		}); err != nil {
			if awsapi.IsNotFound(err) {
				return success(step.ID, fmt.Sprintf("mapping %s already deleted", data.uuid), nil), nil
			}
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to delete event source mapping: %w", err))
		}

		return success(step.ID, fmt.Sprintf("deleted mapping %s", data.uuid), nil), nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSkipped,
		Message: "no changes needed",
	}, nil
}

// waitUntilSettled polls the mapping until it leaves a transitional state.
// This is a state-settling wait required by the Lambda API, not a retry
// policy; API failures are returned immediately.
func (p *mappingPlugin) waitUntilSettled(ctx context.Context, uuid, state string) error {
	for attempt := 0; attempt < waitAttempts; attempt++ {
		if state == "Enabled" || state == "Disabled" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}

		out, err := p.api.GetEventSourceMapping(ctx, &lambda.GetEventSourceMappingInput{UUID: aws.String(uuid)})
		if err != nil {
			return err
		}
		state = aws.ToString(out.State)
	}

	return fmt.Errorf("mapping %s did not settle (state %s)", uuid, state)
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
