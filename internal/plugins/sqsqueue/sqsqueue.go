// Package sqsqueueplugin reconciles SQS FIFO queues.
package sqsqueueplugin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/diff"
	"github.com/convergetool/converge/internal/model"
	"github.com/convergetool/converge/internal/plugin"
)

type queuePlugin struct {
	api awsapi.SQSAPI
}

// New creates an sqs_queue reconciler backed by the given SQS client.
func New(api awsapi.SQSAPI) plugin.Plugin {
	return &queuePlugin{api: api}
}

var _ plugin.Plugin = (*queuePlugin)(nil)

func (p *queuePlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "sqs_queue",
		Version:     "1.0.0",
		Type:        "sqs_queue",
		Description: "Manages SQS FIFO queues.",
	}
}

func (p *queuePlugin) Schema() any {
	return config.SQSQueueStep{}
}

type queueEvaluation struct {
	queueURL string
	desired  map[string]string
}

func (p *queuePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.SQSQueue
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("sqs_queue configuration missing"))
	}

	desired := desiredAttributes(cfg)

	queueURL, observed, err := p.fetch(ctx, cfg.QueueName)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	exists := observed != nil
	wantPresent := step.State == config.StatePresent

	result := &model.EvaluationResult{
		StepID:   step.ID,
		Observed: attributesResult(observed),
		InternalData: &queueEvaluation{
			queueURL: queueURL,
			desired:  desired,
		},
	}

	switch {
	case wantPresent && !exists:
		result.Action = model.ActionCreate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("queue %s does not exist", cfg.QueueName)
		result.Diff = diff.RenderAttributes(nil, attributesResult(desired))
	case wantPresent && attributesDrifted(desired, observed):
		result.Action = model.ActionUpdate
		result.RequiresAction = true
		result.Message = fmt.Sprintf("queue %s attributes drifted", cfg.QueueName)
		result.Diff = diff.RenderAttributes(attributesResult(selectKeys(observed, desired)), attributesResult(desired))
	case wantPresent:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("queue %s matches desired state", cfg.QueueName)
	case exists:
		result.Action = model.ActionDelete
		result.RequiresAction = true
		result.Message = fmt.Sprintf("queue %s exists and should be absent", cfg.QueueName)
	default:
		result.Action = model.ActionNone
		result.Message = fmt.Sprintf("queue %s already absent", cfg.QueueName)
	}

	return result, nil
}

func (p *queuePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.SQSQueue
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("sqs_queue configuration missing"))
	}

	data, ok := evalResult.InternalData.(*queueEvaluation)
	if !ok {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation data missing"))
	}

	switch evalResult.Action {
	case model.ActionCreate:
		attributes := map[string]string{"FifoQueue": "true"}
		for k, v := range data.desired {
			attributes[k] = v
		}

		if _, err := p.api.CreateQueue(ctx, &sqs.CreateQueueInput{
			QueueName:  aws.String(cfg.QueueName),
			Attributes: attributes,
		}); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to create queue: %w", err))
		}

		_, observed, err := p.fetch(ctx, cfg.QueueName)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to re-fetch queue after create: %w", err))
		}

		return success(step.ID, fmt.Sprintf("created queue %s", cfg.QueueName), attributesResult(observed)), nil

	case model.ActionUpdate:
		if _, err := p.api.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
			QueueUrl:   aws.String(data.queueURL),
			Attributes: data.desired,
		}); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to set queue attributes: %w", err))
		}

		return success(step.ID, fmt.Sprintf("updated queue %s", cfg.QueueName), attributesResult(data.desired)), nil

	case model.ActionDelete:
		if _, err := p.api.DeleteQueue(ctx, &sqs.DeleteQueueInput{
			QueueUrl: aws.String(data.queueURL),
		}); err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to delete queue: %w", err))
		}

		return success(step.ID, fmt.Sprintf("deleted queue %s", cfg.QueueName), nil), nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSkipped,
		Message: "no changes needed",
	}, nil
}

// fetch resolves the queue URL and attributes. A missing queue returns nil
// attributes without error.
func (p *queuePlugin) fetch(ctx context.Context, name string) (string, map[string]string, error) {
	urlOut, err := p.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to get queue URL for %s: %w", name, err)
	}

	queueURL := aws.ToString(urlOut.QueueUrl)

	attrOut, err := p.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get queue attributes for %s: %w", name, err)
	}

	attrs := attrOut.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return queueURL, attrs, nil
}

// desiredAttributes coerces the requested integer attributes into the string
// form the SQS attribute map uses.
func desiredAttributes(cfg *config.SQSQueueStep) map[string]string {
	desired := make(map[string]string)
	if cfg.MessageRetentionPeriod != nil {
		desired[string(sqstypes.QueueAttributeNameMessageRetentionPeriod)] = strconv.Itoa(*cfg.MessageRetentionPeriod)
	}
	if cfg.VisibilityTimeout != nil {
		desired[string(sqstypes.QueueAttributeNameVisibilityTimeout)] = strconv.Itoa(*cfg.VisibilityTimeout)
	}
	return desired
}

// attributesDrifted compares only the requested attributes; attributes the
// caller did not supply never count as drift.
func attributesDrifted(desired, observed map[string]string) bool {
	for k, v := range desired {
		if observed[k] != v {
			return true
		}
	}
	return false
}

func selectKeys(observed, desired map[string]string) map[string]string {
	out := make(map[string]string, len(desired))
	for k := range desired {
		if v, ok := observed[k]; ok {
			out[k] = v
		}
	}
	return out
}

func attributesResult(attrs map[string]string) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
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
