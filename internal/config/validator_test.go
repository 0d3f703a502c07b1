package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func int32Ptr(v int32) *int32 { return &v }

func baseConfig(steps ...Step) *Config {
	return &Config{
		Version: "1.0",
		Name:    "test",
		Steps:   steps,
	}
}

func queueStep() Step {
	return Step{
		ID:    "orders_queue",
		Type:  "sqs_queue",
		State: StatePresent,
		SQSQueue: &SQSQueueStep{
			QueueName:              "orders.fifo",
			MessageRetentionPeriod: intPtr(86400),
			VisibilityTimeout:      intPtr(30),
		},
	}
}

func TestValidateConfigAcceptsValidDocument(t *testing.T) {
	require.NoError(t, ValidateConfig(baseConfig(queueStep())))
}

func TestValidateConfigRejectsNil(t *testing.T) {
	require.Error(t, ValidateConfig(nil))
}

func TestValidateConfigRejectsBadVersion(t *testing.T) {
	cfg := baseConfig(queueStep())
	cfg.Version = "not-a-version"
	require.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsDuplicateStepIDs(t *testing.T) {
	a := queueStep()
	b := queueStep()
	err := ValidateConfig(baseConfig(a, b))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate step id")
}

func TestValidateConfigRejectsBadStepID(t *testing.T) {
	step := queueStep()
	step.ID = "Orders Queue"
	require.Error(t, ValidateConfig(baseConfig(step)))
}

func TestQueueNameMustEndWithFifo(t *testing.T) {
	step := queueStep()
	step.SQSQueue.QueueName = "orders"
	err := ValidateConfig(baseConfig(step))
	require.Error(t, err)
	require.Contains(t, err.Error(), ".fifo")
}

func TestQueueAttributesRequiredWhenPresent(t *testing.T) {
	step := queueStep()
	step.SQSQueue.VisibilityTimeout = nil
	require.Error(t, ValidateConfig(baseConfig(step)))

	// Absent queues need no attributes.
	step.State = StateAbsent
	require.NoError(t, ValidateConfig(baseConfig(step)))
}

func TestFunctionRequiresExactlyOneCodeSource(t *testing.T) {
	step := Step{
		ID:    "deploy_worker",
		Type:  "lambda_function",
		State: StatePresent,
		LambdaFunction: &LambdaFunctionStep{
			FunctionName: "orders-worker",
			Runtime:      "python3.12",
			Role:         "worker-role",
			Handler:      "lambda_function.handler",
			Timeout:      3,
			MemorySize:   128,
		},
	}

	err := ValidateConfig(baseConfig(step))
	require.Error(t, err, "no code source")

	step.LambdaFunction.Code = strPtr("def handler(event, context): pass")
	require.NoError(t, ValidateConfig(baseConfig(step)))

	step.LambdaFunction.LocalPath = strPtr("build/function.zip")
	err = ValidateConfig(baseConfig(step))
	require.Error(t, err, "two code sources")
	require.Contains(t, err.Error(), "exactly one")
}

func TestFunctionS3SourceRequiresFullTriple(t *testing.T) {
	step := Step{
		ID:    "deploy_worker",
		Type:  "lambda_function",
		State: StatePresent,
		LambdaFunction: &LambdaFunctionStep{
			FunctionName: "orders-worker",
			Runtime:      "python3.12",
			Role:         "worker-role",
			Handler:      "lambda_function.handler",
			S3Bucket:     strPtr("artifacts"),
			Timeout:      3,
			MemorySize:   128,
		},
	}

	err := ValidateConfig(baseConfig(step))
	require.Error(t, err)
	require.Contains(t, err.Error(), "together")

	step.LambdaFunction.S3Key = strPtr("function.zip")
	step.LambdaFunction.S3ObjectVersion = strPtr("v1")
	require.NoError(t, ValidateConfig(baseConfig(step)))
}

func TestAliasVersionRequiredWhenPresent(t *testing.T) {
	step := Step{
		ID:    "promote_prod",
		Type:  "lambda_alias",
		State: StatePresent,
		LambdaAlias: &LambdaAliasStep{
			FunctionName: "orders-worker",
			AliasName:    "prod",
		},
	}

	require.Error(t, ValidateConfig(baseConfig(step)))

	step.LambdaAlias.Version = "3"
	require.NoError(t, ValidateConfig(baseConfig(step)))

	step.LambdaAlias.Version = ""
	step.State = StateAbsent
	require.NoError(t, ValidateConfig(baseConfig(step)))
}

func TestEventBatchSizeBounds(t *testing.T) {
	step := Step{
		ID:    "wire_queue",
		Type:  "sqs_event",
		State: StatePresent,
		SQSEvent: &SQSEventStep{
			SourceARN:   "arn:aws:sqs:us-east-1:123456789012:orders.fifo",
			FunctionARN: "arn:aws:lambda:us-east-1:123456789012:function:orders-worker",
			BatchSize:   int32Ptr(0),
		},
	}

	err := ValidateConfig(baseConfig(step))
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch_size")

	step.SQSEvent.BatchSize = int32Ptr(10)
	require.NoError(t, ValidateConfig(baseConfig(step)))
}
