package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validTask = `
version: "1.0"
name: orders-pipeline
steps:
  - id: orders_queue
    type: sqs_queue
    queue_name: orders.fifo
    message_retention_period: 86400
    visibility_timeout: 30
  - id: wire_queue
    type: sqs_event
    source_arn: arn:aws:sqs:us-east-1:123456789012:orders.fifo
    function_arn: arn:aws:lambda:us-east-1:123456789012:function:orders-worker
`

func TestParseBytesValidDocument(t *testing.T) {
	cfg, err := ParseBytes([]byte(validTask), "task.yaml")
	require.NoError(t, err)
	require.Equal(t, "orders-pipeline", cfg.Name)
	require.Len(t, cfg.Steps, 2)

	queue := cfg.Steps[0]
	require.Equal(t, "sqs_queue", queue.Type)
	require.Equal(t, StatePresent, queue.State, "state defaults to present")
	require.NotNil(t, queue.SQSQueue)
	require.Equal(t, "orders.fifo", queue.SQSQueue.QueueName)
	require.Equal(t, 86400, *queue.SQSQueue.MessageRetentionPeriod)

	event := cfg.Steps[1]
	require.NotNil(t, event.SQSEvent)
	require.NotNil(t, event.SQSEvent.BatchSize)
	require.Equal(t, int32(1), *event.SQSEvent.BatchSize, "batch_size defaults to 1")
}

func TestParseConfigFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validTask), 0o644))

	cfg, err := ParseConfig(path)
	require.NoError(t, err)
	require.Equal(t, "orders-pipeline", cfg.Name)
}

func TestParseConfigMissingFile(t *testing.T) {
	_, err := ParseConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParseBytesInvalidYAML(t *testing.T) {
	_, err := ParseBytes([]byte("version: [unclosed"), "task.yaml")
	require.Error(t, err)
}

func TestParseBytesUnknownStepTypeFails(t *testing.T) {
	doc := `
version: "1.0"
name: test
steps:
  - id: step_1
    type: dynamo_table
`
	_, err := ParseBytes([]byte(doc), "task.yaml")
	require.Error(t, err)
}
