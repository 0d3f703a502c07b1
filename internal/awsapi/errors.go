package awsapi

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// API error codes that mean "the resource is absent". Absence is a valid
// observed state for every reconciler, never a failure.
const codeResourceNotFound = "ResourceNotFoundException"

// IsNotFound reports whether err is the provider's way of saying the
// requested resource does not exist. SQS reports a queue miss with its own
// service-specific code; the Lambda APIs use ResourceNotFoundException.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case codeResourceNotFound:
		return true
	case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
		return true
	}

	return false
}

// AccountFromARN extracts the account id field from an ARN:
// arn:aws:sts::123456789012:assumed-role/... -> 123456789012.
func AccountFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 5 {
		return ""
	}
	return parts[4]
}
