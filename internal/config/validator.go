package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	convergeerrors "github.com/convergetool/converge/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	stepIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema and cross-field validation on the task
// document. Everything here runs before any provider call is made.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return convergeerrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	stepIndex := make(map[string]int, len(cfg.Steps))

	for i, step := range cfg.Steps {
		if _, exists := stepIndex[step.ID]; exists {
			return convergeerrors.NewValidationError(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}
		stepIndex[step.ID] = i

		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *Step) error {
	switch step.Type {
	case "sqs_queue":
		return validateSQSQueueStep(index, step)
	case "lambda_function":
		return validateLambdaFunctionStep(index, step)
	case "lambda_alias":
		return validateLambdaAliasStep(index, step)
	case "sqs_event":
		return validateSQSEventStep(index, step)
	case "lambda_policy":
		if step.LambdaPolicy == nil {
			return missingBody(index, step.Type)
		}
	case "lambda_package":
		if step.LambdaPackage == nil {
			return missingBody(index, step.Type)
		}
	}

	return nil
}

func validateSQSQueueStep(index int, step *Step) error {
	cfg := step.SQSQueue
	if cfg == nil {
		return missingBody(index, step.Type)
	}

	if !strings.HasSuffix(cfg.QueueName, ".fifo") {
		return convergeerrors.NewValidationError(fieldForStep(index, "queue_name"), "FIFO queue names must end with .fifo", nil)
	}

	if step.State == StatePresent {
		if cfg.MessageRetentionPeriod == nil {
			return requiredWhenPresent(index, "message_retention_period")
		}
		if cfg.VisibilityTimeout == nil {
			return requiredWhenPresent(index, "visibility_timeout")
		}
	}

	return nil
}

func validateLambdaFunctionStep(index int, step *Step) error {
	cfg := step.LambdaFunction
	if cfg == nil {
		return missingBody(index, step.Type)
	}

	if step.State != StatePresent {
		return nil
	}

	for _, required := range []struct {
		name  string
		value string
	}{
		{"runtime", cfg.Runtime},
		{"role", cfg.Role},
		{"handler", cfg.Handler},
	} {
		if required.value == "" {
			return requiredWhenPresent(index, required.name)
		}
	}

	sources := 0
	if cfg.Code != nil {
		sources++
	}
	if cfg.LocalPath != nil {
		sources++
	}
	if cfg.S3Bucket != nil {
		sources++
	}
	if sources != 1 {
		return convergeerrors.NewValidationError(fieldForStep(index, "code"),
			"exactly one of code, local_path or s3_bucket must be provided", nil)
	}

	if cfg.S3Bucket != nil && (cfg.S3Key == nil || cfg.S3ObjectVersion == nil) {
		return convergeerrors.NewValidationError(fieldForStep(index, "s3_bucket"),
			"s3_bucket, s3_key and s3_object_version must be provided together", nil)
	}

	return nil
}

func validateLambdaAliasStep(index int, step *Step) error {
	cfg := step.LambdaAlias
	if cfg == nil {
		return missingBody(index, step.Type)
	}

	if step.State == StatePresent && cfg.Version == "" {
		return requiredWhenPresent(index, "version")
	}

	return nil
}

func validateSQSEventStep(index int, step *Step) error {
	cfg := step.SQSEvent
	if cfg == nil {
		return missingBody(index, step.Type)
	}

	if step.State == StatePresent && cfg.FunctionARN == "" {
		return requiredWhenPresent(index, "function_arn")
	}

	if cfg.BatchSize != nil && *cfg.BatchSize < 1 {
		return convergeerrors.NewValidationError(fieldForStep(index, "batch_size"), "batch_size must be at least 1", nil)
	}

	return nil
}

func missingBody(index int, stepType string) error {
	return convergeerrors.NewValidationError(fieldForStep(index, "type"),
		fmt.Sprintf("%s configuration missing", stepType), nil)
}

func requiredWhenPresent(index int, field string) error {
	return convergeerrors.NewValidationError(fieldForStep(index, field),
		fmt.Sprintf("%s is required when state is present", field), nil)
}

func fieldForStep(index int, field string) string {
	return fmt.Sprintf("steps[%d].%s", index, field)
}

func convertValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return convergeerrors.NewValidationError("config", err.Error(), err)
	}

	first := validationErrors[0]
	return convergeerrors.NewValidationError(first.Namespace(),
		fmt.Sprintf("failed %q validation", first.Tag()), err)
}
