package config

import (
	"gopkg.in/yaml.v3"
)

// State values accepted by resource steps.
const (
	StatePresent = "present"
	StateAbsent  = "absent"
)

// Config represents a full converge task document.
type Config struct {
	Version     string   `yaml:"version" validate:"required,semver"`
	Name        string   `yaml:"name" validate:"required,min=1,max=100"`
	Description string   `yaml:"description,omitempty"`
	Settings    Settings `yaml:"settings,omitempty"`
	Steps       []Step   `yaml:"steps" validate:"required,min=1,dive"`
}

// Settings holds global execution parameters.
type Settings struct {
	DryRun  bool `yaml:"dry_run,omitempty"`
	Verbose bool `yaml:"verbose,omitempty"`
}

// Step describes a single resource to converge.
type Step struct {
	ID    string `yaml:"id" validate:"required,step_id"`
	Name  string `yaml:"name,omitempty"`
	Type  string `yaml:"type" validate:"required,oneof=sqs_queue lambda_function lambda_alias sqs_event lambda_policy lambda_package"`
	State string `yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`

	SQSQueue       *SQSQueueStep       `yaml:",inline,omitempty"`
	LambdaFunction *LambdaFunctionStep `yaml:",inline,omitempty"`
	LambdaAlias    *LambdaAliasStep    `yaml:",inline,omitempty"`
	SQSEvent       *SQSEventStep       `yaml:",inline,omitempty"`
	LambdaPolicy   *LambdaPolicyStep   `yaml:",inline,omitempty"`
	LambdaPackage  *LambdaPackageStep  `yaml:",inline,omitempty"`
}

// SQSQueueStep manages an SQS FIFO queue. The attribute fields are pointers:
// nil means the attribute is not considered for drift.
type SQSQueueStep struct {
	QueueName              string `yaml:"queue_name" validate:"required"`
	MessageRetentionPeriod *int   `yaml:"message_retention_period,omitempty"`
	VisibilityTimeout      *int   `yaml:"visibility_timeout,omitempty"`
}

// LambdaFunctionStep manages a Lambda function. Exactly one of Code,
// LocalPath or the S3 triple supplies the function code.
type LambdaFunctionStep struct {
	FunctionName        string            `yaml:"function_name" validate:"required"`
	Runtime             string            `yaml:"runtime,omitempty"`
	Role                string            `yaml:"role,omitempty"`
	Handler             string            `yaml:"handler,omitempty"`
	Code                *string           `yaml:"code,omitempty"`
	LocalPath           *string           `yaml:"local_path,omitempty"`
	S3Bucket            *string           `yaml:"s3_bucket,omitempty"`
	S3Key               *string           `yaml:"s3_key,omitempty"`
	S3ObjectVersion     *string           `yaml:"s3_object_version,omitempty"`
	Description         string            `yaml:"description,omitempty"`
	Timeout             int               `yaml:"timeout,omitempty"`
	MemorySize          int               `yaml:"memory_size,omitempty"`
	Publish             bool              `yaml:"publish,omitempty"`
	Qualifier           *string           `yaml:"qualifier,omitempty"`
	PreserveEnvironment bool              `yaml:"preserve_environment,omitempty"`
	Environment         map[string]string `yaml:"environment,omitempty"`
	Layers              []string          `yaml:"layers,omitempty"`
}

// LambdaAliasStep manages a Lambda function alias.
type LambdaAliasStep struct {
	FunctionName string `yaml:"function_name" validate:"required"`
	AliasName    string `yaml:"alias_name" validate:"required"`
	Version      string `yaml:"version,omitempty"`
	Description  string `yaml:"description,omitempty"`
}

// SQSEventStep manages an SQS-to-Lambda event source mapping.
type SQSEventStep struct {
	SourceARN   string `yaml:"source_arn" validate:"required"`
	FunctionARN string `yaml:"function_arn,omitempty"`
	BatchSize   *int32 `yaml:"batch_size,omitempty"`
}

// LambdaPolicyStep manages a Lambda invoke permission for a service principal.
type LambdaPolicyStep struct {
	FunctionName     string  `yaml:"function_name" validate:"required"`
	SourceARN        string  `yaml:"source_arn" validate:"required"`
	PrincipalService string  `yaml:"principal_service" validate:"required"`
	Qualifier        *string `yaml:"qualifier,omitempty"`
}

// LambdaPackageStep builds a deterministic deployment archive from local files.
type LambdaPackageStep struct {
	Src     string            `yaml:"src" validate:"required"`
	Dest    string            `yaml:"dest" validate:"required"`
	Include []string          `yaml:"include,omitempty"`
	Exclude []string          `yaml:"exclude,omitempty"`
	Rename  map[string]string `yaml:"rename,omitempty"`
}

// UnmarshalYAML customises step decoding to populate type-specific structures
// without conflicts, and applies per-type defaults.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type baseStep struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Type  string `yaml:"type"`
		State string `yaml:"state"`
	}

	var base baseStep
	if err := value.Decode(&base); err != nil {
		return err
	}

	s.ID = base.ID
	s.Name = base.Name
	s.Type = base.Type
	s.State = base.State
	if s.State == "" {
		s.State = StatePresent
	}

	s.SQSQueue = nil
	s.LambdaFunction = nil
	s.LambdaAlias = nil
	s.SQSEvent = nil
	s.LambdaPolicy = nil
	s.LambdaPackage = nil

	switch base.Type {
	case "sqs_queue":
		var queue SQSQueueStep
		if err := value.Decode(&queue); err != nil {
			return err
		}
		s.SQSQueue = &queue
	case "lambda_function":
		var fn LambdaFunctionStep
		if err := value.Decode(&fn); err != nil {
			return err
		}
		if fn.Timeout == 0 {
			fn.Timeout = 3
		}
		if fn.MemorySize == 0 {
			fn.MemorySize = 128
		}
		s.LambdaFunction = &fn
	case "lambda_alias":
		var alias LambdaAliasStep
		if err := value.Decode(&alias); err != nil {
			return err
		}
		s.LambdaAlias = &alias
	case "sqs_event":
		var event SQSEventStep
		if err := value.Decode(&event); err != nil {
			return err
		}
		if event.BatchSize == nil {
			batch := int32(1)
			event.BatchSize = &batch
		}
		s.SQSEvent = &event
	case "lambda_policy":
		var policy LambdaPolicyStep
		if err := value.Decode(&policy); err != nil {
			return err
		}
		s.LambdaPolicy = &policy
	case "lambda_package":
		var pkg LambdaPackageStep
		if err := value.Decode(&pkg); err != nil {
			return err
		}
		s.LambdaPackage = &pkg
	}

	return nil
}
