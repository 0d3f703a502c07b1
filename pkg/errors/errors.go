package errors

import (
	"fmt"
)

// ParseError represents a task file parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures malformed or missing task parameters. It is always
// raised before any provider call is made.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents a runtime failure while converging a step,
// including any failure reported by the AWS APIs. The provider diagnostic is
// preserved through Unwrap.
type ExecutionError struct {
	StepID string
	Err    error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(stepID string, err error) error {
	return &ExecutionError{StepID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("execution error on step %s: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PluginError indicates issues within reconciler registration or lookup.
type PluginError struct {
	Plugin  string
	Message string
	Err     error
}

// NewPluginError constructs a PluginError for the given step type.
func NewPluginError(plugin string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &PluginError{Plugin: plugin, Message: message, Err: err}
}

func (e *PluginError) Error() string {
	if e == nil {
		return ""
	}
	if e.Plugin != "" {
		return fmt.Sprintf("plugin error [%s]: %s", e.Plugin, e.Message)
	}
	return fmt.Sprintf("plugin error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *PluginError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
