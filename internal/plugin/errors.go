package plugin

// PluginError is the interface shared by structured plugin failures. The
// executor uses StepID to attribute a failure to the step that produced it.
type PluginError interface {
	error
	StepID() string
	Unwrap() error
}

// ValidationError represents malformed step configuration: a missing required
// parameter, a wrong type, or an invalid combination. Reconcilers raise it
// before making any provider call.
type ValidationError struct {
	ID  string
	Err error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(stepID string, err error) *ValidationError {
	return &ValidationError{ID: stepID, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation error in step " + e.ID
	}
	return "validation error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *ValidationError) StepID() string { return e.ID }

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutionError represents a provider failure while evaluating or applying a
// step: auth, throttling, a missing dependency, or any other API error. The
// provider diagnostic stays reachable through Unwrap.
type ExecutionError struct {
	ID  string
	Err error
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(stepID string, err error) *ExecutionError {
	return &ExecutionError{ID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "execution error in step " + e.ID
	}
	return "execution error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *ExecutionError) StepID() string { return e.ID }

// Unwrap exposes the underlying error.
func (e *ExecutionError) Unwrap() error { return e.Err }

var (
	_ PluginError = (*ValidationError)(nil)
	_ PluginError = (*ExecutionError)(nil)
)
