// Package errors provides standardized error handling for the integration
// framework. It defines the framework's error codes, a single wrapped error
// type carrying a correlation id, and helper constructors for the error
// kinds raised by configuration validation, step execution, entity
// canonicalization, and synchronization.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Code is the machine-readable classification of a framework error.
type Code string

const (
	// ConfigValidationError indicates missing or wrong-typed instance
	// configuration fields.
	ConfigValidationError Code = "CONFIG_VALIDATION_ERROR"

	// StepStartStateInvalidStepID indicates a start-state entry referencing
	// a step id that is not declared by the integration.
	StepStartStateInvalidStepID Code = "STEP_START_STATE_INVALID_STEP_ID"

	// UnaccountedStepStartStates indicates declared steps with no
	// corresponding start-state entry.
	UnaccountedStepStartStates Code = "UNACCOUNTED_STEP_START_STATES"

	// ProviderAuthenticationError indicates the provider rejected the
	// configured credentials.
	ProviderAuthenticationError Code = "PROVIDER_AUTHENTICATION_ERROR"

	// ProviderAuthorizationError indicates the configured credentials lack
	// permission for a provider endpoint.
	ProviderAuthorizationError Code = "PROVIDER_AUTHORIZATION_ERROR"

	// IntegrationValidationError indicates the invocation validation hook
	// rejected the invocation.
	IntegrationValidationError Code = "INTEGRATION_VALIDATION_ERROR"

	// StepExecutionError wraps an uncaught error from a step handler.
	StepExecutionError Code = "STEP_EXECUTION_ERROR"

	// CanonicalizationError indicates entity canonicalization failed, for
	// example a duplicate raw data name or a missing key.
	CanonicalizationError Code = "ENTITY_CANONICALIZATION_ERROR"

	// SynchronizationAPIError indicates a persistent failure talking to the
	// remote synchronization service.
	SynchronizationAPIError Code = "SYNCHRONIZATION_API_ERROR"

	// UnexpectedError classifies any error that carries no framework code.
	UnexpectedError Code = "UNEXPECTED_ERROR"
)

// unexpectedErrorReason is the reason reported for errors that carry no
// message of their own.
const unexpectedErrorReason = "Unexpected error occurred"

// IntegrationError is the framework's error type. Every user-visible
// failure is an IntegrationError; the ErrorID correlates local log lines
// with remote events.
type IntegrationError struct {
	Code    Code
	ErrorID string
	Message string
	Cause   error
	Fatal   bool

	// Attrs carries extra key/value pairs appended to the rendered
	// description, for example endpoint and status for provider errors.
	Attrs map[string]string
}

// Error implements the error interface.
func (e *IntegrationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return unexpectedErrorReason
}

// Unwrap returns the wrapped cause.
func (e *IntegrationError) Unwrap() error {
	return e.Cause
}

// Description renders the error in the framework's event description
// shape: <prefix> (errorCode="...", errorId="...", reason="..."[, k="v"]*).
// Attrs are appended in sorted key order so output is deterministic.
func (e *IntegrationError) Description(prefix string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(fmt.Sprintf(" (errorCode=%q, errorId=%q, reason=%q", string(e.Code), e.ErrorID, e.Error()))

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf(", %s=%q", k, e.Attrs[k]))
	}
	sb.WriteString(")")
	return sb.String()
}

// newError creates an IntegrationError with a fresh correlation id.
// This is an internal helper - use the typed constructors instead.
func newError(code Code, message string, cause error) *IntegrationError {
	return &IntegrationError{
		Code:    code,
		ErrorID: uuid.NewString(),
		Message: message,
		Cause:   cause,
	}
}

// NewConfigValidationError creates a fatal configuration validation error.
func NewConfigValidationError(message string) *IntegrationError {
	err := newError(ConfigValidationError, message, nil)
	err.Fatal = true
	return err
}

// NewStepStartStateInvalidStepIDError reports start-state entries naming
// undeclared step ids.
func NewStepStartStateInvalidStepIDError(stepIDs []string) *IntegrationError {
	err := newError(StepStartStateInvalidStepID,
		fmt.Sprintf("start states found for steps that are not declared: %s", strings.Join(stepIDs, ", ")), nil)
	err.Fatal = true
	return err
}

// NewUnaccountedStepStartStatesError reports declared steps missing a
// start-state entry.
func NewUnaccountedStepStartStatesError(stepIDs []string) *IntegrationError {
	err := newError(UnaccountedStepStartStates,
		fmt.Sprintf("start states not found for declared steps: %s", strings.Join(stepIDs, ", ")), nil)
	err.Fatal = true
	return err
}

// NewProviderAuthenticationError reports a provider rejecting credentials
// at an endpoint.
func NewProviderAuthenticationError(cause error, endpoint string, status int, statusText string) *IntegrationError {
	err := newError(ProviderAuthenticationError,
		fmt.Sprintf("Provider authentication failed at %s: %d %s", endpoint, status, statusText), cause)
	err.Attrs = map[string]string{
		"endpoint":   endpoint,
		"status":     fmt.Sprintf("%d", status),
		"statusText": statusText,
	}
	return err
}

// NewProviderAuthorizationError reports credentials lacking permission for
// an endpoint.
func NewProviderAuthorizationError(cause error, endpoint string, status int, statusText string) *IntegrationError {
	err := newError(ProviderAuthorizationError,
		fmt.Sprintf("Provider authorization failed at %s: %d %s", endpoint, status, statusText), cause)
	err.Attrs = map[string]string{
		"endpoint":   endpoint,
		"status":     fmt.Sprintf("%d", status),
		"statusText": statusText,
	}
	return err
}

// NewIntegrationValidationError wraps an error raised by the invocation
// validation hook.
func NewIntegrationValidationError(cause error) *IntegrationError {
	return newError(IntegrationValidationError, cause.Error(), cause)
}

// NewStepExecutionError wraps an uncaught handler error for a step.
func NewStepExecutionError(stepID string, cause error) *IntegrationError {
	err := newError(StepExecutionError,
		fmt.Sprintf("step %q failed: %s", stepID, cause.Error()), cause)
	err.Attrs = map[string]string{"stepId": stepID}
	return err
}

// NewCanonicalizationError reports a failure assembling a canonical graph
// object from raw provider data.
func NewCanonicalizationError(message string) *IntegrationError {
	return newError(CanonicalizationError, message, nil)
}

// NewSynchronizationAPIError reports persistent failure of a remote
// synchronization call.
func NewSynchronizationAPIError(cause error, endpoint string) *IntegrationError {
	err := newError(SynchronizationAPIError,
		fmt.Sprintf("synchronization API call to %s failed: %s", endpoint, cause.Error()), cause)
	err.Attrs = map[string]string{"endpoint": endpoint}
	return err
}

// Wrap classifies err as an IntegrationError. Errors that already carry a
// code pass through unchanged; anything else becomes an UnexpectedError
// with a fresh correlation id.
func Wrap(err error) *IntegrationError {
	if err == nil {
		return nil
	}
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie
	}
	wrapped := newError(UnexpectedError, "", err)
	if err.Error() == "" {
		wrapped.Message = unexpectedErrorReason
	}
	return wrapped
}

// IsHandled reports whether err is a classified framework error. Unhandled
// errors cause the orchestrator to abort the synchronization job.
func IsHandled(err error) bool {
	if err == nil {
		return false
	}
	var ie *IntegrationError
	return errors.As(err, &ie)
}

// CodeOf returns the framework code for err, or UnexpectedError when it
// carries none.
func CodeOf(err error) Code {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return UnexpectedError
}

// IsFatal reports whether err should stop the invocation before any step
// is scheduled.
func IsFatal(err error) bool {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Fatal
	}
	return false
}
