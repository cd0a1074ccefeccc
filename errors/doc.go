// Package errors provides standardized error handling for the integration
// framework.
//
// # Overview
//
// Every user-visible failure in the framework is an IntegrationError: a
// wrapped error carrying a machine-readable Code, a fresh ErrorID (UUID)
// for correlating local log lines with remote events, and optional extra
// attributes rendered into the event description.
//
// # Error Codes
//
// Codes map one-to-one to the failure kinds the framework can raise:
//
//   - CONFIG_VALIDATION_ERROR: missing or wrong-typed instance config fields
//   - STEP_START_STATE_INVALID_STEP_ID / UNACCOUNTED_STEP_START_STATES:
//     start-states that do not exactly cover the declared steps
//   - PROVIDER_AUTHENTICATION_ERROR / PROVIDER_AUTHORIZATION_ERROR:
//     provider credential failures, carrying endpoint and status
//   - INTEGRATION_VALIDATION_ERROR: the invocation validation hook rejected
//     the invocation
//   - STEP_EXECUTION_ERROR: an uncaught step handler error
//   - ENTITY_CANONICALIZATION_ERROR: raw data could not be assembled into a
//     canonical graph object
//   - SYNCHRONIZATION_API_ERROR: a remote synchronization call failed
//     persistently
//   - UNEXPECTED_ERROR: anything that carries no framework code
//
// # Quick Start
//
// Construct typed errors with the New* helpers:
//
//	if _, ok := declared[stepID]; !ok {
//	    return errors.NewStepStartStateInvalidStepIDError([]string{stepID})
//	}
//
// Classify foreign errors at the boundary:
//
//	ie := errors.Wrap(err) // passes IntegrationErrors through unchanged
//	logger.Error("step failed", "errorCode", ie.Code, "errorId", ie.ErrorID)
//
// Render an event description:
//
//	desc := ie.Description("Error during step execution")
//	// Error during step execution (errorCode="STEP_EXECUTION_ERROR",
//	// errorId="...", reason="...", stepId="fetch-users")
//
// All types support errors.Is, errors.As, and Unwrap chains.
package errors
