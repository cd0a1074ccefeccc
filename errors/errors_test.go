package errors

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

func TestDescription_Format(t *testing.T) {
	err := NewStepExecutionError("fetch-users", fmt.Errorf("boom"))

	desc := err.Description("Error during step execution")
	if !strings.HasPrefix(desc, "Error during step execution (errorCode=\"STEP_EXECUTION_ERROR\", errorId=\"") {
		t.Errorf("unexpected description prefix: %s", desc)
	}
	if !strings.Contains(desc, `reason="step \"fetch-users\" failed: boom"`) {
		t.Errorf("description missing reason: %s", desc)
	}
	if !strings.Contains(desc, `stepId="fetch-users"`) {
		t.Errorf("description missing attrs: %s", desc)
	}
	if !strings.HasSuffix(desc, ")") {
		t.Errorf("description not closed: %s", desc)
	}
}

func TestErrorID_IsUUID(t *testing.T) {
	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

	err := NewCanonicalizationError("duplicate rawData name: default")
	if !uuidPattern.MatchString(err.ErrorID) {
		t.Errorf("expected UUID errorId, got %q", err.ErrorID)
	}

	other := NewCanonicalizationError("duplicate rawData name: default")
	if err.ErrorID == other.ErrorID {
		t.Error("expected a fresh errorId per error")
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode Code
	}{
		{"plain error", fmt.Errorf("something broke"), UnexpectedError},
		{"config error passes through", NewConfigValidationError("missing field"), ConfigValidationError},
		{"wrapped framework error", fmt.Errorf("outer: %w", NewCanonicalizationError("no key")), CanonicalizationError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			wrapped := Wrap(test.err)
			if wrapped.Code != test.expectedCode {
				t.Errorf("expected code %s, got %s", test.expectedCode, wrapped.Code)
			}
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestIsHandled(t *testing.T) {
	if IsHandled(fmt.Errorf("raw")) {
		t.Error("plain errors are not handled")
	}
	if !IsHandled(NewIntegrationValidationError(fmt.Errorf("bad config"))) {
		t.Error("framework errors are handled")
	}
	if IsHandled(nil) {
		t.Error("nil is not handled")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"config validation is fatal", NewConfigValidationError("x"), true},
		{"invalid start state is fatal", NewStepStartStateInvalidStepIDError([]string{"c"}), true},
		{"unaccounted start states is fatal", NewUnaccountedStepStartStatesError([]string{"b"}), true},
		{"step execution is not fatal", NewStepExecutionError("a", fmt.Errorf("x")), false},
		{"plain error is not fatal", fmt.Errorf("x"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if IsFatal(test.err) != test.expected {
				t.Errorf("IsFatal(%v) != %v", test.err, test.expected)
			}
		})
	}
}

func TestProviderErrors_CarryEndpointDetails(t *testing.T) {
	err := NewProviderAuthenticationError(fmt.Errorf("401"), "https://provider.example.com/users", 401, "Unauthorized")

	if err.Message != "Provider authentication failed at https://provider.example.com/users: 401 Unauthorized" {
		t.Errorf("unexpected message: %s", err.Message)
	}
	if err.Attrs["endpoint"] != "https://provider.example.com/users" {
		t.Errorf("missing endpoint attr: %v", err.Attrs)
	}

	authz := NewProviderAuthorizationError(fmt.Errorf("403"), "https://provider.example.com/admin", 403, "Forbidden")
	if !strings.Contains(authz.Message, "Provider authorization failed at") {
		t.Errorf("unexpected message: %s", authz.Message)
	}
}

func TestUnwrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewSynchronizationAPIError(cause, "/persister/synchronization/jobs")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if CodeOf(err) != SynchronizationAPIError {
		t.Errorf("unexpected code: %s", CodeOf(err))
	}
}
