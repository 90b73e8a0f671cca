package modelclient

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		retryable bool
	}{
		{400, "invalid_request", false},
		{401, "authentication", false},
		{403, "access_denied", false},
		{408, "request_timeout", true},
		{413, "context_length", false},
		{422, "invalid_request", false},
		{429, "rate_limit", true},
		{500, "server", true},
		{502, "server", true},
		{503, "server", true},
		{504, "server", true},
		{418, "provider", true}, // unknown status defaults to retryable
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "openrouter", nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retryable)
		}

		var matched bool
		switch tt.wantType {
		case "invalid_request":
			var e *InvalidRequestError
			matched = errors.As(err, &e)
		case "authentication":
			var e *AuthenticationError
			matched = errors.As(err, &e)
		case "access_denied":
			var e *AccessDeniedError
			matched = errors.As(err, &e)
		case "request_timeout":
			var e *RequestTimeoutError
			matched = errors.As(err, &e)
		case "context_length":
			var e *ContextLengthError
			matched = errors.As(err, &e)
		case "rate_limit":
			var e *RateLimitError
			matched = errors.As(err, &e)
		case "server":
			var e *ServerError
			matched = errors.As(err, &e)
		case "provider":
			var e *ProviderError
			matched = errors.As(err, &e)
		}
		if !matched {
			t.Errorf("status %d: error %T does not match expected class %s", tt.status, err, tt.wantType)
		}
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestIsRetryableUnknownError(t *testing.T) {
	if !IsRetryable(errors.New("mystery")) {
		t.Error("unknown errors default to retryable")
	}
}

func TestIsRetryableSeesThroughWrapping(t *testing.T) {
	auth := ErrorFromStatusCode(401, "bad key", "test", nil)
	if IsRetryable(fmt.Errorf("routing: %w", auth)) {
		t.Error("wrapped authentication error classified retryable")
	}
	server := ErrorFromStatusCode(503, "down", "test", nil)
	if !IsRetryable(fmt.Errorf("routing: %w", server)) {
		t.Error("wrapped server error classified non-retryable")
	}
}

func TestIsRetryableAbort(t *testing.T) {
	err := &AbortError{ClientError: ClientError{Message: "cancelled"}}
	if IsRetryable(err) {
		t.Error("abort must not be retryable")
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ClientError{Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
	if err.Error() != "wrapper: root cause" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
