package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := Wrap(CodeUnavailable, cause, "")

	if CodeOf(err) != CodeUnavailable {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if err.Message() != "no data source available" {
		t.Fatalf("default message not applied: %q", err.Message())
	}
	if !stdErrors.Is(fmt.Errorf("outer: %w", err), New(CodeUnavailable, "other")) {
		t.Fatalf("errors.Is should compare codes")
	}
}

func TestFatalCodes(t *testing.T) {
	cases := map[Code]bool{
		CodeRateLimited:     true,
		CodeUnauthenticated: true,
		CodeTimeout:         false,
		CodeUnknownTool:     false,
		CodeProviderFailure: false,
	}
	for code, want := range cases {
		if got := IsFatal(New(code, "")); got != want {
			t.Errorf("IsFatal(%s) = %v, want %v", code, got, want)
		}
	}
	if IsFatal(nil) {
		t.Fatalf("nil must not be fatal")
	}
}

func TestCodeOfDeadline(t *testing.T) {
	if CodeOf(fmt.Errorf("call: %w", context.DeadlineExceeded)) != CodeTimeout {
		t.Fatalf("deadline should map to TIMEOUT")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should be UNKNOWN")
	}
}

func TestRetryableOverride(t *testing.T) {
	err := New(CodeTimeout, "slow", WithRetryable(false), WithMetadata("tier", "secondary_api"))
	if RetryableError(err) {
		t.Fatalf("override should disable retry")
	}
	if err.Metadata()["tier"] != "secondary_api" {
		t.Fatalf("metadata missing: %+v", err.Metadata())
	}
}
