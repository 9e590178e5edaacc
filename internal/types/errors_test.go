package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifySentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{ErrCostCapExceeded, KindCostCap},
		{ErrStaleState, KindConflict},
		{ErrCredentialMissing, KindCredential},
		{ErrInvariant, KindInvariant},
		{ErrInvalidUpstream, KindInvalidData},
		{ErrGenerationFailed, KindInvalidData},
		{ErrInvalidTransition, KindOperator},
		{ErrBusy, KindOperator},
		{ErrCancelled, KindCancelled},
		{ErrTimeout, KindTimeout},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClassifyWrapped(t *testing.T) {
	wrapped := fmt.Errorf("optimizing article 12: %w", ErrCostCapExceeded)
	if got := Classify(wrapped); got != KindCostCap {
		t.Errorf("wrapped sentinel lost its kind: got %s", got)
	}
}

func TestClassifyTransientHeuristics(t *testing.T) {
	transient := []error{
		errors.New("dial tcp: connection refused"),
		errors.New("request failed: 429 Too Many Requests"),
		errors.New("upstream returned 503 Service Unavailable"),
		errors.New("context deadline exceeded while waiting"),
		errors.New("temporary DNS failure"),
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("expected transient: %v", err)
		}
	}

	if IsTransient(errors.New("title_main is empty")) {
		t.Error("schema-style error must not classify as transient")
	}
	if IsTransient(ErrGenerationFailed) {
		t.Error("generation failures never retry")
	}
}

func TestVaultUnavailableIsTransient(t *testing.T) {
	err := fmt.Errorf("reading cms_password: %w", &VaultUnavailableError{
		Backend: "cloud_secret_manager",
		Err:     errors.New("rpc unreachable"),
	})
	if !IsTransient(err) {
		t.Error("vault unavailability should retry")
	}
}

func TestRuleRuntimeErrorUnwraps(t *testing.T) {
	inner := errors.New("regexp stack exhausted")
	err := &RuleRuntimeError{RuleID: 9, Code: "C4", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("RuleRuntimeError should unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("empty error string")
	}
}
