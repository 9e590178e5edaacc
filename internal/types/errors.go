package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across packages. Handlers map these to the
// behaviors of the error taxonomy: transient failures retry with
// backoff, data errors surface to the operator, invariant violations
// fail the item without retry.
var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a requested worklist edge is
	// not in the adjacency set and no valid reset applies.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleState is returned when an operator submission references
	// state that another operator has already changed.
	ErrStaleState = errors.New("stale state, re-read and re-submit")

	// ErrBusy is returned when a dispatch queue is full. Operator calls
	// surface it as "busy, try again"; the sync job backs off.
	ErrBusy = errors.New("queue full, try again")

	// ErrCostCapExceeded aborts a model call whose projected or incurred
	// spend crosses the per-article ceiling.
	ErrCostCapExceeded = errors.New("ai cost cap exceeded")

	// ErrGenerationFailed marks model output that violates the expected
	// schema. Never retried.
	ErrGenerationFailed = errors.New("generation failed: model output violates schema")

	// ErrInvalidUpstream marks unusable source data (empty body, broken
	// HTML). Never retried; the message tells the operator what to fix.
	ErrInvalidUpstream = errors.New("invalid upstream data")

	// ErrInvariant marks an internal consistency failure. The item moves
	// to failed and the structured log carries a correlation id.
	ErrInvariant = errors.New("invariant violation")

	// ErrCredentialMissing is returned when the vault has no value for a
	// required key or the target system rejects it.
	ErrCredentialMissing = errors.New("credential missing or unauthorized")

	// ErrCancelled is returned by jobs that observed a cancellation
	// request at a suspension point and unwound cleanly.
	ErrCancelled = errors.New("cancelled by operator")

	// ErrTimeout is returned when a stage exceeds its wall-clock budget.
	ErrTimeout = errors.New("operation timed out")
)

// VaultUnavailableError reports a backend failure with no cached value
// to fall back on.
type VaultUnavailableError struct {
	Backend string
	Err     error
}

func (e *VaultUnavailableError) Error() string {
	return fmt.Sprintf("vault backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *VaultUnavailableError) Unwrap() error { return e.Err }

// DecisionConflictError reports overlapping accepted/modified ranges
// during a merge. The later-starting decision is skipped; the operator
// resolves manually.
type DecisionConflictError struct {
	IssueID       int64
	ConflictsWith int64
}

func (e *DecisionConflictError) Error() string {
	return fmt.Sprintf("decision on issue %d overlaps decision on issue %d", e.IssueID, e.ConflictsWith)
}

// RuleRuntimeError records a rule whose evaluation panicked or failed.
// The rule is skipped and analysis continues.
type RuleRuntimeError struct {
	RuleID int64
	Code   string
	Err    error
}

func (e *RuleRuntimeError) Error() string {
	return fmt.Sprintf("rule %s (id %d) failed at runtime: %v", e.Code, e.RuleID, e.Err)
}

func (e *RuleRuntimeError) Unwrap() error { return e.Err }

// ErrorKind buckets errors by recovery behavior.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"    // retry with backoff
	KindInvalidData ErrorKind = "invalid_data" // surface to operator, no retry
	KindInvariant   ErrorKind = "invariant"    // fail item, no retry
	KindCostCap     ErrorKind = "cost_cap"     // abort, operator may raise cap
	KindOperator    ErrorKind = "operator"     // reject at API boundary
	KindCredential  ErrorKind = "credential"   // fail until operator fixes secrets
	KindConflict    ErrorKind = "conflict"     // stale state, re-read
	KindCancelled   ErrorKind = "cancelled"
	KindTimeout     ErrorKind = "timeout"
	KindUnknown     ErrorKind = "unknown"
)

// transientHints bucket unknown downstream errors. Messages that smell
// like network or rate-limit trouble retry; everything else does not.
var transientHints = []string{
	"timeout",
	"context deadline",
	"rate limit",
	"too many requests",
	"temporar",
	"connection",
	"unavailable",
	"network",
	"i/o",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// Classify buckets an error into its recovery behavior.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCostCapExceeded):
		return KindCostCap
	case errors.Is(err, ErrStaleState):
		return KindConflict
	case errors.Is(err, ErrCredentialMissing):
		return KindCredential
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	case errors.Is(err, ErrInvalidUpstream), errors.Is(err, ErrGenerationFailed):
		return KindInvalidData
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrBusy):
		return KindOperator
	}

	var vault *VaultUnavailableError
	if errors.As(err, &vault) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			return KindTransient
		}
	}
	return KindUnknown
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
