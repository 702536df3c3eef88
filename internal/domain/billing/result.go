package billing

import "github.com/google/uuid"

// Result is the tagged outcome of reconciling one event.
// Skipped maps to an acknowledged delivery, Failed to a retried one.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error

	UserID          uuid.UUID
	PaymentRecorded bool
	UsageReset      bool
}

// Ok returns an applied result.
func Ok(reason string) Result {
	return Result{Outcome: OutcomeApplied, Reason: reason}
}

// Skip returns a no-op result with a diagnostic reason.
func Skip(reason string) Result {
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

// Fail returns a failed result wrapping err.
func Fail(err error) Result {
	return Result{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// Failed is a shorthand for Outcome == OutcomeFailed.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFailed
}
