// Package engine implements the orchestrator described in this codebase's
// event-sourced pipeline model: advancing a flow's cursor one step at a
// time, injecting parameters, computing fingerprints, invoking steps, and
// emitting the resulting events through an Adapter. The engine owns no flow
// state between calls; everything it needs is reconstructed from the event
// log via the replay package on every operation.
package engine

import "fmt"

// ErrorKind is the engine-level error taxonomy surfaced to callers. It is
// distinct from retry.ErrorClass, which classifies step-level run failures.
type ErrorKind string

const (
	// KindFlowCompleted is returned when Advance is called on a flow that
	// has already emitted FlowCompleted.
	KindFlowCompleted ErrorKind = "flow_completed"
	// KindFlowHasFailed is returned when the flow has an unretried
	// StepFailed slot (stop-on-failure, INV-STOP).
	KindFlowHasFailed ErrorKind = "flow_has_failed"
	// KindStepAlreadyTerminal is returned when the cursor step is not in a
	// state Advance can act on.
	KindStepAlreadyTerminal ErrorKind = "step_already_terminal"
	// KindMissingInputs is returned when a non-Source step has no resolvable
	// predecessor output.
	KindMissingInputs ErrorKind = "missing_inputs"
	// KindFirstStepMustBeSource is returned when a definition's first step
	// is not a Source step (INV-FIRST-SRC).
	KindFirstStepMustBeSource ErrorKind = "first_step_must_be_source"
	// KindInvalidBranchSource is returned when branching from a step whose
	// slot is not FinishedOk.
	KindInvalidBranchSource ErrorKind = "invalid_branch_source"
	// KindReplayMismatch is returned when FlowInitialized disagrees with
	// the supplied definition.
	KindReplayMismatch ErrorKind = "replay_mismatch"
	// KindAwaitingUserInput is returned (not really an error, but reported
	// through the same channel) when Advance pauses a step on a human
	// gate; the caller should invoke ResumeUserInput once a decision is
	// available.
	KindAwaitingUserInput ErrorKind = "awaiting_user_input"
	// KindRetryNotEligible is returned when ScheduleRetry is called on a
	// step that either isn't Failed or has exhausted its retry budget.
	KindRetryNotEligible ErrorKind = "retry_not_eligible"
	// KindInternal covers unexpected engine-level failures, including
	// adapter errors that aren't otherwise classified.
	KindInternal ErrorKind = "internal"
)

// Error is the typed error every engine operation returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("engine: %s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("engine: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
