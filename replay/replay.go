// Package replay implements the flow engine's pure reducer: folding an
// ordered event sequence and a flow definition into a FlowInstance. This
// function is state-free by design — storage backends delegate to it
// rather than duplicating its logic, guaranteeing replay parity between
// the in-memory and durable adapters.
package replay

import (
	"fmt"
	"time"

	"flowengine.evalgo.org/canonhash"
	"flowengine.evalgo.org/event"
)

// Status is a step slot's runtime state.
type Status string

const (
	Pending           Status = "pending"
	Running           Status = "running"
	FinishedOk        Status = "finished_ok"
	Failed            Status = "failed"
	AwaitingUserInput Status = "awaiting_user_input"
)

// validTransitions is the explicit table consulted before every slot
// transition, the way this codebase expresses other phase machines: a
// map from the current status to the statuses it may legally move to.
var validTransitions = map[Status][]Status{
	Pending:           {Running},
	Running:           {FinishedOk, Failed, AwaitingUserInput},
	Failed:            {Pending},
	AwaitingUserInput: {Running},
	FinishedOk:        {},
}

func canTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StepSlot is the runtime projection of one step's progress within a flow.
type StepSlot struct {
	StepID      string
	Status      Status
	Fingerprint string
	Outputs     []string
	Attempts    uint32
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// FlowInstance is the replay projection of a flow: a pure function of its
// event sequence and definition.
type FlowInstance struct {
	ID        string
	Steps     []StepSlot
	Cursor    int
	Completed bool
}

// FlowDefinition is the ordered list of step ids a flow executes.
// Invariant: step ids are unique within a definition.
type FlowDefinition struct {
	StepIDs []string
}

// Validate checks the uniqueness invariant.
func (d FlowDefinition) Validate() error {
	seen := make(map[string]bool, len(d.StepIDs))
	for _, id := range d.StepIDs {
		if seen[id] {
			return fmt.Errorf("replay: duplicate step id %q in definition", id)
		}
		seen[id] = true
	}
	return nil
}

// DefinitionHash is content_hash(canonical_json(ordered step ids)).
func (d FlowDefinition) DefinitionHash() (string, error) {
	return canonhash.HashValue(d.StepIDs)
}

// ErrReplayMismatch is returned when a FlowInitialized event disagrees
// with the definition passed to Load.
type ErrReplayMismatch struct {
	Reason string
}

func (e *ErrReplayMismatch) Error() string {
	return fmt.Sprintf("replay: mismatch: %s", e.Reason)
}

// Load folds events (already in ascending seq order) against definition
// into a FlowInstance. Replay is idempotent and referentially transparent:
// identical inputs always produce identical instances.
func Load(flowID string, events []event.FlowEvent, definition FlowDefinition) (FlowInstance, error) {
	if err := definition.Validate(); err != nil {
		return FlowInstance{}, err
	}

	instance := FlowInstance{
		ID:    flowID,
		Steps: make([]StepSlot, len(definition.StepIDs)),
	}
	for i, id := range definition.StepIDs {
		instance.Steps[i] = StepSlot{StepID: id, Status: Pending}
	}

	indexOf := make(map[string]int, len(definition.StepIDs))
	for i, id := range definition.StepIDs {
		indexOf[id] = i
	}

	for _, ev := range events {
		if err := fold(&instance, indexOf, ev, definition); err != nil {
			return FlowInstance{}, err
		}
	}

	return instance, nil
}

func fold(instance *FlowInstance, indexOf map[string]int, ev event.FlowEvent, definition FlowDefinition) error {
	switch kind := ev.Kind.(type) {
	case event.FlowInitialized:
		wantHash, err := definition.DefinitionHash()
		if err != nil {
			return err
		}
		if kind.DefinitionHash != wantHash {
			return &ErrReplayMismatch{Reason: "definition_hash does not match FlowInitialized"}
		}
		if kind.StepCount != len(definition.StepIDs) {
			return &ErrReplayMismatch{Reason: "step_count does not match FlowInitialized"}
		}

	case event.StepStarted:
		idx, ok := indexOf[kind.StepID]
		if !ok {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("StepStarted for unknown step %q", kind.StepID)}
		}
		slot := &instance.Steps[idx]
		if !canTransition(slot.Status, Running) {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("invalid transition %s -> running for step %q", slot.Status, kind.StepID)}
		}
		slot.Status = Running
		ts := ev.Ts
		slot.StartedAt = &ts

	case event.StepFinished:
		idx, ok := indexOf[kind.StepID]
		if !ok {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("StepFinished for unknown step %q", kind.StepID)}
		}
		slot := &instance.Steps[idx]
		if !canTransition(slot.Status, FinishedOk) {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("invalid transition %s -> finished_ok for step %q", slot.Status, kind.StepID)}
		}
		slot.Status = FinishedOk
		slot.Outputs = kind.Outputs
		slot.Fingerprint = kind.Fingerprint
		ts := ev.Ts
		slot.FinishedAt = &ts
		if idx == instance.Cursor {
			instance.Cursor++
		}

	case event.StepFailed:
		idx, ok := indexOf[kind.StepID]
		if !ok {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("StepFailed for unknown step %q", kind.StepID)}
		}
		slot := &instance.Steps[idx]
		if !canTransition(slot.Status, Failed) {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("invalid transition %s -> failed for step %q", slot.Status, kind.StepID)}
		}
		slot.Status = Failed
		slot.Fingerprint = kind.Fingerprint

	case event.StepSignal:
		// Observational only; no state change.

	case event.RetryScheduled:
		idx, ok := indexOf[kind.StepID]
		if !ok {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("RetryScheduled for unknown step %q", kind.StepID)}
		}
		slot := &instance.Steps[idx]
		if slot.Status == Failed {
			if !canTransition(slot.Status, Pending) {
				return &ErrReplayMismatch{Reason: fmt.Sprintf("invalid transition %s -> pending for step %q", slot.Status, kind.StepID)}
			}
			slot.Status = Pending
			slot.Attempts++
		}

	case event.UserInteractionRequested:
		idx, ok := indexOf[kind.StepID]
		if !ok {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("UserInteractionRequested for unknown step %q", kind.StepID)}
		}
		slot := &instance.Steps[idx]
		if !canTransition(slot.Status, AwaitingUserInput) {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("invalid transition %s -> awaiting_user_input for step %q", slot.Status, kind.StepID)}
		}
		slot.Status = AwaitingUserInput

	case event.UserInteractionProvided:
		idx, ok := indexOf[kind.StepID]
		if !ok {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("UserInteractionProvided for unknown step %q", kind.StepID)}
		}
		slot := &instance.Steps[idx]
		if !canTransition(slot.Status, Running) {
			return &ErrReplayMismatch{Reason: fmt.Sprintf("invalid transition %s -> running for step %q", slot.Status, kind.StepID)}
		}
		slot.Status = Running

	case event.BranchCreated:
		// Observational in the parent's own replay.

	case event.FlowCompleted:
		instance.Completed = true
	}

	return nil
}
