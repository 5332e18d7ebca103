// Package event defines the flow engine's append-only event record and its
// closed set of tagged variants. Every persisted fact about a flow's
// progress is one of these variants; nothing else is ever written to the
// log.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"flowengine.evalgo.org/retry"
)

// Kind is the lowercase discriminant stored in event_type / the "kind"
// field of the JSON payload. The closed set below must match the database
// check constraint exactly.
type Kind string

const (
	KindFlowInitialized            Kind = "flowinitialized"
	KindStepStarted                Kind = "stepstarted"
	KindStepFinished               Kind = "stepfinished"
	KindStepFailed                 Kind = "stepfailed"
	KindStepSignal                 Kind = "stepsignal"
	KindRetryScheduled             Kind = "retryscheduled"
	KindBranchCreated              Kind = "branchcreated"
	KindUserInteractionRequested   Kind = "userinteractionrequested"
	KindUserInteractionProvided    Kind = "userinteractionprovided"
	KindPropertyPreferenceAssigned Kind = "propertypreferenceassigned"
	KindFlowCompleted              Kind = "flowcompleted"
)

// IsValidKind reports whether k belongs to the closed discriminant set.
func IsValidKind(k Kind) bool {
	switch k {
	case KindFlowInitialized, KindStepStarted, KindStepFinished, KindStepFailed,
		KindStepSignal, KindRetryScheduled, KindBranchCreated,
		KindUserInteractionRequested, KindUserInteractionProvided,
		KindPropertyPreferenceAssigned, KindFlowCompleted:
		return true
	default:
		return false
	}
}

// FlowEventKind is implemented by every tagged variant in the closed set.
// Discriminant returns the lowercase tag stored alongside the variant's
// fields in the payload.
type FlowEventKind interface {
	Discriminant() Kind
}

type FlowInitialized struct {
	DefinitionHash string `json:"definition_hash"`
	StepCount      int    `json:"step_count"`
}

func (FlowInitialized) Discriminant() Kind { return KindFlowInitialized }

type StepStarted struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
}

func (StepStarted) Discriminant() Kind { return KindStepStarted }

type StepFinished struct {
	StepIndex   int      `json:"step_index"`
	StepID      string   `json:"step_id"`
	Outputs     []string `json:"outputs"`
	Fingerprint string   `json:"fingerprint"`
}

func (StepFinished) Discriminant() Kind { return KindStepFinished }

type StepFailed struct {
	StepIndex   int              `json:"step_index"`
	StepID      string           `json:"step_id"`
	Error       retry.ErrorClass `json:"error"`
	Fingerprint string           `json:"fingerprint"`
}

func (StepFailed) Discriminant() Kind { return KindStepFailed }

type StepSignal struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
	Signal    string `json:"signal"`
	Data      any    `json:"data,omitempty"`
}

func (StepSignal) Discriminant() Kind { return KindStepSignal }

type RetryScheduled struct {
	StepID     string `json:"step_id"`
	RetryCount uint32 `json:"retry_count"`
}

func (RetryScheduled) Discriminant() Kind { return KindRetryScheduled }

type BranchCreated struct {
	BranchID             string  `json:"branch_id"`
	ParentFlowID         string  `json:"parent_flow_id"`
	RootFlowID           string  `json:"root_flow_id"`
	CreatedFromStepID    string  `json:"created_from_step_id"`
	DivergenceParamsHash *string `json:"divergence_params_hash,omitempty"`
}

func (BranchCreated) Discriminant() Kind { return KindBranchCreated }

type UserInteractionRequested struct {
	StepID        string `json:"step_id"`
	Schema        any    `json:"schema,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

func (UserInteractionRequested) Discriminant() Kind { return KindUserInteractionRequested }

type UserInteractionProvided struct {
	StepID       string `json:"step_id"`
	DecisionHash string `json:"decision_hash"`
}

func (UserInteractionProvided) Discriminant() Kind { return KindUserInteractionProvided }

type PropertyPreferenceAssigned struct {
	MoleculeKey   string `json:"molecule_key"`
	PropertyName  string `json:"property_name"`
	PropertyID    string `json:"property_id"`
	RationaleHash string `json:"rationale_hash"`
}

func (PropertyPreferenceAssigned) Discriminant() Kind { return KindPropertyPreferenceAssigned }

type FlowCompleted struct {
	FlowFingerprint string `json:"flow_fingerprint"`
}

func (FlowCompleted) Discriminant() Kind { return KindFlowCompleted }

// BranchRecord mirrors the durable workflow_branches row. Neither adapter
// builds or returns it: both record lineage straight from BranchCreated.
type BranchRecord struct {
	BranchID             string    `json:"branch_id"`
	RootFlowID           string    `json:"root_flow_id"`
	ParentFlowID         string    `json:"parent_flow_id"`
	CreatedFromStepID    string    `json:"created_from_step_id"`
	DivergenceParamsHash *string   `json:"divergence_params_hash,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// FlowEvent is a single totally-ordered record in a flow's append-only
// log. Ts is wall-clock and excluded from every fingerprint computation.
type FlowEvent struct {
	Seq    uint64
	FlowID string
	Ts     time.Time
	Kind   FlowEventKind
}

// MarshalKind serializes a variant to its storage payload shape:
// {"kind": "<discriminant>", ...fields}.
func MarshalKind(k FlowEventKind) ([]byte, error) {
	fields, err := json.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s fields: %w", k.Discriminant(), err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("event: re-decode %s fields: %w", k.Discriminant(), err)
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}

	tag, err := json.Marshal(string(k.Discriminant()))
	if err != nil {
		return nil, err
	}
	m["kind"] = tag

	return json.Marshal(m)
}

// UnmarshalKind parses a storage payload back into its concrete variant,
// dispatching on the "kind" discriminant field.
func UnmarshalKind(data []byte) (FlowEventKind, error) {
	var probe struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("event: probe kind: %w", err)
	}

	switch probe.Kind {
	case KindFlowInitialized:
		var v FlowInitialized
		return v, json.Unmarshal(data, &v)
	case KindStepStarted:
		var v StepStarted
		return v, json.Unmarshal(data, &v)
	case KindStepFinished:
		var v StepFinished
		return v, json.Unmarshal(data, &v)
	case KindStepFailed:
		var v StepFailed
		return v, json.Unmarshal(data, &v)
	case KindStepSignal:
		var v StepSignal
		return v, json.Unmarshal(data, &v)
	case KindRetryScheduled:
		var v RetryScheduled
		return v, json.Unmarshal(data, &v)
	case KindBranchCreated:
		var v BranchCreated
		return v, json.Unmarshal(data, &v)
	case KindUserInteractionRequested:
		var v UserInteractionRequested
		return v, json.Unmarshal(data, &v)
	case KindUserInteractionProvided:
		var v UserInteractionProvided
		return v, json.Unmarshal(data, &v)
	case KindPropertyPreferenceAssigned:
		var v PropertyPreferenceAssigned
		return v, json.Unmarshal(data, &v)
	case KindFlowCompleted:
		var v FlowCompleted
		return v, json.Unmarshal(data, &v)
	default:
		return nil, fmt.Errorf("event: unknown kind discriminant %q", probe.Kind)
	}
}
