package engine

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"flowengine.evalgo.org/artifact"
	"flowengine.evalgo.org/canonhash"
	"flowengine.evalgo.org/common"
	"flowengine.evalgo.org/event"
	"flowengine.evalgo.org/params"
	"flowengine.evalgo.org/replay"
	"flowengine.evalgo.org/retry"
	"flowengine.evalgo.org/step"
)

// HumanGated is optionally implemented by a Step to pause a flow for
// external input before the step runs. When a gated step's slot is Pending,
// Advance appends UserInteractionRequested instead of invoking Run; the
// caller resumes with ResumeUserInput once a decision is available.
type HumanGated interface {
	HumanGateSchema() any
}

// Engine is the orchestrator: it owns no flow state between calls.
// Every operation reconstructs the flow instance from the event log via
// replay.Load before acting, so any number of Engine values (or processes)
// may serve the same flow id. Advance does not guard against concurrent
// calls for one flow id: the caller must serialize them (see the lock
// package for a distributed advisory lock).
type Engine struct {
	adapter Adapter
	logger  *common.ContextLogger
}

// NewWithStores builds an Engine over adapter. A nil logger gets a
// discard-output logger so callers that don't care about ambient logging
// don't have to construct one.
func NewWithStores(adapter Adapter, logger *common.ContextLogger) *Engine {
	if logger == nil {
		noop := logrus.New()
		noop.SetOutput(io.Discard)
		logger = common.NewContextLogger(noop, nil)
	}
	return &Engine{adapter: adapter, logger: logger}
}

type advanceOptions struct {
	injectors []params.Injector
	overrides params.Bag
	humanGate params.Bag
}

// AdvanceOption configures a single Advance call's parameter pipeline.
type AdvanceOption func(*advanceOptions)

// WithInjectors supplies the ordered context-derived parameter layers for
// this advance call.
func WithInjectors(injectors ...params.Injector) AdvanceOption {
	return func(o *advanceOptions) { o.injectors = injectors }
}

// WithOverrides supplies the caller-override parameter layer.
func WithOverrides(overrides params.Bag) AdvanceOption {
	return func(o *advanceOptions) { o.overrides = overrides }
}

// WithHumanGate supplies the decision payload a resumed human-gated step
// should merge in last. Engine itself never persists this payload; callers
// re-supply it on the Advance call that follows ResumeUserInput.
func WithHumanGate(payload params.Bag) AdvanceOption {
	return func(o *advanceOptions) { o.humanGate = payload }
}

// Advance drives a flow's cursor step exactly one step forward: it loads
// the flow instance, validates it is eligible to proceed, merges
// parameters, computes the step fingerprint, invokes the step (unless it
// pauses on a human gate), and appends the resulting events.
func (e *Engine) Advance(ctx context.Context, flowID string, def *Definition, opts ...AdvanceOption) (event.FlowEvent, error) {
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := e.logger.WithFields(map[string]interface{}{"flow_id": flowID})

	events, err := e.adapter.List(ctx, flowID)
	if err != nil {
		return event.FlowEvent{}, e.wrapAdapterErr(err)
	}

	defHash, err := def.DefinitionHash()
	if err != nil {
		return event.FlowEvent{}, wrapError(KindInternal, "compute definition hash", err)
	}

	if len(events) == 0 {
		first := def.steps[0]
		if first.Kind() != step.Source {
			return event.FlowEvent{}, newError(KindFirstStepMustBeSource, "first step must be a source step")
		}
		initEv, err := e.adapter.Append(ctx, flowID, event.FlowInitialized{
			DefinitionHash: defHash,
			StepCount:      len(def.steps),
		})
		if err != nil {
			return event.FlowEvent{}, e.wrapAdapterErr(err)
		}
		events = append(events, initEv)
		log.Info("flow initialized")
	}

	instance, err := replay.Load(flowID, events, def.replayDefinition())
	if err != nil {
		return event.FlowEvent{}, wrapError(KindReplayMismatch, "replay flow", err)
	}

	if instance.Completed {
		return event.FlowEvent{}, newError(KindFlowCompleted, "flow already completed")
	}
	for _, slot := range instance.Steps {
		if slot.Status == replay.Failed {
			return event.FlowEvent{}, newError(KindFlowHasFailed, "flow has an unretried failed step")
		}
	}
	if instance.Cursor >= len(instance.Steps) {
		return event.FlowEvent{}, newError(KindStepAlreadyTerminal, "cursor past last step")
	}

	cursor := instance.Cursor
	slot := instance.Steps[cursor]
	currentStep := def.steps[cursor]

	if slot.Status == replay.AwaitingUserInput {
		return event.FlowEvent{}, newError(KindAwaitingUserInput, "step is awaiting user input")
	}
	if slot.Status != replay.Pending && slot.Status != replay.Running {
		return event.FlowEvent{}, newError(KindStepAlreadyTerminal, "step slot is not eligible to advance")
	}

	var input *artifact.Artifact
	var inputHashes []string
	if cursor > 0 {
		prev := instance.Steps[cursor-1]
		if len(prev.Outputs) == 0 {
			return event.FlowEvent{}, newError(KindMissingInputs, "predecessor step has no recorded output")
		}
		hash := prev.Outputs[0]
		art, ok, err := e.adapter.GetArtifact(ctx, hash)
		if err != nil {
			return event.FlowEvent{}, e.wrapAdapterErr(err)
		}
		if !ok {
			return event.FlowEvent{}, newError(KindMissingInputs, "predecessor output artifact not resolvable")
		}
		input = &art
		inputHashes = []string{hash}
	} else if currentStep.Kind() != step.Source {
		return event.FlowEvent{}, newError(KindMissingInputs, "first step has no input and is not a source step")
	}

	merged, err := params.Merge(ctx, currentStep.ParamsDefault(), o.injectors, o.overrides, o.humanGate)
	if err != nil {
		return event.FlowEvent{}, wrapError(KindInternal, "merge parameters", err)
	}

	fingerprint, err := ComputeStepFingerprint(currentStep.ID(), inputHashes, merged, defHash)
	if err != nil {
		return event.FlowEvent{}, wrapError(KindInternal, "compute step fingerprint", err)
	}

	if slot.Status == replay.Pending {
		if _, err := e.adapter.Append(ctx, flowID, event.StepStarted{StepIndex: cursor, StepID: currentStep.ID()}); err != nil {
			return event.FlowEvent{}, e.wrapAdapterErr(err)
		}

		if gate, ok := currentStep.(HumanGated); ok {
			reqEv, err := e.adapter.Append(ctx, flowID, event.UserInteractionRequested{
				StepID:        currentStep.ID(),
				Schema:        gate.HumanGateSchema(),
				CorrelationID: uuid.NewString(),
			})
			if err != nil {
				return event.FlowEvent{}, e.wrapAdapterErr(err)
			}
			log.WithField("step_id", currentStep.ID()).Info("step paused on human gate")
			return reqEv, newError(KindAwaitingUserInput, "step is awaiting user input")
		}
	}

	result := currentStep.Run(ctx, step.RunContext{Input: input, Params: merged})

	switch result.Outcome {
	case step.Success, step.SuccessWithSignals:
		outputHashes := make([]string, 0, len(result.Outputs))
		for _, out := range result.Outputs {
			if err := out.Verify(); err != nil {
				return event.FlowEvent{}, wrapError(KindInternal, "verify step output artifact", err)
			}
			outputHashes = append(outputHashes, out.Hash)
		}

		for _, sig := range result.Signals {
			if _, err := e.adapter.Append(ctx, flowID, event.StepSignal{
				StepIndex: cursor,
				StepID:    currentStep.ID(),
				Signal:    sig.Name,
				Data:      sig.Data,
			}); err != nil {
				return event.FlowEvent{}, e.wrapAdapterErr(err)
			}
		}

		finishedEv, err := e.adapter.Append(ctx, flowID, event.StepFinished{
			StepIndex:   cursor,
			StepID:      currentStep.ID(),
			Outputs:     outputHashes,
			Fingerprint: fingerprint,
		}, WithArtifacts(result.Outputs))
		if err != nil {
			return event.FlowEvent{}, e.wrapAdapterErr(err)
		}
		log.WithField("step_id", currentStep.ID()).Info("step finished")

		if cursor == len(instance.Steps)-1 {
			fingerprints := collectFinishedFingerprints(instance, fingerprint)
			flowFP, err := ComputeFlowFingerprint(fingerprints)
			if err != nil {
				return finishedEv, wrapError(KindInternal, "compute flow fingerprint", err)
			}
			if _, err := e.adapter.Append(ctx, flowID, event.FlowCompleted{FlowFingerprint: flowFP}); err != nil {
				return finishedEv, e.wrapAdapterErr(err)
			}
			log.Info("flow completed")
		}
		return finishedEv, nil

	case step.Failure:
		class := retry.Classify(result.Err)
		attempt := int(slot.Attempts) + 1
		failedEv, err := e.adapter.Append(ctx, flowID, event.StepFailed{
			StepIndex:   cursor,
			StepID:      currentStep.ID(),
			Error:       class,
			Fingerprint: fingerprint,
		}, WithAttemptNumber(attempt))
		if err != nil {
			return event.FlowEvent{}, e.wrapAdapterErr(err)
		}
		log.WithFields(map[string]interface{}{"step_id": currentStep.ID(), "error_class": class}).Warn("step failed")
		return failedEv, nil

	default:
		return event.FlowEvent{}, newError(KindInternal, "step returned an unrecognized outcome")
	}
}

// ScheduleRetry appends RetryScheduled for a Failed step slot, resetting it
// to Pending so a subsequent Advance re-attempts it. It refuses when the
// step isn't Failed or the policy's retry budget / error class disallows
// another attempt.
func (e *Engine) ScheduleRetry(ctx context.Context, flowID string, def *Definition, stepID string, policy retry.RetryPolicy) (event.FlowEvent, error) {
	events, err := e.adapter.List(ctx, flowID)
	if err != nil {
		return event.FlowEvent{}, e.wrapAdapterErr(err)
	}
	instance, err := replay.Load(flowID, events, def.replayDefinition())
	if err != nil {
		return event.FlowEvent{}, wrapError(KindReplayMismatch, "replay flow", err)
	}

	idx, ok := def.IndexOf(stepID)
	if !ok {
		return event.FlowEvent{}, wrapError(KindInternal, "unknown step id", nil)
	}
	slot := instance.Steps[idx]
	if slot.Status != replay.Failed {
		return event.FlowEvent{}, newError(KindRetryNotEligible, "step is not in a failed state")
	}

	class := lastFailureClass(events, stepID)
	if !policy.ShouldRetry(slot.Attempts, class) {
		return event.FlowEvent{}, newError(KindRetryNotEligible, "retry budget exhausted or error class is not retryable")
	}

	ev, err := e.adapter.Append(ctx, flowID, event.RetryScheduled{StepID: stepID, RetryCount: slot.Attempts + 1})
	if err != nil {
		return event.FlowEvent{}, e.wrapAdapterErr(err)
	}
	e.logger.WithFields(map[string]interface{}{"flow_id": flowID, "step_id": stepID}).Info("retry scheduled")
	return ev, nil
}

// Branch copies the event-kind prefix up to and including fromStepID's
// StepFinished into a fresh flow id with fresh sequence numbers, then
// appends BranchCreated to the parent flow recording the new lineage.
func (e *Engine) Branch(ctx context.Context, parentFlowID string, def *Definition, fromStepID string, divergenceParamsHash *string) (string, error) {
	events, err := e.adapter.List(ctx, parentFlowID)
	if err != nil {
		return "", e.wrapAdapterErr(err)
	}
	instance, err := replay.Load(parentFlowID, events, def.replayDefinition())
	if err != nil {
		return "", wrapError(KindReplayMismatch, "replay flow", err)
	}

	idx, ok := def.IndexOf(fromStepID)
	if !ok || instance.Steps[idx].Status != replay.FinishedOk {
		return "", newError(KindInvalidBranchSource, "branch source step has not finished")
	}

	cutoff := -1
	for i, ev := range events {
		if sf, ok := ev.Kind.(event.StepFinished); ok && sf.StepID == fromStepID {
			cutoff = i
		}
	}
	if cutoff == -1 {
		return "", newError(KindInvalidBranchSource, "no StepFinished recorded for branch source step")
	}

	rootFlowID := parentFlowID
	if lookup, ok := e.adapter.(BranchLookup); ok {
		if root, found, err := lookup.RootFlowID(ctx, parentFlowID); err == nil && found {
			rootFlowID = root
		}
	}

	branchID := uuid.NewString()
	for _, ev := range events[:cutoff+1] {
		if _, err := e.adapter.Append(ctx, branchID, ev.Kind); err != nil {
			return "", e.wrapAdapterErr(err)
		}
	}

	branchEv := event.BranchCreated{
		BranchID:             branchID,
		ParentFlowID:         parentFlowID,
		RootFlowID:           rootFlowID,
		CreatedFromStepID:    fromStepID,
		DivergenceParamsHash: divergenceParamsHash,
	}
	if _, err := e.adapter.Append(ctx, parentFlowID, branchEv); err != nil {
		return "", e.wrapAdapterErr(err)
	}
	e.logger.WithFields(map[string]interface{}{"parent_flow_id": parentFlowID, "branch_id": branchID}).Info("branch created")
	return branchID, nil
}

// ResumeUserInput appends UserInteractionProvided, recording the
// canonicalized decision's hash for audit and transitioning the gated slot
// back to Running. The decision payload itself is not persisted by the
// engine; the caller must re-supply it via WithHumanGate on the Advance
// call that follows.
func (e *Engine) ResumeUserInput(ctx context.Context, flowID string, def *Definition, stepID string, providedParams params.Bag) (event.FlowEvent, error) {
	events, err := e.adapter.List(ctx, flowID)
	if err != nil {
		return event.FlowEvent{}, e.wrapAdapterErr(err)
	}
	instance, err := replay.Load(flowID, events, def.replayDefinition())
	if err != nil {
		return event.FlowEvent{}, wrapError(KindReplayMismatch, "replay flow", err)
	}

	idx, ok := def.IndexOf(stepID)
	if !ok {
		return event.FlowEvent{}, wrapError(KindInternal, "unknown step id", nil)
	}
	if instance.Steps[idx].Status != replay.AwaitingUserInput {
		return event.FlowEvent{}, newError(KindStepAlreadyTerminal, "step is not awaiting user input")
	}

	hash, err := hashDecision(providedParams)
	if err != nil {
		return event.FlowEvent{}, wrapError(KindInternal, "hash decision payload", err)
	}

	ev, err := e.adapter.Append(ctx, flowID, event.UserInteractionProvided{StepID: stepID, DecisionHash: hash})
	if err != nil {
		return event.FlowEvent{}, e.wrapAdapterErr(err)
	}
	e.logger.WithFields(map[string]interface{}{"flow_id": flowID, "step_id": stepID}).Info("user input provided")
	return ev, nil
}

// AssignPropertyPreference records a human or policy decision to prefer one
// computed property value for a molecule over others, hashing the rationale
// the same way ResumeUserInput hashes a decision payload rather than
// persisting it verbatim. The engine treats the molecule/property identifiers
// and the rationale as opaque strings and JSON; it has no chemistry-domain
// knowledge of what they mean.
func (e *Engine) AssignPropertyPreference(ctx context.Context, flowID, moleculeKey, propertyName, propertyID string, rationale any) (event.FlowEvent, error) {
	hash, err := canonhash.HashValue(rationale)
	if err != nil {
		return event.FlowEvent{}, wrapError(KindInternal, "hash rationale", err)
	}

	ev, err := e.adapter.Append(ctx, flowID, event.PropertyPreferenceAssigned{
		MoleculeKey:   moleculeKey,
		PropertyName:  propertyName,
		PropertyID:    propertyID,
		RationaleHash: hash,
	})
	if err != nil {
		return event.FlowEvent{}, e.wrapAdapterErr(err)
	}
	e.logger.WithFields(map[string]interface{}{
		"flow_id":      flowID,
		"molecule_key": moleculeKey,
		"property_id":  propertyID,
	}).Info("property preference assigned")
	return ev, nil
}

// EventsFor returns flowID's full event log in sequence order.
func (e *Engine) EventsFor(ctx context.Context, flowID string) ([]event.FlowEvent, error) {
	events, err := e.adapter.List(ctx, flowID)
	if err != nil {
		return nil, e.wrapAdapterErr(err)
	}
	return events, nil
}

// LastStepFingerprint returns the fingerprint recorded on the most recent
// StepFinished or StepFailed event for stepID.
func (e *Engine) LastStepFingerprint(ctx context.Context, flowID, stepID string) (string, error) {
	events, err := e.adapter.List(ctx, flowID)
	if err != nil {
		return "", e.wrapAdapterErr(err)
	}
	var fp string
	found := false
	for _, ev := range events {
		switch k := ev.Kind.(type) {
		case event.StepFinished:
			if k.StepID == stepID {
				fp, found = k.Fingerprint, true
			}
		case event.StepFailed:
			if k.StepID == stepID {
				fp, found = k.Fingerprint, true
			}
		}
	}
	if !found {
		return "", newError(KindInternal, "no fingerprint recorded for step "+stepID)
	}
	return fp, nil
}

// FlowFingerprint returns the aggregate fingerprint recorded on
// FlowCompleted, if the flow has finished.
func (e *Engine) FlowFingerprint(ctx context.Context, flowID string) (string, bool, error) {
	events, err := e.adapter.List(ctx, flowID)
	if err != nil {
		return "", false, e.wrapAdapterErr(err)
	}
	for _, ev := range events {
		if fc, ok := ev.Kind.(event.FlowCompleted); ok {
			return fc.FlowFingerprint, true, nil
		}
	}
	return "", false, nil
}

func (e *Engine) wrapAdapterErr(err error) error {
	if ee, ok := err.(*Error); ok {
		return ee
	}
	return wrapError(KindInternal, "adapter operation failed", err)
}

func collectFinishedFingerprints(instance replay.FlowInstance, newFingerprint string) []string {
	fingerprints := make([]string, 0, len(instance.Steps)+1)
	for _, slot := range instance.Steps {
		if slot.Status == replay.FinishedOk {
			fingerprints = append(fingerprints, slot.Fingerprint)
		}
	}
	fingerprints = append(fingerprints, newFingerprint)
	return fingerprints
}

func lastFailureClass(events []event.FlowEvent, stepID string) retry.ErrorClass {
	class := retry.Runtime
	for _, ev := range events {
		if sf, ok := ev.Kind.(event.StepFailed); ok && sf.StepID == stepID {
			class = sf.Error
		}
	}
	return class
}

func hashDecision(bag params.Bag) (string, error) {
	return canonhash.HashValue(params.ExcludeRuntimeDerived(bag))
}
