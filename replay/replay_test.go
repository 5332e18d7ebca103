package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine.evalgo.org/event"
)

func def(t *testing.T, ids ...string) FlowDefinition {
	t.Helper()
	return FlowDefinition{StepIDs: ids}
}

func initEvent(t *testing.T, d FlowDefinition) event.FlowEvent {
	t.Helper()
	hash, err := d.DefinitionHash()
	require.NoError(t, err)
	return event.FlowEvent{
		Seq: 1, FlowID: "f1", Ts: time.Now(),
		Kind: event.FlowInitialized{DefinitionHash: hash, StepCount: len(d.StepIDs)},
	}
}

func TestLoad_TwoStepHappyPath(t *testing.T) {
	d := def(t, "seed", "upper")
	events := []event.FlowEvent{
		initEvent(t, d),
		{Seq: 2, Kind: event.StepStarted{StepIndex: 0, StepID: "seed"}},
		{Seq: 3, Kind: event.StepFinished{StepIndex: 0, StepID: "seed", Outputs: []string{"h0"}, Fingerprint: "fp0"}},
		{Seq: 4, Kind: event.StepStarted{StepIndex: 1, StepID: "upper"}},
		{Seq: 5, Kind: event.StepFinished{StepIndex: 1, StepID: "upper", Outputs: []string{"h1"}, Fingerprint: "fp1"}},
		{Seq: 6, Kind: event.FlowCompleted{FlowFingerprint: "ff"}},
	}

	instance, err := Load("f1", events, d)
	require.NoError(t, err)

	assert.True(t, instance.Completed)
	assert.Equal(t, 2, instance.Cursor)
	assert.Equal(t, FinishedOk, instance.Steps[0].Status)
	assert.Equal(t, FinishedOk, instance.Steps[1].Status)
	assert.Equal(t, "fp0", instance.Steps[0].Fingerprint)
}

func TestLoad_StopOnFailure(t *testing.T) {
	d := def(t, "seed", "transform")
	events := []event.FlowEvent{
		initEvent(t, d),
		{Seq: 2, Kind: event.StepStarted{StepIndex: 0, StepID: "seed"}},
		{Seq: 3, Kind: event.StepFinished{StepIndex: 0, StepID: "seed", Outputs: []string{"h0"}, Fingerprint: "fp0"}},
		{Seq: 4, Kind: event.StepStarted{StepIndex: 1, StepID: "transform"}},
		{Seq: 5, Kind: event.StepFailed{StepIndex: 1, StepID: "transform", Fingerprint: "fp1"}},
	}

	instance, err := Load("f1", events, d)
	require.NoError(t, err)
	assert.Equal(t, Failed, instance.Steps[1].Status)
	assert.False(t, instance.Completed)
	assert.Equal(t, 1, instance.Cursor)
}

func TestLoad_RetryResetsFailedToPending(t *testing.T) {
	d := def(t, "seed", "transform")
	events := []event.FlowEvent{
		initEvent(t, d),
		{Seq: 2, Kind: event.StepStarted{StepIndex: 0, StepID: "seed"}},
		{Seq: 3, Kind: event.StepFinished{StepIndex: 0, StepID: "seed", Outputs: []string{"h0"}, Fingerprint: "fp0"}},
		{Seq: 4, Kind: event.StepStarted{StepIndex: 1, StepID: "transform"}},
		{Seq: 5, Kind: event.StepFailed{StepIndex: 1, StepID: "transform", Fingerprint: "fp1"}},
		{Seq: 6, Kind: event.RetryScheduled{StepID: "transform", RetryCount: 1}},
	}

	instance, err := Load("f1", events, d)
	require.NoError(t, err)
	assert.Equal(t, Pending, instance.Steps[1].Status)
	assert.Equal(t, uint32(1), instance.Steps[1].Attempts)
}

func TestLoad_UserInteractionCycle(t *testing.T) {
	d := def(t, "gate")
	events := []event.FlowEvent{
		initEvent(t, d),
		{Seq: 2, Kind: event.StepStarted{StepIndex: 0, StepID: "gate"}},
		{Seq: 3, Kind: event.UserInteractionRequested{StepID: "gate", CorrelationID: "c1"}},
	}
	instance, err := Load("f1", events, d)
	require.NoError(t, err)
	assert.Equal(t, AwaitingUserInput, instance.Steps[0].Status)

	events = append(events, event.FlowEvent{Seq: 4, Kind: event.UserInteractionProvided{StepID: "gate", DecisionHash: "d1"}})
	instance, err = Load("f1", events, d)
	require.NoError(t, err)
	assert.Equal(t, Running, instance.Steps[0].Status)
}

func TestLoad_SignalsAreObservationalOnly(t *testing.T) {
	d := def(t, "seed")
	events := []event.FlowEvent{
		initEvent(t, d),
		{Seq: 2, Kind: event.StepStarted{StepIndex: 0, StepID: "seed"}},
		{Seq: 3, Kind: event.StepSignal{StepIndex: 0, StepID: "seed", Signal: "progress"}},
	}
	instance, err := Load("f1", events, d)
	require.NoError(t, err)
	assert.Equal(t, Running, instance.Steps[0].Status)
}

func TestLoad_DefinitionHashMismatch(t *testing.T) {
	d := def(t, "seed")
	events := []event.FlowEvent{
		{Seq: 1, Kind: event.FlowInitialized{DefinitionHash: "wrong", StepCount: 1}},
	}
	_, err := Load("f1", events, d)
	assert.Error(t, err)
}

func TestLoad_IsIdempotent(t *testing.T) {
	d := def(t, "seed", "upper")
	events := []event.FlowEvent{
		initEvent(t, d),
		{Seq: 2, Kind: event.StepStarted{StepIndex: 0, StepID: "seed"}},
		{Seq: 3, Kind: event.StepFinished{StepIndex: 0, StepID: "seed", Outputs: []string{"h0"}, Fingerprint: "fp0"}},
	}
	first, err := Load("f1", events, d)
	require.NoError(t, err)
	second, err := Load("f1", events, d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFlowDefinition_RejectsDuplicateStepIDs(t *testing.T) {
	d := def(t, "seed", "seed")
	assert.Error(t, d.Validate())
}
