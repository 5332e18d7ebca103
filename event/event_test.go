package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine.evalgo.org/retry"
)

func TestMarshalUnmarshalKind_RoundTrip(t *testing.T) {
	hash := "deadbeef"

	variants := []FlowEventKind{
		FlowInitialized{DefinitionHash: "h1", StepCount: 2},
		StepStarted{StepIndex: 0, StepID: "seed"},
		StepFinished{StepIndex: 0, StepID: "seed", Outputs: []string{"h0"}, Fingerprint: "fp0"},
		StepFailed{StepIndex: 1, StepID: "upper", Error: retry.Runtime, Fingerprint: "fp1"},
		StepSignal{StepIndex: 0, StepID: "seed", Signal: "progress", Data: map[string]any{"pct": float64(50)}},
		RetryScheduled{StepID: "upper", RetryCount: 1},
		BranchCreated{BranchID: "b1", ParentFlowID: "p1", RootFlowID: "p1", CreatedFromStepID: "seed", DivergenceParamsHash: &hash},
		UserInteractionRequested{StepID: "gate", Schema: map[string]any{"type": "object"}, CorrelationID: "c1"},
		UserInteractionProvided{StepID: "gate", DecisionHash: "d1"},
		PropertyPreferenceAssigned{MoleculeKey: "m1", PropertyName: "logp", PropertyID: "p1", RationaleHash: "r1"},
		FlowCompleted{FlowFingerprint: "ff1"},
	}

	for _, v := range variants {
		t.Run(string(v.Discriminant()), func(t *testing.T) {
			data, err := MarshalKind(v)
			require.NoError(t, err)

			parsed, err := UnmarshalKind(data)
			require.NoError(t, err)
			assert.Equal(t, v, parsed)
		})
	}
}

func TestMarshalKind_IncludesDiscriminant(t *testing.T) {
	data, err := MarshalKind(StepStarted{StepIndex: 0, StepID: "seed"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"stepstarted"`)
}

func TestUnmarshalKind_UnknownDiscriminant(t *testing.T) {
	_, err := UnmarshalKind([]byte(`{"kind":"nonsense"}`))
	assert.Error(t, err)
}

func TestIsValidKind(t *testing.T) {
	assert.True(t, IsValidKind(KindFlowCompleted))
	assert.False(t, IsValidKind(Kind("bogus")))
}
