package persistence

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine.evalgo.org/artifact"
	"flowengine.evalgo.org/engine"
	"flowengine.evalgo.org/event"
	"flowengine.evalgo.org/eventstore"
)

// TestPostgresAdapter_SatisfiesEngineAdapterContract appends events straight
// through the durable adapter (no engine run) and checks the Adapter and
// BranchLookup contract: seq ordering and List, the StepFinished artifact
// side-insert (readable and verifiable via GetArtifact, and idempotent on
// re-insert), the StepFailed error-row append, and the BranchCreated lineage
// row resolved by RootFlowID. Skipped unless a test database is
// configured, matching the eventstore package's own durable contract test.
func TestPostgresAdapter_SatisfiesEngineAdapterContract(t *testing.T) {
	dsn := os.Getenv("FLOWENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FLOWENGINE_TEST_DATABASE_URL not set; skipping durable persistence adapter test")
	}

	ctx := context.Background()
	store, err := eventstore.NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	adapter, err := NewPostgresAdapter(ctx, store)
	require.NoError(t, err)

	flowID := "persistence-test-flow"

	initEv, err := adapter.Append(ctx, flowID, event.FlowInitialized{DefinitionHash: "defhash", StepCount: 1})
	require.NoError(t, err)
	assert.NotZero(t, initEv.Seq)

	art, err := artifact.New("text", map[string]any{"text": "HOLA"}, map[string]any{"note": "s5"})
	require.NoError(t, err)

	finishedEv, err := adapter.Append(ctx, flowID, event.StepFinished{
		StepIndex:   0,
		StepID:      "seed",
		Outputs:     []string{art.Hash},
		Fingerprint: "fp1",
	}, engine.WithArtifacts([]artifact.Artifact{art}))
	require.NoError(t, err)
	assert.Greater(t, finishedEv.Seq, initEv.Seq)

	listed, err := adapter.List(ctx, flowID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	stored, ok, err := adapter.GetArtifact(ctx, art.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, art.Kind, stored.Kind)
	require.NoError(t, stored.Verify())

	_, err = adapter.Append(ctx, flowID, event.StepSignal{
		StepIndex: 0,
		StepID:    "seed",
		Signal:    "reinsert",
	}, engine.WithArtifacts([]artifact.Artifact{art}))
	require.NoError(t, err)

	_, ok, err = adapter.GetArtifact(ctx, art.Hash)
	require.NoError(t, err)
	assert.True(t, ok, "artifact insertion must be idempotent on hash")

	failedEv, err := adapter.Append(ctx, flowID, event.StepFailed{
		StepIndex:   0,
		StepID:      "seed",
		Error:       "runtime",
		Fingerprint: "fp1",
	}, engine.WithAttemptNumber(1))
	require.NoError(t, err)
	assert.Greater(t, failedEv.Seq, finishedEv.Seq)

	branchEv, err := adapter.Append(ctx, flowID, event.BranchCreated{
		BranchID:          "branch-1",
		ParentFlowID:      flowID,
		RootFlowID:        flowID,
		CreatedFromStepID: "seed",
	})
	require.NoError(t, err)
	assert.Greater(t, branchEv.Seq, failedEv.Seq)

	root, found, err := adapter.RootFlowID(ctx, "branch-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, flowID, root)
}
