package eventstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine.evalgo.org/event"
)

// runStoreContract exercises the behavioral properties every Store
// implementation must satisfy, so the in-memory and durable backends are
// asserted against the same contract rather than duplicating test logic.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	ev1, err := store.Append(ctx, "flow-1", event.FlowInitialized{DefinitionHash: "h1", StepCount: 1})
	require.NoError(t, err)
	assert.NotZero(t, ev1.Seq)

	ev2, err := store.Append(ctx, "flow-1", event.StepStarted{StepIndex: 0, StepID: "seed"})
	require.NoError(t, err)
	assert.Greater(t, ev2.Seq, ev1.Seq)

	listed, err := store.List(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, ev1.Seq, listed[0].Seq)
	assert.Equal(t, ev2.Seq, listed[1].Seq)

	_, err = store.Append(ctx, "flow-2", event.FlowInitialized{DefinitionHash: "h2", StepCount: 1})
	require.NoError(t, err)

	onlyFlow1, err := store.List(ctx, "flow-1")
	require.NoError(t, err)
	assert.Len(t, onlyFlow1, 2)

	empty, err := store.List(ctx, "never-appended")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_SatisfiesContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestPostgresStore_SatisfiesContract(t *testing.T) {
	dsn := os.Getenv("FLOWENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FLOWENGINE_TEST_DATABASE_URL not set; skipping durable event store contract test")
	}

	store, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}
