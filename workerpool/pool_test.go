package workerpool

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine.evalgo.org/artifact"
	"flowengine.evalgo.org/engine"
	"flowengine.evalgo.org/event"
	"flowengine.evalgo.org/params"
	"flowengine.evalgo.org/retry"
	"flowengine.evalgo.org/step"
)

type fakeStep struct {
	id   string
	kind step.Kind
	run  func(ctx context.Context, rc step.RunContext) step.RunResult
}

func (s fakeStep) ID() string                { return s.id }
func (s fakeStep) Kind() step.Kind           { return s.kind }
func (s fakeStep) RequiredInputKind() string { return "" }
func (s fakeStep) ParamsDefault() params.Bag { return params.Bag{} }
func (s fakeStep) Run(ctx context.Context, rc step.RunContext) step.RunResult {
	return s.run(ctx, rc)
}

func seedStep() fakeStep {
	return fakeStep{
		id:   "seed",
		kind: step.Source,
		run: func(ctx context.Context, rc step.RunContext) step.RunResult {
			a, err := artifact.New("text", map[string]any{"text": "hola"}, nil)
			if err != nil {
				return step.RunResult{Outcome: step.Failure, Err: retry.NewStepError(retry.Runtime, err.Error(), nil)}
			}
			return step.RunResult{Outcome: step.Success, Outputs: []artifact.Artifact{a}}
		},
	}
}

func upperStep() fakeStep {
	return fakeStep{
		id:   "upper",
		kind: step.Transform,
		run: func(ctx context.Context, rc step.RunContext) step.RunResult {
			payload := rc.Input.Payload.(map[string]any)
			text := payload["text"].(string)
			a, err := artifact.New("text", map[string]any{"text": strings.ToUpper(text)}, nil)
			if err != nil {
				return step.RunResult{Outcome: step.Failure, Err: retry.NewStepError(retry.Runtime, err.Error(), nil)}
			}
			return step.RunResult{Outcome: step.Success, Outputs: []artifact.Artifact{a}}
		},
	}
}

func buildDef(t *testing.T) *engine.Definition {
	t.Helper()
	def, err := engine.NewBuilder().FirstStep(seedStep()).AddStep(upperStep()).Build()
	require.NoError(t, err)
	return def
}

func TestPool_AdvancesEachFlowToCompletion(t *testing.T) {
	def := buildDef(t)
	adapter := engine.NewMemoryAdapter()
	eng := engine.NewWithStores(adapter, nil)

	locker := NewMemoryLocker()
	pool := NewEngineAdvancePool(3, locker, eng, def, nil)

	flowIDs := []string{"flow-1", "flow-2", "flow-3", "flow-4", "flow-5"}

	ch := make(chan string, len(flowIDs)*len(flowIDs))
	for range flowIDs {
		for _, id := range flowIDs {
			ch <- id
		}
	}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Run(ctx, ch)

	for _, id := range flowIDs {
		events, err := eng.EventsFor(ctx, id)
		require.NoError(t, err)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, event.KindFlowCompleted, last.Kind.Discriminant(), "flow %s should have completed", id)
	}
}

func TestMemoryLocker_SecondTryLockIsRefusedUntilUnlocked(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "flow-x")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := locker.TryLock(ctx, "flow-x")
	require.NoError(t, err)
	assert.False(t, ok2)

	require.NoError(t, unlock(ctx))

	_, ok3, err := locker.TryLock(ctx, "flow-x")
	require.NoError(t, err)
	assert.True(t, ok3)
}

// TestPool_NeverAdvancesSameFlowConcurrently hammers one flow id from many
// goroutines via a locker that records overlapping holders, asserting the
// pool's lock discipline ensures mutual exclusion per flow id.
func TestPool_NeverAdvancesSameFlowConcurrently(t *testing.T) {
	tracker := &trackingLocker{inner: NewMemoryLocker()}

	adapter := engine.NewMemoryAdapter()
	eng := engine.NewWithStores(adapter, nil)
	def := buildDef(t)

	advanceCount := int32(0)
	advance := func(ctx context.Context, flowID string) error {
		atomic.AddInt32(&advanceCount, 1)
		_, err := eng.Advance(ctx, flowID, def)
		return err
	}

	pool := New(8, tracker, advance, nil)

	ch := make(chan string, 50)
	for i := 0; i < 50; i++ {
		ch <- "shared-flow"
	}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Run(ctx, ch)

	assert.False(t, tracker.sawOverlap.Load(), "no two goroutines should have held the lock for the same flow id concurrently")
	assert.Greater(t, advanceCount, int32(0))
}

type trackingLocker struct {
	inner      Locker
	mu         sync.Mutex
	held       map[string]bool
	sawOverlap atomic.Bool
}

func (t *trackingLocker) TryLock(ctx context.Context, flowID string) (Unlock, bool, error) {
	unlock, ok, err := t.inner.TryLock(ctx, flowID)
	if err != nil || !ok {
		return unlock, ok, err
	}

	t.mu.Lock()
	if t.held == nil {
		t.held = make(map[string]bool)
	}
	if t.held[flowID] {
		t.sawOverlap.Store(true)
	}
	t.held[flowID] = true
	t.mu.Unlock()

	wrapped := func(ctx context.Context) error {
		t.mu.Lock()
		t.held[flowID] = false
		t.mu.Unlock()
		return unlock(ctx)
	}
	return wrapped, true, nil
}
