// Package workerpool provides a bounded concurrent helper for advancing many
// independent flows: a fixed set of goroutines pull flow ids off a channel
// and call engine.Advance for each, while a Locker guarantees a single flow
// id is never advanced by two goroutines at once.
package workerpool

import (
	"context"
	"sync"

	"flowengine.evalgo.org/common"
	"flowengine.evalgo.org/engine"
)

// Unlock releases a lock acquired by Locker.TryLock.
type Unlock func(ctx context.Context) error

// Locker is the mutual-exclusion seam a Pool uses to guarantee a flow id is
// never advanced by two goroutines concurrently. lock.FlowLock serves
// durable deployments through a small adapter (cmd/flowengine's
// redisLocker), since its Unlock is a distinct named type; MemoryLocker
// satisfies it directly for in-process use with no external broker.
type Locker interface {
	TryLock(ctx context.Context, flowID string) (unlock Unlock, ok bool, err error)
}

// MemoryLocker is a Locker backed by a per-process set of in-flight flow
// ids, suitable when the engine runs against in-memory stores and there is
// no second process to coordinate with.
type MemoryLocker struct {
	inFlight sync.Map // flowID -> struct{}
}

// NewMemoryLocker builds a Locker scoped to this process.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

// TryLock marks flowID in-flight, refusing a second concurrent claim.
func (m *MemoryLocker) TryLock(_ context.Context, flowID string) (Unlock, bool, error) {
	if _, loaded := m.inFlight.LoadOrStore(flowID, struct{}{}); loaded {
		return nil, false, nil
	}
	unlock := func(context.Context) error {
		m.inFlight.Delete(flowID)
		return nil
	}
	return unlock, true, nil
}

// AdvanceFunc advances a single flow one step. Callers typically close over
// engine.Advance with a fixed Definition and set of AdvanceOptions.
type AdvanceFunc func(ctx context.Context, flowID string) error

// Pool runs a fixed number of goroutines, each pulling flow ids off a
// shared channel and advancing them one at a time under Locker protection.
type Pool struct {
	workers int
	locker  Locker
	advance AdvanceFunc
	logger  *common.ContextLogger
}

// New builds a Pool with the given worker count, lock, and advance
// function. workers is clamped to at least 1.
func New(workers int, locker Locker, advance AdvanceFunc, logger *common.ContextLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = common.NewContextLogger(nil, map[string]interface{}{"component": "workerpool"})
	}
	return &Pool{workers: workers, locker: locker, advance: advance, logger: logger}
}

// NewEngineAdvancePool is a convenience constructor wiring a Pool directly
// to an Engine's Advance method for a single flow Definition.
func NewEngineAdvancePool(workers int, locker Locker, eng *engine.Engine, def *engine.Definition, logger *common.ContextLogger, opts ...engine.AdvanceOption) *Pool {
	advance := func(ctx context.Context, flowID string) error {
		_, err := eng.Advance(ctx, flowID, def, opts...)
		return err
	}
	return New(workers, locker, advance, logger)
}

// Run consumes flow ids from flowIDs until the channel is closed or ctx is
// canceled, blocking until every spawned worker has returned. A flow id
// that is already locked by another goroutine (or process) is skipped
// rather than retried; the caller's scheduling loop owns re-submission.
func (p *Pool) Run(ctx context.Context, flowIDs <-chan string) {
	var wg sync.WaitGroup
	wg.Add(p.workers)

	for i := 0; i < p.workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID, flowIDs)
		}(i)
	}

	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int, flowIDs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case flowID, open := <-flowIDs:
			if !open {
				return
			}
			p.advanceOne(ctx, workerID, flowID)
		}
	}
}

func (p *Pool) advanceOne(ctx context.Context, workerID int, flowID string) {
	log := p.logger.WithFields(map[string]interface{}{"worker": workerID, "flow_id": flowID})

	unlock, ok, err := p.locker.TryLock(ctx, flowID)
	if err != nil {
		log.WithError(err).Error("workerpool: lock attempt failed")
		return
	}
	if !ok {
		log.Debug("workerpool: flow already in flight, skipping")
		return
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			log.WithError(err).Warn("workerpool: release lock failed")
		}
	}()

	if err := p.advance(ctx, flowID); err != nil {
		log.WithError(err).Debug("workerpool: advance returned an error")
	}
}
