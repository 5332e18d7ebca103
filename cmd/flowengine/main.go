// Command flowengine runs the orchestration engine as a long-lived worker
// process: it wires the durable Postgres-backed event log and side tables,
// the Redis-backed per-flow advisory lock, and an optional AMQP signal bus
// publisher, then drives a bounded pool of goroutines advancing whatever
// flow ids arrive on its work channel until told to stop.
//
// Configuration is environment-driven (see config.EnvConfig); this binary
// is the only place in the module that reads the environment — the engine
// package itself stays a pure library.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"flowengine.evalgo.org/common"
	"flowengine.evalgo.org/config"
	"flowengine.evalgo.org/engine"
	"flowengine.evalgo.org/event"
	"flowengine.evalgo.org/eventstore"
	"flowengine.evalgo.org/lock"
	"flowengine.evalgo.org/persistence"
	"flowengine.evalgo.org/signalbus"
	"flowengine.evalgo.org/step"
	"flowengine.evalgo.org/workerpool"
)

// stepRegistry resolves the step ids FLOWENGINE_FLOW_STEP_IDS names into
// runnable steps. Concrete step implementations (the chemistry domain's
// property calculators, fetchers, and the like) are outside this module's
// scope, so nothing is registered here by default — a production build of
// this binary registers its own steps before calling buildDefinition, e.g.
// by vendoring this file with additional stepRegistry.Register calls.
var stepRegistry = step.NewRegistry()

// buildDefinition assembles the single Definition this process advances
// flows against, from an ordered list of step ids configured via
// FLOWENGINE_FLOW_STEP_IDS. Every flow id handed to this process is
// expected to have been initialized against that same definition.
func buildDefinition(env *config.EnvConfig) (*engine.Definition, error) {
	ids := env.GetStringSlice("FLOW_STEP_IDS", nil)
	if len(ids) == 0 {
		return nil, fmt.Errorf("flowengine: FLOWENGINE_FLOW_STEP_IDS is empty; register and list the steps this deployment runs")
	}

	builder := engine.NewBuilder()
	for i, id := range ids {
		s, ok := stepRegistry.ByID(id)
		if !ok {
			return nil, fmt.Errorf("flowengine: no step registered for id %q", id)
		}
		if i == 0 {
			builder.FirstStep(s)
		} else {
			builder.AddStep(s)
		}
	}
	return builder.Build()
}

func main() {
	env := config.NewEnvConfig("FLOWENGINE")
	logger := common.ServiceLogger("flowengine", env.GetString("VERSION", "dev"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL := env.MustGetString("DATABASE_URL")
	logger.WithField("database_url", common.MaskSecret(dbURL)).Info("flowengine: connecting to event store")
	store, err := eventstore.NewPostgresStore(ctx, dbURL)
	if err != nil {
		log.Fatalf("flowengine: connect event store: %v", err)
	}
	defer store.Close()

	adapter, err := persistence.NewPostgresAdapter(ctx, store)
	if err != nil {
		log.Fatalf("flowengine: migrate durable adapter: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: env.GetString("REDIS_ADDR", "localhost:6379")})
	defer redisClient.Close()
	flowLock := lock.New(redisClient, env.GetDuration("LOCK_TTL", 30*time.Second))

	eng := engine.NewWithStores(adapter, logger)

	def, err := buildDefinition(env)
	if err != nil {
		log.Fatalf("flowengine: %v", err)
	}

	var publisher *signalbus.Publisher
	if amqpURL := env.GetString("AMQP_URL", ""); amqpURL != "" {
		publisher, err = signalbus.NewPublisher(&signalbus.RealAMQPDialer{}, amqpURL, env.GetString("AMQP_EXCHANGE", "flowengine.signals"), logger)
		if err != nil {
			logger.WithError(err).Warn("flowengine: signal bus unavailable, continuing without it")
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	workers := env.GetInt("WORKERS", 4)
	flowIDs := make(chan string, workers*4)

	pool := workerpool.New(workers, &redisLocker{flowLock}, func(ctx context.Context, flowID string) error {
		ev, err := eng.Advance(ctx, flowID, def)
		if publisher != nil {
			mirrorSignal(ctx, publisher, flowID, ev)
		}
		return err
	}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx, flowIDs)
	}()

	logger.WithField("workers", workers).Info("flowengine: started")
	<-ctx.Done()
	close(flowIDs)
	<-done
	logger.Info("flowengine: stopped")
	os.Exit(0)
}

// mirrorSignal forwards a just-completed Advance call's event onto the
// signal bus when it's one an external subscriber (a UI awaiting a human
// gate, say) would care about. Advance only ever surfaces
// UserInteractionRequested as its direct return value — the StepSignal
// events a step emits mid-run are appended internally and never returned
// here, so they have no mirroring hook at this call site. ev.Kind is nil
// when Advance returned before appending anything, e.g. on a
// KindFlowHasFailed guard.
func mirrorSignal(ctx context.Context, publisher *signalbus.Publisher, flowID string, ev event.FlowEvent) {
	if ev.Kind == nil {
		return
	}
	if req, ok := ev.Kind.(event.UserInteractionRequested); ok {
		publisher.PublishUserInteractionRequested(ctx, flowID, req)
	}
}

// redisLocker adapts lock.FlowLock's Unlock type to workerpool.Unlock: the
// two are structurally identical func(context.Context) error types but
// distinct named types, so Go's interface satisfaction needs this thin
// wrapper rather than treating FlowLock as a workerpool.Locker directly.
type redisLocker struct {
	fl *lock.FlowLock
}

func (r *redisLocker) TryLock(ctx context.Context, flowID string) (workerpool.Unlock, bool, error) {
	unlock, ok, err := r.fl.TryLock(ctx, flowID)
	if unlock == nil {
		return nil, ok, err
	}
	return func(ctx context.Context) error { return unlock(ctx) }, ok, err
}
