package engine

import (
	"context"
	"sync"

	"flowengine.evalgo.org/artifact"
	"flowengine.evalgo.org/event"
	"flowengine.evalgo.org/eventstore"
)

// AppendOptions carries the side-effects an Append call may need to persist
// atomically alongside the event itself: the artifacts a StepFinished
// produced, or the attempt number a StepFailed is recorded at. It is
// exported (rather than a private struct behind opaque functional options)
// specifically so Adapter implementations in other packages — notably the
// durable persistence package — can resolve an Append call's options
// themselves via ResolveAppendOptions.
type AppendOptions struct {
	Artifacts     []artifact.Artifact
	AttemptNumber int
}

// AppendOption configures an Adapter.Append call.
type AppendOption func(*AppendOptions)

// WithArtifacts attaches the output artifacts a StepFinished event should
// persist in the same unit of work as the event append.
func WithArtifacts(artifacts []artifact.Artifact) AppendOption {
	return func(o *AppendOptions) { o.Artifacts = artifacts }
}

// WithAttemptNumber records the 1-based attempt count a StepFailed event
// belongs to, for adapters that keep a durable error table.
func WithAttemptNumber(n int) AppendOption {
	return func(o *AppendOptions) { o.AttemptNumber = n }
}

// ResolveAppendOptions applies opts in order and returns the resulting
// options value. Adapter implementations outside this package use this
// instead of constructing AppendOptions by hand.
func ResolveAppendOptions(opts ...AppendOption) AppendOptions {
	var o AppendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Adapter is the persistence seam the engine drives. It composes an event
// log with an artifact store behind a single Append call so a durable
// implementation can commit both within one transaction; an in-memory
// implementation can simply do both in sequence since it has no need for
// cross-table atomicity.
type Adapter interface {
	Append(ctx context.Context, flowID string, kind event.FlowEventKind, opts ...AppendOption) (event.FlowEvent, error)
	List(ctx context.Context, flowID string) ([]event.FlowEvent, error)
	GetArtifact(ctx context.Context, hash string) (artifact.Artifact, bool, error)
}

// BranchLookup is optionally implemented by an Adapter to resolve the root
// flow id a given flow ultimately branched from. When an adapter doesn't
// implement it, Branch treats the flow being branched from as its own root
// — correct for a single level of branching, and the same simplification
// this codebase's in-memory stores make elsewhere rather than requiring a
// full side table for a case most callers never exercise.
type BranchLookup interface {
	RootFlowID(ctx context.Context, flowID string) (string, bool, error)
}

// MemoryAdapter adapts an in-memory event store and artifact store to the
// Adapter contract. It also tracks branch lineage locally so Branch can
// resolve a multi-level root without a durable workflow_branches table.
type MemoryAdapter struct {
	Events    eventstore.Store
	Artifacts artifact.Store

	mu    sync.Mutex
	roots map[string]string // branch flow id -> root flow id
}

// NewMemoryAdapter builds an Adapter over fresh in-memory event and
// artifact stores.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		Events:    eventstore.NewMemoryStore(),
		Artifacts: artifact.NewMemoryStore(),
		roots:     make(map[string]string),
	}
}

func (a *MemoryAdapter) Append(ctx context.Context, flowID string, kind event.FlowEventKind, opts ...AppendOption) (event.FlowEvent, error) {
	o := ResolveAppendOptions(opts...)

	for _, art := range o.Artifacts {
		if err := a.Artifacts.Put(ctx, art); err != nil {
			return event.FlowEvent{}, wrapError(KindInternal, "persist artifact", err)
		}
	}

	if bc, ok := kind.(event.BranchCreated); ok {
		a.mu.Lock()
		a.roots[bc.BranchID] = bc.RootFlowID
		a.mu.Unlock()
	}

	ev, err := a.Events.Append(ctx, flowID, kind)
	if err != nil {
		return event.FlowEvent{}, wrapError(KindInternal, "append event", err)
	}
	return ev, nil
}

func (a *MemoryAdapter) List(ctx context.Context, flowID string) ([]event.FlowEvent, error) {
	events, err := a.Events.List(ctx, flowID)
	if err != nil {
		return nil, wrapError(KindInternal, "list events", err)
	}
	return events, nil
}

func (a *MemoryAdapter) GetArtifact(ctx context.Context, hash string) (artifact.Artifact, bool, error) {
	art, ok, err := a.Artifacts.Get(ctx, hash)
	if err != nil {
		return artifact.Artifact{}, false, wrapError(KindInternal, "load artifact", err)
	}
	return art, ok, nil
}

func (a *MemoryAdapter) RootFlowID(ctx context.Context, flowID string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	root, ok := a.roots[flowID]
	return root, ok, nil
}
