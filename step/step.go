// Package step defines the untyped step contract the engine drives, a
// typed builder layer for compile-time-checked pipelines, and a capability
// registry analogous to this codebase's executor registry.
package step

import (
	"context"
	"fmt"
	"sync"

	"flowengine.evalgo.org/artifact"
	"flowengine.evalgo.org/params"
	"flowengine.evalgo.org/retry"
)

// Kind classifies a step's position in a flow.
type Kind string

const (
	Source    Kind = "source"
	Transform Kind = "transform"
	Sink      Kind = "sink"
	Check     Kind = "check"
)

// RunContext is the input a step's Run receives: the prior step's output
// artifact (nil for Source steps) and the fully merged parameters.
type RunContext struct {
	Input  *artifact.Artifact
	Params params.Bag
}

// Outcome discriminates the three shapes a RunResult may take.
type Outcome int

const (
	Success Outcome = iota
	SuccessWithSignals
	Failure
)

// Signal is an observational (name, data) pair a step may emit alongside
// its outputs; signals never alter engine state.
type Signal struct {
	Name string
	Data any
}

// RunResult is the result of invoking a step. Outputs is populated for
// Success and SuccessWithSignals; Err is populated for Failure.
type RunResult struct {
	Outcome Outcome
	Outputs []artifact.Artifact
	Signals []Signal
	Err     *retry.StepError
}

// Step is the untyped capability contract the engine drives directly.
type Step interface {
	ID() string
	Kind() Kind
	RequiredInputKind() string
	ParamsDefault() params.Bag
	Run(ctx context.Context, rc RunContext) RunResult
}

// Typed wraps a Step with phantom input/output artifact type parameters so
// pipelines can be assembled with compile-time-checked chaining via Start
// and Extend, even though the underlying step still honors the untyped
// contract.
type Typed[In, Out any] struct {
	Step
}

// NewTyped tags an existing Step with its declared input/output types.
func NewTyped[In, Out any](s Step) Typed[In, Out] {
	return Typed[In, Out]{Step: s}
}

// Chain is an ordered, type-checked pipeline of steps. Out is the artifact
// type its last step produces.
type Chain[Out any] struct {
	steps []Step
}

// Start begins a chain with a Source step.
func Start[Out any](first Typed[struct{}, Out]) *Chain[Out] {
	return &Chain[Out]{steps: []Step{first.Step}}
}

// Extend appends next to the chain. The compiler enforces that next's
// declared input type matches the chain's current output type, since both
// are bound to the same Out type parameter at the call site.
func Extend[Out, Next any](c *Chain[Out], next Typed[Out, Next]) *Chain[Next] {
	steps := make([]Step, len(c.steps)+1)
	copy(steps, c.steps)
	steps[len(c.steps)] = next.Step
	return &Chain[Next]{steps: steps}
}

// Steps returns the chain's untyped step sequence, ready for
// engine.NewBuilder to assemble into a flow definition.
func (c *Chain[Out]) Steps() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Capable is optionally implemented by a Step to customize registry
// matching beyond the default Kind+RequiredInputKind equality check.
type Capable interface {
	CanHandle(kind Kind, inputKind string) bool
}

// Registry selects a step implementation by declared capability rather
// than static wiring, for callers assembling definitions dynamically —
// analogous to this codebase's executor registry.
type Registry struct {
	mu    sync.RWMutex
	steps []Step
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s to the registry.
func (r *Registry) Register(s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

// Resolve returns the first registered step matching kind and
// inputKind, either via its Capable.CanHandle override or the default
// Kind()+RequiredInputKind() equality check.
func (r *Registry) Resolve(kind Kind, inputKind string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.steps {
		if capable, ok := s.(Capable); ok {
			if capable.CanHandle(kind, inputKind) {
				return s, true
			}
			continue
		}
		if s.Kind() == kind && s.RequiredInputKind() == inputKind {
			return s, true
		}
	}
	return nil, false
}

// ByID returns the registered step with the given id.
func (r *Registry) ByID(id string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.steps {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// ErrNoMatchingStep is returned by Resolve-dependent callers that require a
// match and found none.
func ErrNoMatchingStep(kind Kind, inputKind string) error {
	return fmt.Errorf("step: no registered step for kind=%s input_kind=%s", kind, inputKind)
}
