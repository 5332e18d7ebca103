package engine

import (
	"fmt"

	"flowengine.evalgo.org/replay"
	"flowengine.evalgo.org/step"
)

// Definition is an ordered, validated list of steps a flow executes. It is
// immutable once Build succeeds.
type Definition struct {
	steps []step.Step
}

// Builder assembles a Definition the way this codebase's other fluent
// builders work: FirstStep then a chain of AddStep calls, validated once at
// Build.
type Builder struct {
	steps []step.Step
}

// NewBuilder starts an empty definition builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// FirstStep sets the definition's first step. It is equivalent to AddStep
// but reads better at the call site for the step INV-FIRST-SRC requires to
// be a Source step.
func (b *Builder) FirstStep(s step.Step) *Builder {
	b.steps = append(b.steps, s)
	return b
}

// AddStep appends the next step in sequence.
func (b *Builder) AddStep(s step.Step) *Builder {
	b.steps = append(b.steps, s)
	return b
}

// Build validates the accumulated steps and returns an immutable
// Definition: at least one step, a Source first step, and unique step ids.
func (b *Builder) Build() (*Definition, error) {
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("engine: definition must have at least one step")
	}
	if b.steps[0].Kind() != step.Source {
		return nil, newError(KindFirstStepMustBeSource, fmt.Sprintf("first step %q is %s, not source", b.steps[0].ID(), b.steps[0].Kind()))
	}

	seen := make(map[string]bool, len(b.steps))
	for _, s := range b.steps {
		if seen[s.ID()] {
			return nil, fmt.Errorf("engine: duplicate step id %q in definition", s.ID())
		}
		seen[s.ID()] = true
	}

	steps := make([]step.Step, len(b.steps))
	copy(steps, b.steps)
	return &Definition{steps: steps}, nil
}

// Steps returns the definition's ordered step sequence.
func (d *Definition) Steps() []step.Step {
	out := make([]step.Step, len(d.steps))
	copy(out, d.steps)
	return out
}

// StepIDs returns the ordered step ids, the shape replay.FlowDefinition
// hashes over.
func (d *Definition) StepIDs() []string {
	ids := make([]string, len(d.steps))
	for i, s := range d.steps {
		ids[i] = s.ID()
	}
	return ids
}

// StepByID returns the step registered under id, if any.
func (d *Definition) StepByID(id string) (step.Step, bool) {
	for _, s := range d.steps {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// IndexOf returns id's position in the definition.
func (d *Definition) IndexOf(id string) (int, bool) {
	for i, s := range d.steps {
		if s.ID() == id {
			return i, true
		}
	}
	return 0, false
}

func (d *Definition) replayDefinition() replay.FlowDefinition {
	return replay.FlowDefinition{StepIDs: d.StepIDs()}
}

// DefinitionHash is the content hash replay folds FlowInitialized against
// and every step fingerprint commits to.
func (d *Definition) DefinitionHash() (string, error) {
	return d.replayDefinition().DefinitionHash()
}
