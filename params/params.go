// Package params implements the step parameter injection pipeline: an
// ordered merge of a base parameter set with registered injectors, caller
// overrides, and human-gate payloads, plus ${...} variable resolution in
// the style of this codebase's variable-substitution helper.
package params

import (
	"context"
	"regexp"
)

// Bag is an untyped parameter set, the unit the merge pipeline and the
// fingerprint algorithm both operate on.
type Bag map[string]any

// Injector contributes a layer of parameters derived from ctx, in
// registration order, before user overrides and the human-gate payload.
type Injector func(ctx context.Context) (Bag, error)

// runtimeDerivedKey is the reserved key under which callers list param
// names whose values are computed inside a step's Run (wall-clock,
// randomness, external state) and therefore must never influence a
// fingerprint (see INV-FP-STABLE).
const runtimeDerivedKey = "__runtime_derived__"

// mergeStrategyKey is the reserved key under which callers mark individual
// top-level fields that should be appended rather than replaced when both
// sides hold an array.
const mergeStrategyKey = "__merge_strategy__"

// Merge produces the effective parameters for a step: base, then each
// injector's contribution in order, then overrides, then the human-gate
// payload. The merge is shallow and last-writer-wins at the top level;
// arrays replace unless mergeStrategyKey marks a field "append"; nested
// objects merge recursively under the same rule.
func Merge(ctx context.Context, base Bag, injectors []Injector, overrides, humanGate Bag) (Bag, error) {
	result := cloneBag(base)

	for _, inject := range injectors {
		layer, err := inject(ctx)
		if err != nil {
			return nil, err
		}
		result = mergeLayer(result, layer)
	}

	if overrides != nil {
		result = mergeLayer(result, overrides)
	}
	if humanGate != nil {
		result = mergeLayer(result, humanGate)
	}

	return result, nil
}

func mergeLayer(dst, src Bag) Bag {
	strategies, _ := dst[mergeStrategyKey].(map[string]any)
	if incomingStrategies, ok := src[mergeStrategyKey].(map[string]any); ok {
		if strategies == nil {
			strategies = map[string]any{}
		}
		for k, v := range incomingStrategies {
			strategies[k] = v
		}
	}

	out := make(Bag, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if k == mergeStrategyKey {
			continue
		}
		if existing, ok := out[k]; ok {
			out[k] = mergeValue(k, existing, v, strategies)
		} else {
			out[k] = v
		}
	}
	if len(strategies) > 0 {
		out[mergeStrategyKey] = strategies
	}
	return out
}

func mergeValue(key string, existing, incoming any, strategies map[string]any) any {
	if existingArr, ok := existing.([]any); ok {
		incomingArr, ok2 := incoming.([]any)
		if !ok2 {
			return incoming
		}
		if strategyFor(strategies, key) == "append" {
			merged := make([]any, 0, len(existingArr)+len(incomingArr))
			merged = append(merged, existingArr...)
			merged = append(merged, incomingArr...)
			return merged
		}
		return incomingArr
	}

	if existingMap, ok := existing.(Bag); ok {
		if incomingMap, ok2 := incoming.(Bag); ok2 {
			return mergeLayer(existingMap, incomingMap)
		}
		return incoming
	}
	if existingMap, ok := existing.(map[string]any); ok {
		if incomingMap, ok2 := incoming.(map[string]any); ok2 {
			return mergeLayer(Bag(existingMap), Bag(incomingMap))
		}
		return incoming
	}

	return incoming
}

func strategyFor(strategies map[string]any, key string) string {
	if strategies == nil {
		return ""
	}
	s, _ := strategies[key].(string)
	return s
}

func cloneBag(b Bag) Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// ExcludeRuntimeDerived strips runtimeDerivedKey and every field it names
// from merged, returning the subset that is allowed to enter a fingerprint.
// Only this return value may ever feed the fingerprint computation.
func ExcludeRuntimeDerived(merged Bag) Bag {
	out := cloneBag(merged)
	delete(out, mergeStrategyKey)

	names, _ := out[runtimeDerivedKey].([]any)
	delete(out, runtimeDerivedKey)
	for _, n := range names {
		if name, ok := n.(string); ok {
			delete(out, name)
		}
	}
	return out
}

var variableRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// VariableResolver resolves a single ${...} reference body to its string
// value. ok is false when the resolver has no binding for ref.
type VariableResolver interface {
	Resolve(ref string) (string, bool)
}

// MapResolver is a VariableResolver backed by a flat map, the simplest
// binding source (e.g. a single step's recorded outputs).
type MapResolver map[string]string

func (m MapResolver) Resolve(ref string) (string, bool) {
	v, ok := m[ref]
	return v, ok
}

// ChainResolver tries each resolver in order, returning the first match.
type ChainResolver []VariableResolver

func (c ChainResolver) Resolve(ref string) (string, bool) {
	for _, r := range c {
		if v, ok := r.Resolve(ref); ok {
			return v, true
		}
	}
	return "", false
}

// ResolveVariables walks bag's string-valued fields (recursively through
// nested maps and arrays) and replaces every ${...} reference using
// resolver. References with no binding are left untouched.
func ResolveVariables(bag Bag, resolver VariableResolver) Bag {
	resolved := resolveValue(Bag(bag), resolver)
	out, _ := resolved.(Bag)
	return out
}

func resolveValue(v any, resolver VariableResolver) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, resolver)
	case Bag:
		out := make(Bag, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, resolver)
		}
		return out
	case map[string]any:
		out := make(Bag, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, resolver)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, resolver)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, resolver VariableResolver) string {
	return variableRef.ReplaceAllStringFunc(s, func(match string) string {
		ref := variableRef.FindStringSubmatch(match)[1]
		if v, ok := resolver.Resolve(ref); ok {
			return v
		}
		return match
	})
}
