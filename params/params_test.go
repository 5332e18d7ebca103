package params

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_LastWriterWinsAtTopLevel(t *testing.T) {
	base := Bag{"a": 1, "b": 2}
	injectors := []Injector{
		func(ctx context.Context) (Bag, error) { return Bag{"b": 20}, nil },
	}
	merged, err := Merge(context.Background(), base, injectors, Bag{"a": 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, merged["a"])
	assert.Equal(t, 20, merged["b"])
}

func TestMerge_InjectorOrderMatters(t *testing.T) {
	var seen []string
	injectors := []Injector{
		func(ctx context.Context) (Bag, error) { seen = append(seen, "first"); return Bag{"x": "first"}, nil },
		func(ctx context.Context) (Bag, error) { seen = append(seen, "second"); return Bag{"x": "second"}, nil },
	}
	merged, err := Merge(context.Background(), Bag{}, injectors, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, "second", merged["x"])
}

func TestMerge_ArraysReplaceByDefault(t *testing.T) {
	base := Bag{"tags": []any{"a", "b"}}
	merged, err := Merge(context.Background(), base, nil, Bag{"tags": []any{"c"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, merged["tags"])
}

func TestMerge_ArraysAppendWhenMarked(t *testing.T) {
	base := Bag{
		"tags":           []any{"a", "b"},
		mergeStrategyKey: map[string]any{"tags": "append"},
	}
	merged, err := Merge(context.Background(), base, nil, Bag{"tags": []any{"c"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, merged["tags"])
}

func TestMerge_NestedObjectsMergeRecursively(t *testing.T) {
	base := Bag{"opts": Bag{"retries": 1, "timeout": 30}}
	merged, err := Merge(context.Background(), base, nil, Bag{"opts": Bag{"retries": 5}}, nil)
	require.NoError(t, err)
	nested := merged["opts"].(Bag)
	assert.Equal(t, 5, nested["retries"])
	assert.Equal(t, 30, nested["timeout"])
}

func TestMerge_HumanGateAppliesLast(t *testing.T) {
	merged, err := Merge(context.Background(), Bag{"x": 1}, nil, Bag{"x": 2}, Bag{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, merged["x"])
}

func TestMerge_Deterministic(t *testing.T) {
	base := Bag{"a": 1}
	injectors := []Injector{func(ctx context.Context) (Bag, error) { return Bag{"b": 2}, nil }}
	m1, err := Merge(context.Background(), base, injectors, Bag{"c": 3}, nil)
	require.NoError(t, err)
	m2, err := Merge(context.Background(), base, injectors, Bag{"c": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestExcludeRuntimeDerived_StripsMarkedFields(t *testing.T) {
	merged := Bag{
		"stable":          "x",
		"started_at":      "2026-01-01T00:00:00Z",
		runtimeDerivedKey: []any{"started_at"},
		mergeStrategyKey:  map[string]any{"tags": "append"},
	}
	fingerprintable := ExcludeRuntimeDerived(merged)
	_, hasStartedAt := fingerprintable["started_at"]
	_, hasMarker := fingerprintable[runtimeDerivedKey]
	_, hasStrategy := fingerprintable[mergeStrategyKey]
	assert.False(t, hasStartedAt)
	assert.False(t, hasMarker)
	assert.False(t, hasStrategy)
	assert.Equal(t, "x", fingerprintable["stable"])
}

func TestResolveVariables_SubstitutesKnownReference(t *testing.T) {
	bag := Bag{"text": "hello ${steps.seed.output.text}"}
	resolver := MapResolver{"steps.seed.output.text": "world"}
	resolved := ResolveVariables(bag, resolver)
	assert.Equal(t, "hello world", resolved["text"])
}

func TestResolveVariables_LeavesUnknownReferenceUntouched(t *testing.T) {
	bag := Bag{"text": "hello ${unbound.ref}"}
	resolved := ResolveVariables(bag, MapResolver{})
	assert.Equal(t, "hello ${unbound.ref}", resolved["text"])
}

func TestChainResolver_TriesInOrder(t *testing.T) {
	chain := ChainResolver{
		MapResolver{},
		MapResolver{"a": "from second"},
	}
	v, ok := chain.Resolve("a")
	assert.True(t, ok)
	assert.Equal(t, "from second", v)
}

func TestResolveVariables_RecursesIntoNestedStructures(t *testing.T) {
	bag := Bag{
		"nested": Bag{"list": []any{"${x}", "plain"}},
	}
	resolved := ResolveVariables(bag, MapResolver{"x": "resolved"})
	nested := resolved["nested"].(Bag)
	list := nested["list"].([]any)
	assert.Equal(t, "resolved", list[0])
	assert.Equal(t, "plain", list[1])
}
