package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMolecule_RejectsEmptyKey(t *testing.T) {
	_, err := NewMolecule("   ", nil)
	assert.Error(t, err)
}

func TestMolecule_Equal(t *testing.T) {
	a, err := NewMolecule("CCO", map[string]any{"mw": 46.07})
	require.NoError(t, err)
	b, err := NewMolecule("CCO", nil)
	require.NoError(t, err)
	c, err := NewMolecule("CCC", nil)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestMoleculeFamily_HashIsPureFunctionOfKeyOrder(t *testing.T) {
	m1, _ := NewMolecule("A", nil)
	m2, _ := NewMolecule("B", nil)

	f1, err := NewMoleculeFamily([]Molecule{m1, m2})
	require.NoError(t, err)
	f2, err := NewMoleculeFamily([]Molecule{m1, m2})
	require.NoError(t, err)
	assert.Equal(t, f1.FamilyHash(), f2.FamilyHash())

	reordered, err := NewMoleculeFamily([]Molecule{m2, m1})
	require.NoError(t, err)
	assert.NotEqual(t, f1.FamilyHash(), reordered.FamilyHash())
}

func TestMoleculeFamily_EmptyIsStable(t *testing.T) {
	f1, err := NewMoleculeFamily(nil)
	require.NoError(t, err)
	f2, err := NewMoleculeFamily([]Molecule{})
	require.NoError(t, err)
	assert.Equal(t, f1.FamilyHash(), f2.FamilyHash())
}

func TestMoleculeFamily_WithAppendedDoesNotMutateReceiver(t *testing.T) {
	m1, _ := NewMolecule("A", nil)
	m2, _ := NewMolecule("B", nil)

	base, err := NewMoleculeFamily([]Molecule{m1})
	require.NoError(t, err)
	originalHash := base.FamilyHash()

	extended, err := base.WithAppended(m2)
	require.NoError(t, err)

	assert.Equal(t, originalHash, base.FamilyHash())
	assert.NotEqual(t, base.FamilyHash(), extended.FamilyHash())
	assert.Len(t, extended.Members(), 2)
	assert.Len(t, base.Members(), 1)
}

func TestMolecularProperty_WithValueRecomputesHash(t *testing.T) {
	p, err := NewMolecularProperty("CCO", "logp", -0.31, nil, false, 0.9)
	require.NoError(t, err)

	changed, err := p.WithValue(-0.5)
	require.NoError(t, err)

	assert.NotEqual(t, p.ValueHash(), changed.ValueHash())
	assert.Equal(t, -0.31, p.Value())
}

func TestMolecularProperty_SameInputsSameHash(t *testing.T) {
	p1, err := NewMolecularProperty("CCO", "logp", -0.31, map[string]any{"source": "rdkit"}, true, 0.9)
	require.NoError(t, err)
	p2, err := NewMolecularProperty("CCO", "logp", -0.31, map[string]any{"source": "rdkit"}, true, 0.9)
	require.NoError(t, err)
	assert.Equal(t, p1.ValueHash(), p2.ValueHash())
}

func TestFamilyProperty_ScopedToFamilyHash(t *testing.T) {
	m1, _ := NewMolecule("A", nil)
	fam, err := NewMoleculeFamily([]Molecule{m1})
	require.NoError(t, err)

	fp, err := NewFamilyProperty(fam.FamilyHash(), "mean_logp", 1.2, nil, false, 1.0)
	require.NoError(t, err)
	assert.Equal(t, fam.FamilyHash(), fp.IdentityRef())
}
