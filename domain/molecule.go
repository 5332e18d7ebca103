// Package domain models the identity and property primitives the flow
// engine operates over: molecules, frozen families of molecules, and the
// immutable typed properties attached to either. These types carry no
// behavior beyond construction and hash-recomputing "with" methods — all
// domain logic lives in the steps that produce and consume them.
package domain

import (
	"fmt"
	"strings"

	"flowengine.evalgo.org/canonhash"
)

// Molecule is an identity token: a normalized canonical key (e.g. a
// canonical SMILES string or InChIKey) plus optional structural
// descriptors. Two molecules compare equal iff their keys are equal.
// Molecules are immutable and never destroyed once constructed.
type Molecule struct {
	key         string
	descriptors map[string]any
}

// NewMolecule constructs a Molecule from a normalized key. key must be
// non-empty; it is the caller's responsibility to have already normalized
// it (e.g. via canonical SMILES generation) since this package has no
// chemistry of its own.
func NewMolecule(key string, descriptors map[string]any) (Molecule, error) {
	if strings.TrimSpace(key) == "" {
		return Molecule{}, fmt.Errorf("domain: molecule key must be non-empty")
	}
	return Molecule{key: key, descriptors: descriptors}, nil
}

// Key returns the molecule's normalized canonical identifier.
func (m Molecule) Key() string { return m.key }

// Descriptors returns the molecule's optional structural descriptors.
func (m Molecule) Descriptors() map[string]any { return m.descriptors }

// Equal reports whether two molecules share the same key.
func (m Molecule) Equal(other Molecule) bool { return m.key == other.key }

// MoleculeFamily is an ordered, frozen collection of molecules. Its
// family_hash is a pure function of the ordered key sequence (INV-FAMILY):
// any two families built from the same ordered keys hash identically
// regardless of descriptor content.
type MoleculeFamily struct {
	members    []Molecule
	familyHash string
}

// NewMoleculeFamily builds a family from an ordered sequence of members,
// computing its family_hash once at construction.
func NewMoleculeFamily(members []Molecule) (MoleculeFamily, error) {
	hash, err := familyHash(members)
	if err != nil {
		return MoleculeFamily{}, err
	}
	frozen := make([]Molecule, len(members))
	copy(frozen, members)
	return MoleculeFamily{members: frozen, familyHash: hash}, nil
}

// FamilyHash returns the family's content hash.
func (f MoleculeFamily) FamilyHash() string { return f.familyHash }

// Members returns the family's ordered molecules. The returned slice is a
// copy; mutating it has no effect on the family.
func (f MoleculeFamily) Members() []Molecule {
	out := make([]Molecule, len(f.members))
	copy(out, f.members)
	return out
}

// WithAppended returns a new family with m appended, recomputing the hash.
// The receiver is left untouched (INV-FAMILY: frozen from creation).
func (f MoleculeFamily) WithAppended(m Molecule) (MoleculeFamily, error) {
	next := make([]Molecule, len(f.members)+1)
	copy(next, f.members)
	next[len(f.members)] = m
	return NewMoleculeFamily(next)
}

func familyHash(members []Molecule) (string, error) {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = m.key
	}
	return canonhash.HashValue(keys)
}
