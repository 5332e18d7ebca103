package domain

import (
	"bytes"
	"strconv"

	"flowengine.evalgo.org/canonhash"
)

// MolecularProperty is an immutable, per-molecule typed value. Any change
// yields a new value_hash (INV-PROP-IMMUT); there is no in-place mutation.
type MolecularProperty struct {
	identityRef string
	kind        string
	value       any
	metadata    map[string]any
	preferred   bool
	quality     float64
	valueHash   string
}

// NewMolecularProperty constructs a property scoped to a molecule key.
func NewMolecularProperty(moleculeKey, kind string, value any, metadata map[string]any, preferred bool, quality float64) (MolecularProperty, error) {
	hash, err := valueHash(moleculeKey, kind, value, metadata, preferred, quality)
	if err != nil {
		return MolecularProperty{}, err
	}
	return MolecularProperty{
		identityRef: moleculeKey,
		kind:        kind,
		value:       value,
		metadata:    metadata,
		preferred:   preferred,
		quality:     quality,
		valueHash:   hash,
	}, nil
}

func (p MolecularProperty) IdentityRef() string      { return p.identityRef }
func (p MolecularProperty) Kind() string             { return p.kind }
func (p MolecularProperty) Value() any               { return p.value }
func (p MolecularProperty) Metadata() map[string]any { return p.metadata }
func (p MolecularProperty) Preferred() bool          { return p.preferred }
func (p MolecularProperty) Quality() float64         { return p.quality }
func (p MolecularProperty) ValueHash() string        { return p.valueHash }

// WithValue returns a new property with value replaced, recomputing the hash.
func (p MolecularProperty) WithValue(value any) (MolecularProperty, error) {
	return NewMolecularProperty(p.identityRef, p.kind, value, p.metadata, p.preferred, p.quality)
}

// WithPreferred returns a new property with its preferred flag replaced.
func (p MolecularProperty) WithPreferred(preferred bool) (MolecularProperty, error) {
	return NewMolecularProperty(p.identityRef, p.kind, p.value, p.metadata, preferred, p.quality)
}

// FamilyProperty is the per-family counterpart of MolecularProperty: its
// identity_ref is a family_hash rather than a molecule key.
type FamilyProperty struct {
	identityRef string
	kind        string
	value       any
	metadata    map[string]any
	preferred   bool
	quality     float64
	valueHash   string
}

// NewFamilyProperty constructs a property scoped to a family hash.
func NewFamilyProperty(familyHash, kind string, value any, metadata map[string]any, preferred bool, quality float64) (FamilyProperty, error) {
	hash, err := valueHash(familyHash, kind, value, metadata, preferred, quality)
	if err != nil {
		return FamilyProperty{}, err
	}
	return FamilyProperty{
		identityRef: familyHash,
		kind:        kind,
		value:       value,
		metadata:    metadata,
		preferred:   preferred,
		quality:     quality,
		valueHash:   hash,
	}, nil
}

func (p FamilyProperty) IdentityRef() string      { return p.identityRef }
func (p FamilyProperty) Kind() string             { return p.kind }
func (p FamilyProperty) Value() any               { return p.value }
func (p FamilyProperty) Metadata() map[string]any { return p.metadata }
func (p FamilyProperty) Preferred() bool          { return p.preferred }
func (p FamilyProperty) Quality() float64         { return p.quality }
func (p FamilyProperty) ValueHash() string        { return p.valueHash }

// WithValue returns a new family property with value replaced, recomputing
// the hash.
func (p FamilyProperty) WithValue(value any) (FamilyProperty, error) {
	return NewFamilyProperty(p.identityRef, p.kind, value, p.metadata, p.preferred, p.quality)
}

// valueHash computes content_hash(identity_ref || property_kind ||
// canonical_json(value) || canonical_json(metadata) || preferred_flag ||
// quality), with a null-byte separator between fields to avoid boundary
// ambiguity between adjacent segments.
func valueHash(identityRef, kind string, value any, metadata map[string]any, preferred bool, quality float64) (string, error) {
	valueJSON, err := canonhash.CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	metaJSON, err := canonhash.CanonicalJSON(metadata)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(identityRef)
	buf.WriteByte(0)
	buf.WriteString(kind)
	buf.WriteByte(0)
	buf.Write(valueJSON)
	buf.WriteByte(0)
	buf.Write(metaJSON)
	buf.WriteByte(0)
	buf.WriteString(strconv.FormatBool(preferred))
	buf.WriteByte(0)
	buf.WriteString(strconv.FormatFloat(quality, 'g', -1, 64))

	return canonhash.ContentHash(buf.Bytes()), nil
}
