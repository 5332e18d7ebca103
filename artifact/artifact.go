// Package artifact implements the neutral, content-addressed transport
// envelope steps use to pass data between each other, and the store that
// deduplicates artifacts by hash.
package artifact

import (
	"context"
	"fmt"
	"sync"

	"flowengine.evalgo.org/canonhash"
)

// Artifact is the neutral envelope passed between steps. Hash is computed
// from Payload alone; Metadata never contributes to it (INV-ART-HASH).
type Artifact struct {
	Kind     string         `json:"kind"`
	Hash     string         `json:"hash"`
	Payload  any            `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// New builds an artifact, computing its content hash from payload.
func New(kind string, payload any, metadata map[string]any) (Artifact, error) {
	canonical, err := canonhash.CanonicalJSON(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: canonicalize payload: %w", err)
	}
	return Artifact{
		Kind:     kind,
		Hash:     canonhash.ContentHash(canonical),
		Payload:  payload,
		Metadata: metadata,
	}, nil
}

// Verify checks INV-ART-HASH: the artifact's hash must equal
// content_hash(canonical_json(payload)).
func (a Artifact) Verify() error {
	canonical, err := canonhash.CanonicalJSON(a.Payload)
	if err != nil {
		return fmt.Errorf("artifact: canonicalize payload: %w", err)
	}
	want := canonhash.ContentHash(canonical)
	if want != a.Hash {
		return fmt.Errorf("artifact: hash mismatch: have %s, want %s", a.Hash, want)
	}
	return nil
}

// Store resolves artifacts by content hash and deduplicates on insert.
type Store interface {
	Put(ctx context.Context, a Artifact) error
	Get(ctx context.Context, hash string) (Artifact, bool, error)
}

// MemoryStore is an in-process, mutex-guarded artifact store. Put is
// idempotent on hash: re-inserting the same content is a no-op.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]Artifact
}

// NewMemoryStore constructs an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]Artifact)}
}

func (s *MemoryStore) Put(ctx context.Context, a Artifact) error {
	if err := a.Verify(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[a.Hash]; exists {
		return nil
	}
	s.byHash[a.Hash] = a
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, hash string) (Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byHash[hash]
	return a, ok, nil
}
