package eventstore

import (
	"context"
	"sync"
	"time"

	"flowengine.evalgo.org/event"
)

// MemoryStore is the in-memory event log: a map from flow id to an ordered
// sequence, with a process-wide monotonic counter guarded by a mutex.
type MemoryStore struct {
	mu     sync.Mutex
	seq    uint64
	events map[string][]event.FlowEvent
}

// NewMemoryStore constructs an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]event.FlowEvent)}
}

func (s *MemoryStore) Append(ctx context.Context, flowID string, kind event.FlowEventKind) (event.FlowEvent, error) {
	if !event.IsValidKind(kind.Discriminant()) {
		return event.FlowEvent{}, &Error{Kind: Integrity, Message: "unknown event kind discriminant"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ev := event.FlowEvent{
		Seq:    s.seq,
		FlowID: flowID,
		Ts:     time.Now(),
		Kind:   kind,
	}
	s.events[flowID] = append(s.events[flowID], ev)
	return ev, nil
}

func (s *MemoryStore) List(ctx context.Context, flowID string) ([]event.FlowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.events[flowID]
	out := make([]event.FlowEvent, len(src))
	copy(out, src)
	return out, nil
}
