package docstore

import (
	"context"
	"sync"

	"github.com/mindloom/mindloom/internal/docname"
)

type memoryKey struct {
	id   string
	kind docname.Kind
}

type memoryRow struct {
	state    []byte
	snapshot []byte
}

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memoryKey]memoryRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]memoryRow)}
}

func (s *MemoryStore) Upsert(_ context.Context, ref docname.Ref, state, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := memoryRow{
		state:    append([]byte(nil), state...),
		snapshot: append([]byte(nil), snapshot...),
	}
	s.rows[memoryKey{id: ref.PublicID, kind: ref.Kind}] = row
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, ref docname.Ref) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[memoryKey{id: ref.PublicID, kind: ref.Kind}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), row.state...), nil
}

func (s *MemoryStore) Snapshot(_ context.Context, ref docname.Ref) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[memoryKey{id: ref.PublicID, kind: ref.Kind}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), row.snapshot...), nil
}

func (s *MemoryStore) Close() error { return nil }
