package storage

import "sync"

// MemStore is an in-memory KV for tests and single-process tooling.
// Batches stage writes in a private map and apply them under the store lock,
// giving the same atomic-commit semantics as Pebble batches.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (s *MemStore) Set(key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(val))
	copy(cp, val)
	s.data[string(key)] = cp
	return nil
}

func (s *MemStore) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[string(key)]
	return ok, nil
}

func (s *MemStore) NewBatch() Batch {
	return &memBatch{store: s, staged: make(map[string][]byte)}
}

func (s *MemStore) Close() error { return nil }

type memBatch struct {
	store  *MemStore
	staged map[string][]byte
}

func (b *memBatch) Set(key, val []byte) error {
	cp := make([]byte, len(val))
	copy(cp, val)
	b.staged[string(key)] = cp
	return nil
}

func (b *memBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for k, v := range b.staged {
		b.store.data[k] = v
	}
	return nil
}

func (b *memBatch) Close() error {
	b.staged = nil
	return nil
}

var _ KV = (*MemStore)(nil)
