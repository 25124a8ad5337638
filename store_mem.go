package dynts

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemStore is a transient in-memory Store, intended for tests and the CLI.
// Records are copied in both directions.
type MemStore struct {
	mu        sync.RWMutex
	records   map[Key]Record
	manifests map[string][]byte
	closed    bool
}

var (
	_ ManifestStore = (*MemStore)(nil)
	_ Lister        = (*MemStore)(nil)
)

func NewMemStore() *MemStore {
	return &MemStore{
		records:   make(map[Key]Record),
		manifests: make(map[string][]byte),
	}
}

func (s *MemStore) Get(ctx context.Context, primaryKey, secondaryKey string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, fmt.Errorf("storage closed")
	}
	rec, ok := s.records[Key{primaryKey, secondaryKey}]
	if !ok {
		return Record{}, fmt.Errorf("%s/%s: %w", primaryKey, secondaryKey, ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *MemStore) Put(ctx context.Context, primaryKey, secondaryKey string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	s.records[Key{primaryKey, secondaryKey}] = cloneRecord(rec)
	return nil
}

func (s *MemStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("storage closed")
	}
	keys := make([]Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.SortFunc(keys, func(a, b Key) int {
		if c := cmp.Compare(a.Primary, b.Primary); c != 0 {
			return c
		}
		return cmp.Compare(a.Secondary, b.Secondary)
	})
	return keys, nil
}

func (s *MemStore) GetManifest(ctx context.Context, hypertable string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	data, ok := s.manifests[hypertable]
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", hypertable, ErrNotFound)
	}
	return bytes.Clone(data), nil
}

func (s *MemStore) PutManifest(ctx context.Context, hypertable string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	s.manifests[hypertable] = bytes.Clone(data)
	return nil
}

// Len returns the number of chunk records, zero once closed.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	s.manifests = nil
	return nil
}

func cloneRecord(rec Record) Record {
	return Record{Sizes: bytes.Clone(rec.Sizes), Data: bytes.Clone(rec.Data)}
}
