package files

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	apierrors "bfintake/internal/errors"
	"bfintake/pkg/contracts/domain"
)

type memEntry struct {
	data []byte
	obj  Object
}

// MemoryStore keeps every entry in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.Stage]map[string]memEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[domain.Stage]map[string]memEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, stage domain.Stage, key string, r io.Reader) (Object, error) {
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, apierrors.NewStorageError("failed to read content", err)
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	obj := Object{Key: key, Size: int64(len(data)), CreatedAt: s.now().UTC(), Checksum: Checksum(data)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[stage] == nil {
		s.entries[stage] = make(map[string]memEntry)
	}
	s.entries[stage][key] = memEntry{data: data, obj: obj}
	return obj, nil
}

func (s *MemoryStore) Open(_ context.Context, stage domain.Stage, key string) (io.ReadCloser, Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[stage][key]
	if !ok {
		return nil, Object{}, notFound(stage, key)
	}
	return io.NopCloser(bytes.NewReader(e.data)), e.obj, nil
}

func (s *MemoryStore) List(_ context.Context, stage domain.Stage) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0, len(s.entries[stage]))
	for _, e := range s.entries[stage] {
		out = append(out, e.obj)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, stage domain.Stage, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[stage][key]; !ok {
		return notFound(stage, key)
	}
	delete(s.entries[stage], key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
