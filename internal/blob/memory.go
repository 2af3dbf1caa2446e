package blob

import (
	"context"
	"sync"
)

// MemoryBackend keeps objects in a map. Used by tests and local runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (b *MemoryBackend) Write(ctx context.Context, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; exists {
		return ErrObjectExists
	}
	b.objects[key] = append([]byte(nil), body...)
	return nil
}

func (b *MemoryBackend) Read(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	body, ok := b.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), body...), nil
}
