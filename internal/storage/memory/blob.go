package memory

import (
	"context"
	"sync"
)

// BlobStore keeps raw page bodies in memory. Used by tests and the memory
// storage provider.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject implements crawler.BlobStore.
func (b *BlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[path] = cp
	return "mem://" + path, nil
}

// GetObject returns a stored object for assertions in tests.
func (b *BlobStore) GetObject(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return data, ok
}

// Len reports how many objects are stored.
func (b *BlobStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
