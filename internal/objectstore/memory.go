package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parrot-audio/voice-service/internal/core"
)

// Memory is a deterministic in-memory ObjectStore for tests and local
// development. Signed URLs are synthetic but stable.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Upload stores a copy of data under key.
func (m *Memory) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = stored

	return nil
}

// Download returns the blob stored under key.
func (m *Memory) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %q does not exist", core.ErrUpstream, key)
	}

	returned := make([]byte, len(data))
	copy(returned, data)

	return returned, nil
}

// Delete removes the blob stored under key, if present.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// SignedUploadURL returns a synthetic upload URL for key.
func (m *Memory) SignedUploadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://upload/" + key, nil
}

// SignedDownloadURL returns a synthetic download URL for key.
func (m *Memory) SignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://download/" + key, nil
}

// Exists reports whether a blob is stored under key.
func (m *Memory) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.objects[key]

	return ok
}
