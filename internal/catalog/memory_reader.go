package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryReader serves the catalog from process memory (memory storage driver).
type MemoryReader struct {
	mu       sync.RWMutex
	services map[uuid.UUID]Service
}

func NewMemoryReader(services ...Service) *MemoryReader {
	r := &MemoryReader{services: make(map[uuid.UUID]Service)}
	for _, s := range services {
		r.services[s.ID] = s
	}
	return r
}

func (r *MemoryReader) Put(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

func (r *MemoryReader) GetServices(_ context.Context, ids []uuid.UUID) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ordered(ids, r.services)
}
