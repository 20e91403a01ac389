package memory

import (
	"context"
	"sync"

	"tvlink/internal/core/domain"
	"tvlink/internal/core/ports"
)

type MemoryCandidateStore struct {
	devices map[domain.CandidateID]*domain.Candidate
	mu      sync.RWMutex
}

func NewMemoryCandidateStore() ports.CandidateStore {
	return &MemoryCandidateStore{
		devices: make(map[domain.CandidateID]*domain.Candidate),
	}
}

func (r *MemoryCandidateStore) Save(ctx context.Context, c *domain.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *c
	r.devices[c.ID] = &copied
	return nil
}

func (r *MemoryCandidateStore) List(ctx context.Context) ([]*domain.Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Candidate, 0, len(r.devices))
	for _, c := range r.devices {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (r *MemoryCandidateStore) Remove(ctx context.Context, id domain.CandidateID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.devices, id)
	return nil
}
