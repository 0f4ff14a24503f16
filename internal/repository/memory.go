package repository

import (
	"context"
	"sync"

	"github.com/m2tx/transformers_agent/internal/model"
)

// MemorySessionRepository implements SessionRepository with an in-process
// map. Used when no MongoDB is configured, and in tests.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string][]model.Content
}

// NewMemorySessionRepository creates a new MemorySessionRepository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string][]model.Content),
	}
}

func (r *MemorySessionRepository) Save(ctx context.Context, sessionID string, history []model.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]model.Content, len(history))
	copy(stored, history)
	r.sessions[sessionID] = stored

	return nil
}

func (r *MemorySessionRepository) Load(ctx context.Context, sessionID string) ([]model.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	history := make([]model.Content, len(stored))
	copy(history, stored)

	return history, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)

	return nil
}

var _ SessionRepository = (*MemorySessionRepository)(nil)
